package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mgriffin/drawdash/internal/events"
	"github.com/mgriffin/drawdash/internal/models"
)

func newTestConnection(cm *ConnectionManager, gameID uuid.UUID, userID string) *Connection {
	c := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		GameID:      gameID,
		Send:        make(chan []byte, 16),
		Manager:     cm,
		ConnectedAt: time.Now(),
	}
	cm.registerConnection(c)
	return c
}

func TestPresenceDeduplicatesAndSorts(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	gameID := uuid.New()

	newTestConnection(cm, gameID, "bob")
	newTestConnection(cm, gameID, "alice")
	newTestConnection(cm, gameID, "alice") // second tab, same user
	newTestConnection(cm, uuid.New(), "carol")

	got := cm.Presence(gameID)
	want := []string{"alice", "bob"}
	if len(got) != len(want) {
		t.Fatalf("Presence() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Presence()[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if got := cm.Presence(uuid.New()); got != nil {
		t.Errorf("Presence(unknown) = %v, want nil", got)
	}
}

func TestUnregisterCleansUpEmptyPools(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	gameID := uuid.New()
	conn := newTestConnection(cm, gameID, "alice")

	if got := len(cm.ActiveGames()); got != 1 {
		t.Fatalf("active games = %d, want 1", got)
	}

	cm.unregisterConnection(conn)
	if got := len(cm.ActiveGames()); got != 0 {
		t.Errorf("active games after unregister = %d, want 0", got)
	}
	if _, ok := <-conn.Send; ok {
		t.Error("unregister must close the send channel")
	}

	// A second unregister of the same connection is a no-op.
	cm.unregisterConnection(conn)
}

func TestHandleBroadcastDeliversToGameConnections(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	gameID := uuid.New()
	alice := newTestConnection(cm, gameID, "alice")
	bob := newTestConnection(cm, gameID, "bob")
	stranger := newTestConnection(cm, uuid.New(), "carol")

	ev, err := events.New(events.TypePhaseChanged, gameID.String(), "", events.PhaseChangedPayload{
		PreviousPhase: models.PhaseWaiting,
		NewPhase:      models.PhaseBriefing,
	})
	if err != nil {
		t.Fatal(err)
	}

	cm.handleBroadcast(BroadcastMessage{GameID: gameID, Event: &ev})

	for _, conn := range []*Connection{alice, bob} {
		select {
		case raw := <-conn.Send:
			var got events.Event
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatal(err)
			}
			if got.Type != events.TypePhaseChanged {
				t.Errorf("delivered type = %s, want phase_changed", got.Type)
			}
		default:
			t.Errorf("connection %s received nothing", conn.UserID)
		}
	}
	select {
	case <-stranger.Send:
		t.Error("a connection to another game must not receive the event")
	default:
	}
}

func TestHandleBroadcastUserFilter(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	gameID := uuid.New()
	alice := newTestConnection(cm, gameID, "alice")
	bob := newTestConnection(cm, gameID, "bob")

	ev, err := events.New(events.TypePlayerReady, gameID.String(), "alice", events.PlayerReadyPayload{IsReady: true})
	if err != nil {
		t.Fatal(err)
	}
	cm.handleBroadcast(BroadcastMessage{GameID: gameID, Event: &ev, UserID: "alice"})

	select {
	case <-alice.Send:
	default:
		t.Error("targeted user received nothing")
	}
	select {
	case <-bob.Send:
		t.Error("user filter leaked the event to another user")
	default:
	}
}

func TestGetConnectionStats(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	gameID := uuid.New()
	newTestConnection(cm, gameID, "alice")
	newTestConnection(cm, gameID, "bob")

	stats := cm.GetConnectionStats()
	if got := stats["total_connections"]; got != 2 {
		t.Errorf("total_connections = %v, want 2", got)
	}
	if got := stats["active_games"]; got != 1 {
		t.Errorf("active_games = %v, want 1", got)
	}
}

type staticGameFetcher struct {
	game *models.Game
}

func (f *staticGameFetcher) GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error) {
	return f.game, nil
}

func TestTimerSyncBroadcastsRemainingTime(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	gameID := uuid.New()
	conn := newTestConnection(cm, gameID, "alice")

	fc := clockwork.NewFakeClock()
	expires := fc.Now().Add(42 * time.Second)
	fetcher := &staticGameFetcher{game: &models.Game{
		ID:             gameID,
		Phase:          models.PhaseDrawing,
		PhaseExpiresAt: &expires,
		Durations:      models.PhaseDurations{BriefingSec: 30, DrawingSec: 120, VotingSec: 60, ResultsSec: 15},
	}}
	ts := NewTimerSync(cm, fetcher, fc, DefaultTimerSyncConfig())

	if err := ts.syncGame(context.Background(), gameID); err != nil {
		t.Fatalf("syncGame() error = %v", err)
	}

	// The event rides the broadcast channel; process it synchronously.
	select {
	case msg := <-cm.broadcastCh:
		cm.handleBroadcast(msg)
	default:
		t.Fatal("no broadcast enqueued")
	}

	select {
	case raw := <-conn.Send:
		var ev events.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatal(err)
		}
		var payload events.TimerSyncPayload
		if err := json.Unmarshal(ev.Data, &payload); err != nil {
			t.Fatal(err)
		}
		if payload.TimeRemaining != 42 {
			t.Errorf("time remaining = %d, want 42", payload.TimeRemaining)
		}
		if payload.TotalDuration != 120 {
			t.Errorf("total duration = %d, want 120", payload.TotalDuration)
		}
	default:
		t.Fatal("connection received nothing")
	}
}

func TestTimerSyncSkipsUntimedPhase(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	gameID := uuid.New()
	newTestConnection(cm, gameID, "alice")

	fetcher := &staticGameFetcher{game: &models.Game{
		ID:        gameID,
		Phase:     models.PhaseWaiting,
		Durations: models.PhaseDurations{BriefingSec: 30, DrawingSec: 120, VotingSec: 60, ResultsSec: 15},
	}}
	ts := NewTimerSync(cm, fetcher, clockwork.NewFakeClock(), DefaultTimerSyncConfig())

	if err := ts.syncGame(context.Background(), gameID); err != nil {
		t.Fatalf("syncGame() error = %v", err)
	}
	select {
	case <-cm.broadcastCh:
		t.Error("untimed phases must not produce timer_sync events")
	default:
	}
}
