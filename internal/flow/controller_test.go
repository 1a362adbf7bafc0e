package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mgriffin/drawdash/internal/events"
	"github.com/mgriffin/drawdash/internal/game"
	"github.com/mgriffin/drawdash/internal/gameerr"
	"github.com/mgriffin/drawdash/internal/models"
)

// fakeStore is an in-memory GameStore with an optional gate that blocks
// GetGame until released, used to hold a transition in flight deterministically.
type fakeStore struct {
	mu     sync.Mutex
	game   *models.Game
	counts game.PhaseCounts
	winner uuid.UUID
	hasWin bool

	gate         chan struct{}
	casConflicts int
}

func (s *fakeStore) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil || s.game.ID != id {
		return nil, game.ErrNotFound
	}
	g := *s.game
	return &g, nil
}

func (s *fakeStore) CompareAndSetPhase(ctx context.Context, id uuid.UUID, expectedFrom, to models.GamePhase, startedAt time.Time, expiresAt *time.Time) (*models.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil || s.game.ID != id {
		return nil, game.ErrNotFound
	}
	if s.casConflicts > 0 {
		s.casConflicts--
		return nil, game.ErrConcurrentModification
	}
	if s.game.Phase != expectedFrom {
		return nil, game.ErrConcurrentModification
	}
	s.game.Phase = to
	s.game.PhaseStartedAt = &startedAt
	s.game.PhaseExpiresAt = expiresAt
	g := *s.game
	return &g, nil
}

func (s *fakeStore) PhaseCounts(ctx context.Context, gameID uuid.UUID) (game.PhaseCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts, nil
}

func (s *fakeStore) WinnerSubmission(ctx context.Context, gameID uuid.UUID) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.winner, s.hasWin, nil
}

func (s *fakeStore) phase() models.GamePhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Phase
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) byType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestController(store *fakeStore, clock clockwork.Clock) (*Controller, *fakePublisher) {
	pub := &fakePublisher{}
	return NewController(store, pub, clock, DefaultConfig()), pub
}

func waitingGame(id uuid.UUID) *models.Game {
	return &models.Game{
		ID:    id,
		Phase: models.PhaseWaiting,
		Durations: models.PhaseDurations{
			BriefingSec: 30, DrawingSec: 120, VotingSec: 60, ResultsSec: 15,
		},
		MinParticipants: 2,
	}
}

func TestTransitionToNextPhase(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		game:   waitingGame(id),
		counts: game.PhaseCounts{Participants: 3, Ready: 3},
	}
	fc := clockwork.NewFakeClock()
	c, pub := newTestController(store, fc)

	result, err := c.TransitionToNextPhase(context.Background(), id, TriggerManual)
	if err != nil {
		t.Fatalf("TransitionToNextPhase() error = %v", err)
	}
	if result.Previous != models.PhaseWaiting || result.Next != models.PhaseBriefing {
		t.Errorf("result = %s -> %s, want waiting -> briefing", result.Previous, result.Next)
	}
	if got := store.phase(); got != models.PhaseBriefing {
		t.Errorf("persisted phase = %s, want briefing", got)
	}
	if store.game.PhaseExpiresAt == nil {
		t.Error("briefing is timed, expected a deadline")
	} else if want := fc.Now().UTC().Add(30 * time.Second); !store.game.PhaseExpiresAt.Equal(want) {
		t.Errorf("deadline = %v, want %v", store.game.PhaseExpiresAt, want)
	}

	if got := pub.byType(events.TypePhaseChanged); len(got) != 1 {
		t.Errorf("phase_changed events = %d, want 1", len(got))
	}
	history := c.TransitionHistory(id)
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].TriggeredBy != TriggerManual {
		t.Errorf("history trigger = %s, want manual", history[0].TriggeredBy)
	}
}

func TestTransitionToCurrentPhaseIsNoOp(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{game: waitingGame(id)}
	c, pub := newTestController(store, clockwork.NewFakeClock())

	result, err := c.TransitionToPhase(context.Background(), id, models.PhaseWaiting, TransitionOptions{Trigger: TriggerManual})
	if err != nil {
		t.Fatalf("no-op transition error = %v", err)
	}
	if result.Previous != models.PhaseWaiting || result.Next != models.PhaseWaiting {
		t.Errorf("result = %s -> %s, want waiting -> waiting", result.Previous, result.Next)
	}
	if len(c.TransitionHistory(id)) != 0 {
		t.Error("no-op must not append a history record")
	}
	if len(pub.byType(events.TypePhaseChanged)) != 0 {
		t.Error("no-op must not publish phase_changed")
	}
}

func TestTransitionRejectsEdgeNotInGraph(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{game: waitingGame(id)}
	c, _ := newTestController(store, clockwork.NewFakeClock())

	// SkipValidation bypasses preconditions, never adjacency.
	_, err := c.TransitionToPhase(context.Background(), id, models.PhaseVoting, TransitionOptions{
		Trigger:        TriggerManual,
		SkipValidation: true,
	})
	if !gameerr.Is(err, gameerr.GameState) {
		t.Fatalf("error = %v, want GAME_STATE", err)
	}
	if got := store.phase(); got != models.PhaseWaiting {
		t.Errorf("persisted phase = %s, want waiting untouched", got)
	}
}

func TestTransitionRejectsUnmetPrecondition(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		game:   waitingGame(id),
		counts: game.PhaseCounts{Participants: 1, Ready: 1},
	}
	c, _ := newTestController(store, clockwork.NewFakeClock())

	_, err := c.TransitionToNextPhase(context.Background(), id, TriggerManual)
	if !gameerr.Is(err, gameerr.GameState) {
		t.Fatalf("error = %v, want GAME_STATE", err)
	}
	if got := store.phase(); got != models.PhaseWaiting {
		t.Errorf("persisted phase = %s, want waiting untouched", got)
	}
}

func TestSkipValidationBypassesPreconditions(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		game:   waitingGame(id),
		counts: game.PhaseCounts{Participants: 0, Ready: 0},
	}
	c, _ := newTestController(store, clockwork.NewFakeClock())

	_, err := c.TransitionToPhase(context.Background(), id, models.PhaseBriefing, TransitionOptions{
		Trigger:        TriggerManual,
		SkipValidation: true,
	})
	if err != nil {
		t.Fatalf("forced transition error = %v", err)
	}
	if got := store.phase(); got != models.PhaseBriefing {
		t.Errorf("persisted phase = %s, want briefing", got)
	}
}

func TestVotingClosesEarlyWhenAllSubmittersVoted(t *testing.T) {
	id := uuid.New()
	fc := clockwork.NewFakeClock()
	g := waitingGame(id)
	g.Phase = models.PhaseVoting
	future := fc.Now().Add(time.Hour)
	g.PhaseExpiresAt = &future
	store := &fakeStore{
		game:   g,
		counts: game.PhaseCounts{Participants: 3, Submissions: 3, SubmittersVoted: 3},
	}
	c, _ := newTestController(store, fc)

	result, err := c.TransitionToNextPhase(context.Background(), id, TriggerCondition)
	if err != nil {
		t.Fatalf("early close error = %v", err)
	}
	if result.Next != models.PhaseResults {
		t.Errorf("next = %s, want results", result.Next)
	}
}

func TestConcurrentModificationSurfacesAsConflict(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		game:         waitingGame(id),
		counts:       game.PhaseCounts{Participants: 2, Ready: 2},
		casConflicts: 1,
	}
	c, _ := newTestController(store, clockwork.NewFakeClock())

	// The phase moves under us between the read and the compare-and-swap.
	_, err := c.TransitionToNextPhase(context.Background(), id, TriggerManual)
	if !gameerr.Is(err, gameerr.ConcurrentModification) {
		t.Fatalf("error = %v, want CONCURRENT_MODIFICATION", err)
	}
	if got := store.phase(); got != models.PhaseWaiting {
		t.Errorf("persisted phase = %s, want waiting untouched", got)
	}
}

func TestExactlyOneConcurrentRequestWins(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		game:   waitingGame(id),
		counts: game.PhaseCounts{Participants: 2, Ready: 2},
		gate:   make(chan struct{}),
	}
	c, _ := newTestController(store, clockwork.NewFakeClock())

	first := make(chan error, 1)
	go func() {
		_, err := c.TransitionToNextPhase(context.Background(), id, TriggerCondition)
		first <- err
	}()

	// Wait until the first request holds the in-flight marker.
	for !c.IsTransitionInProgress(id) {
		time.Sleep(time.Millisecond)
	}

	_, second := c.TransitionToNextPhase(context.Background(), id, TriggerCondition)
	if !gameerr.Is(second, gameerr.ConcurrentModification) {
		t.Fatalf("second request error = %v, want CONCURRENT_MODIFICATION", second)
	}

	close(store.gate)
	if err := <-first; err != nil {
		t.Fatalf("first request error = %v", err)
	}
	if got := store.phase(); got != models.PhaseBriefing {
		t.Errorf("persisted phase = %s, want briefing after exactly one win", got)
	}
}

func TestManualWaitsForInFlightTimer(t *testing.T) {
	id := uuid.New()
	fc := clockwork.NewFakeClock()
	g := waitingGame(id)
	g.Phase = models.PhaseBriefing
	past := fc.Now().Add(-time.Minute)
	g.PhaseExpiresAt = &past
	store := &fakeStore{
		game:   g,
		counts: game.PhaseCounts{Participants: 2, Submissions: 1},
		gate:   make(chan struct{}),
	}
	c, _ := newTestController(store, fc)

	timerDone := make(chan error, 1)
	go func() {
		_, err := c.TransitionToNextPhase(context.Background(), id, TriggerTimer)
		timerDone <- err
	}()
	for !c.IsTransitionInProgress(id) {
		time.Sleep(time.Millisecond)
	}

	manualDone := make(chan error, 1)
	var manualResult *TransitionResult
	go func() {
		r, err := c.TransitionToPhase(context.Background(), id, models.PhaseDrawing, TransitionOptions{Trigger: TriggerManual})
		manualResult = r
		manualDone <- err
	}()

	// The manual request must be parked on its retry delay, not rejected.
	fc.BlockUntil(1)
	select {
	case err := <-manualDone:
		t.Fatalf("manual request finished early with %v, want it to wait", err)
	default:
	}

	// Let the timer transition complete, then release the manual retry.
	close(store.gate)
	if err := <-timerDone; err != nil {
		t.Fatalf("timer transition error = %v", err)
	}
	fc.Advance(c.config.ManualWaitDelay)

	if err := <-manualDone; err != nil {
		t.Fatalf("manual transition error = %v", err)
	}
	// The timer already moved briefing -> drawing, so the manual request
	// lands on its target and no-ops.
	if manualResult.Next != models.PhaseDrawing {
		t.Errorf("manual result next = %s, want drawing", manualResult.Next)
	}
	if got := store.phase(); got != models.PhaseDrawing {
		t.Errorf("persisted phase = %s, want drawing (single transition)", got)
	}
}

func TestTimerRejectedWhileManualInFlight(t *testing.T) {
	id := uuid.New()
	store := &fakeStore{
		game:   waitingGame(id),
		counts: game.PhaseCounts{Participants: 2, Ready: 2},
		gate:   make(chan struct{}),
	}
	c, _ := newTestController(store, clockwork.NewFakeClock())

	manualDone := make(chan error, 1)
	go func() {
		_, err := c.TransitionToNextPhase(context.Background(), id, TriggerManual)
		manualDone <- err
	}()
	for !c.IsTransitionInProgress(id) {
		time.Sleep(time.Millisecond)
	}

	// The human wins the tick: the timer request fails immediately.
	_, err := c.HandleTimerExpiration(context.Background(), id)
	if !gameerr.Is(err, gameerr.ConcurrentModification) {
		t.Fatalf("timer error = %v, want CONCURRENT_MODIFICATION", err)
	}

	close(store.gate)
	if err := <-manualDone; err != nil {
		t.Fatalf("manual transition error = %v", err)
	}
}

func TestTerminalPhaseDropsHistoryAndPublishesWinner(t *testing.T) {
	id := uuid.New()
	winner := uuid.New()
	fc := clockwork.NewFakeClock()
	g := waitingGame(id)
	g.Phase = models.PhaseResults
	past := fc.Now().Add(-time.Minute)
	g.PhaseExpiresAt = &past
	store := &fakeStore{
		game:   g,
		winner: winner,
		hasWin: true,
	}
	c, pub := newTestController(store, fc)

	if _, err := c.TransitionToNextPhase(context.Background(), id, TriggerTimer); err != nil {
		t.Fatalf("completion error = %v", err)
	}

	if got := pub.byType(events.TypeGameCompleted); len(got) != 1 {
		t.Errorf("game_completed events = %d, want 1", len(got))
	}
	if len(c.TransitionHistory(id)) != 0 {
		t.Error("history must be dropped once the game is terminal")
	}
}

func TestTransitionUnknownGame(t *testing.T) {
	store := &fakeStore{game: waitingGame(uuid.New())}
	c, _ := newTestController(store, clockwork.NewFakeClock())

	_, err := c.TransitionToNextPhase(context.Background(), uuid.New(), TriggerManual)
	if err == nil {
		t.Fatal("expected an error for an unknown game")
	}
}
