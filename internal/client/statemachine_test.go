package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mgriffin/drawdash/internal/flow"
	"github.com/mgriffin/drawdash/internal/game"
	"github.com/mgriffin/drawdash/internal/gameerr"
	"github.com/mgriffin/drawdash/internal/models"
)

type fakeFlowClient struct {
	mu       sync.Mutex
	next     []flow.Trigger
	explicit []models.GamePhase
	err      error
	nextCh   chan flow.Trigger
}

func newFakeFlowClient() *fakeFlowClient {
	return &fakeFlowClient{nextCh: make(chan flow.Trigger, 16)}
}

func (f *fakeFlowClient) TransitionToNextPhase(ctx context.Context, gameID uuid.UUID, trigger flow.Trigger) (*flow.TransitionResult, error) {
	f.mu.Lock()
	f.next = append(f.next, trigger)
	err := f.err
	f.mu.Unlock()
	f.nextCh <- trigger
	if err != nil {
		return nil, err
	}
	return &flow.TransitionResult{}, nil
}

func (f *fakeFlowClient) TransitionToPhase(ctx context.Context, gameID uuid.UUID, target models.GamePhase, opts flow.TransitionOptions) (*flow.TransitionResult, error) {
	f.mu.Lock()
	f.explicit = append(f.explicit, target)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &flow.TransitionResult{Previous: "", Next: target}, nil
}

func (f *fakeFlowClient) nextCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.next)
}

func readyParticipant(gameID uuid.UUID) models.Participant {
	return models.Participant{
		ID:      uuid.New(),
		GameID:  gameID,
		UserID:  uuid.New().String(),
		IsReady: true,
	}
}

func snapshotInPhase(gameID uuid.UUID, p models.GamePhase, deadline *time.Time, participants []models.Participant) *game.Snapshot {
	return &game.Snapshot{
		Game: models.Game{
			ID:              gameID,
			Phase:           p,
			PhaseExpiresAt:  deadline,
			MinParticipants: 2,
			Durations: models.PhaseDurations{
				BriefingSec: 30, DrawingSec: 120, VotingSec: 60, ResultsSec: 15,
			},
		},
		Participants: participants,
	}
}

func TestApplyServerStateFiresCallbackOncePerChange(t *testing.T) {
	gameID := uuid.New()
	sm := NewStateMachine(gameID, newFakeFlowClient(), clockwork.NewFakeClock())

	var mu sync.Mutex
	var changes []models.GamePhase
	sm.OnPhaseChange(func(previous, next models.GamePhase, deadline *time.Time) {
		mu.Lock()
		changes = append(changes, next)
		mu.Unlock()
	})

	snap := snapshotInPhase(gameID, models.PhaseBriefing, nil, nil)
	sm.ApplyServerState(snap)
	sm.ApplyServerState(snap) // duplicate event, same snapshot

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(changes))
	}
	if changes[0] != models.PhaseBriefing {
		t.Errorf("callback next = %s, want briefing", changes[0])
	}
	if sm.Phase() != models.PhaseBriefing {
		t.Errorf("Phase() = %s, want briefing", sm.Phase())
	}
}

func TestCheckTransitionConditionsFiresWhenSatisfied(t *testing.T) {
	gameID := uuid.New()
	fc := newFakeFlowClient()
	sm := NewStateMachine(gameID, fc, clockwork.NewFakeClock())

	participants := []models.Participant{readyParticipant(gameID), readyParticipant(gameID)}
	sm.ApplyServerState(snapshotInPhase(gameID, models.PhaseWaiting, nil, participants))

	attempted, err := sm.CheckTransitionConditions(context.Background())
	if err != nil {
		t.Fatalf("CheckTransitionConditions() error = %v", err)
	}
	if !attempted {
		t.Fatal("expected a condition trigger with a full ready quorum")
	}
	if got := <-fc.nextCh; got != flow.TriggerCondition {
		t.Errorf("trigger = %s, want condition", got)
	}
}

func TestCheckTransitionConditionsHoldsWhenUnsatisfied(t *testing.T) {
	gameID := uuid.New()
	fc := newFakeFlowClient()
	sm := NewStateMachine(gameID, fc, clockwork.NewFakeClock())

	// One of two participants ready: quorum is met but readiness is not.
	notReady := readyParticipant(gameID)
	notReady.IsReady = false
	participants := []models.Participant{readyParticipant(gameID), notReady}
	sm.ApplyServerState(snapshotInPhase(gameID, models.PhaseWaiting, nil, participants))

	attempted, err := sm.CheckTransitionConditions(context.Background())
	if err != nil {
		t.Fatalf("CheckTransitionConditions() error = %v", err)
	}
	if attempted {
		t.Error("no trigger expected while a participant is not ready")
	}
	if fc.nextCalls() != 0 {
		t.Errorf("flow calls = %d, want 0", fc.nextCalls())
	}
}

func TestCheckTransitionConditionsToleratesRejection(t *testing.T) {
	gameID := uuid.New()
	fc := newFakeFlowClient()
	fc.err = gameerr.New(gameerr.ConcurrentModification, "transition in progress")
	sm := NewStateMachine(gameID, fc, clockwork.NewFakeClock())

	participants := []models.Participant{readyParticipant(gameID), readyParticipant(gameID)}
	sm.ApplyServerState(snapshotInPhase(gameID, models.PhaseWaiting, nil, participants))

	// Another client won the race; the rejection is surfaced but the mirror
	// stays consistent and waits for the broadcast.
	attempted, err := sm.CheckTransitionConditions(context.Background())
	if !attempted {
		t.Error("the trigger should have been attempted")
	}
	if !gameerr.Is(err, gameerr.ConcurrentModification) {
		t.Errorf("error = %v, want CONCURRENT_MODIFICATION", err)
	}
	if sm.Phase() != models.PhaseWaiting {
		t.Errorf("Phase() = %s, want waiting unchanged", sm.Phase())
	}
}

func TestTerminalPhaseHasNoConditionTrigger(t *testing.T) {
	gameID := uuid.New()
	fc := newFakeFlowClient()
	sm := NewStateMachine(gameID, fc, clockwork.NewFakeClock())

	sm.ApplyServerState(snapshotInPhase(gameID, models.PhaseCompleted, nil, nil))

	attempted, err := sm.CheckTransitionConditions(context.Background())
	if err != nil {
		t.Fatalf("CheckTransitionConditions() error = %v", err)
	}
	if attempted {
		t.Error("completed games have no next edge to trigger")
	}
}

func TestPhaseTimerFiresConditionTrigger(t *testing.T) {
	gameID := uuid.New()
	fc := newFakeFlowClient()
	clock := clockwork.NewFakeClock()
	sm := NewStateMachine(gameID, fc, clock)

	deadline := clock.Now().Add(30 * time.Second)
	sm.ApplyServerState(snapshotInPhase(gameID, models.PhaseBriefing, &deadline, nil))

	if fc.nextCalls() != 0 {
		t.Fatalf("flow calls before deadline = %d, want 0", fc.nextCalls())
	}

	// The local countdown reaching zero re-checks preconditions; briefing
	// advances unconditionally once elapsed.
	clock.Advance(30 * time.Second)

	select {
	case got := <-fc.nextCh:
		if got != flow.TriggerCondition {
			t.Errorf("trigger = %s, want condition", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the phase timer trigger")
	}
}

func TestResetClearsMirror(t *testing.T) {
	gameID := uuid.New()
	sm := NewStateMachine(gameID, newFakeFlowClient(), clockwork.NewFakeClock())

	sm.ApplyServerState(snapshotInPhase(gameID, models.PhaseDrawing, nil, nil))
	sm.Reset()

	if sm.Phase() != models.PhaseWaiting {
		t.Errorf("Phase() after Reset = %s, want waiting", sm.Phase())
	}
	if m := sm.Mirror(); len(m.Participants) != 0 {
		t.Errorf("Mirror() participants after Reset = %d, want 0", len(m.Participants))
	}
}
