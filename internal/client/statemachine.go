package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/flow"
	"github.com/mgriffin/drawdash/internal/game"
	"github.com/mgriffin/drawdash/internal/game/phase"
	"github.com/mgriffin/drawdash/internal/models"
)

// FlowClient defines what the state machine needs from the flow controller.
// In-process it is the controller itself; a remote client works the same way.
type FlowClient interface {
	TransitionToNextPhase(ctx context.Context, gameID uuid.UUID, trigger flow.Trigger) (*flow.TransitionResult, error)
	TransitionToPhase(ctx context.Context, gameID uuid.UUID, target models.GamePhase, opts flow.TransitionOptions) (*flow.TransitionResult, error)
}

// Mirror is the client-local copy of game state. It is only ever replaced
// wholesale from a server snapshot, never incremented in place.
type Mirror struct {
	Phase           models.GamePhase
	PhaseDeadline   *time.Time
	Durations       models.PhaseDurations
	MinParticipants int
	Participants    []models.Participant
	Submissions     []models.Submission
	Votes           []models.Vote
}

// PhaseCallback is invoked after the mirror's phase changes, whether from a
// local trigger succeeding or an external event arriving. Deadline is nil for
// untimed phases.
type PhaseCallback func(previous, next models.GamePhase, deadline *time.Time)

// StateMachine mirrors a game's phase on one client. Whenever the mirrored
// aggregates change it re-evaluates the next edge's preconditions against the
// locally visible facts and, when satisfied, fires a best-effort condition
// trigger at the controller. Redundant triggers across clients are safe: the
// controller's idempotence and in-flight marker let exactly one win.
type StateMachine struct {
	gameID uuid.UUID
	flow   FlowClient
	clock  clockwork.Clock

	mu         sync.Mutex
	mirror     Mirror
	callbacks  []PhaseCallback
	phaseTimer clockwork.Timer
}

// NewStateMachine creates a client state machine for one game.
func NewStateMachine(gameID uuid.UUID, flowClient FlowClient, clock clockwork.Clock) *StateMachine {
	return &StateMachine{
		gameID: gameID,
		flow:   flowClient,
		clock:  clock,
		mirror: Mirror{Phase: models.PhaseWaiting},
	}
}

// OnPhaseChange registers a callback fired after every phase change of the
// local mirror. Used to (re)start the visible phase timer.
func (sm *StateMachine) OnPhaseChange(cb PhaseCallback) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.callbacks = append(sm.callbacks, cb)
}

// Phase returns the mirror's current phase.
func (sm *StateMachine) Phase() models.GamePhase {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.mirror.Phase
}

// Mirror returns a copy of the local mirror.
func (sm *StateMachine) Mirror() Mirror {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	m := sm.mirror
	m.Participants = append([]models.Participant(nil), sm.mirror.Participants...)
	m.Submissions = append([]models.Submission(nil), sm.mirror.Submissions...)
	m.Votes = append([]models.Vote(nil), sm.mirror.Votes...)
	return m
}

// ApplyServerState replaces the mirror with an authoritative snapshot. The
// replacement is idempotent: applying the same snapshot twice leaves the same
// mirror and fires no duplicate callbacks.
func (sm *StateMachine) ApplyServerState(snap *game.Snapshot) {
	sm.mu.Lock()
	previous := sm.mirror.Phase
	sm.mirror = Mirror{
		Phase:           snap.Game.Phase,
		PhaseDeadline:   snap.Game.PhaseExpiresAt,
		Durations:       snap.Game.Durations,
		MinParticipants: snap.Game.MinParticipants,
		Participants:    append([]models.Participant(nil), snap.Participants...),
		Submissions:     append([]models.Submission(nil), snap.Submissions...),
		Votes:           append([]models.Vote(nil), snap.Votes...),
	}
	changed := previous != sm.mirror.Phase
	deadline := sm.mirror.PhaseDeadline
	next := sm.mirror.Phase
	callbacks := append([]PhaseCallback(nil), sm.callbacks...)
	if changed {
		sm.restartPhaseTimerLocked()
	}
	sm.mu.Unlock()

	if changed {
		for _, cb := range callbacks {
			cb(previous, next, deadline)
		}
	}
}

// CanTransitionTo reports whether the edge from the mirror's phase to target
// exists in the phase graph.
func (sm *StateMachine) CanTransitionTo(target models.GamePhase) bool {
	return phase.CanTransition(sm.Phase(), target)
}

// CheckTransitionConditions re-evaluates the next edge's preconditions against
// the locally visible facts and fires a condition trigger when satisfied. It
// returns whether a trigger was attempted. Rejections are normal: another
// client may have won, and the broadcast will catch this mirror up.
func (sm *StateMachine) CheckTransitionConditions(ctx context.Context) (bool, error) {
	sm.mu.Lock()
	facts := sm.localFactsLocked()
	current := sm.mirror.Phase
	sm.mu.Unlock()

	next, ok := phase.Next(current)
	if !ok {
		return false, nil
	}
	if err := phase.Validate(current, next, facts); err != nil {
		return false, nil
	}

	_, err := sm.flow.TransitionToNextPhase(ctx, sm.gameID, flow.TriggerCondition)
	if err != nil {
		log.Debug().
			Err(err).
			Str("game_id", sm.gameID.String()).
			Str("phase", string(current)).
			Msg("condition trigger not applied, waiting for broadcast")
		return true, err
	}
	return true, nil
}

// TransitionTo delegates an explicit transition to the flow controller.
func (sm *StateMachine) TransitionTo(ctx context.Context, target models.GamePhase, trigger flow.Trigger) (*flow.TransitionResult, error) {
	return sm.flow.TransitionToPhase(ctx, sm.gameID, target, flow.TransitionOptions{Trigger: trigger})
}

// ForceTransitionTo bypasses precondition checks but still respects the phase
// graph adjacency, which the controller never bypasses.
func (sm *StateMachine) ForceTransitionTo(ctx context.Context, target models.GamePhase, trigger flow.Trigger) (*flow.TransitionResult, error) {
	return sm.flow.TransitionToPhase(ctx, sm.gameID, target, flow.TransitionOptions{Trigger: trigger, SkipValidation: true})
}

// Reset clears the mirror back to the waiting phase and stops the timer.
func (sm *StateMachine) Reset() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.phaseTimer != nil {
		sm.phaseTimer.Stop()
		sm.phaseTimer = nil
	}
	sm.mirror = Mirror{Phase: models.PhaseWaiting}
}

// localFactsLocked derives validator facts from the mirror. Caller holds mu.
func (sm *StateMachine) localFactsLocked() phase.Facts {
	active := 0
	ready := 0
	for _, p := range sm.mirror.Participants {
		if !p.Active() {
			continue
		}
		active++
		if p.IsReady {
			ready++
		}
	}
	voted := make(map[uuid.UUID]bool, len(sm.mirror.Votes))
	for _, v := range sm.mirror.Votes {
		voted[v.VoterID] = true
	}
	submittersVoted := 0
	for _, s := range sm.mirror.Submissions {
		if voted[s.ParticipantID] {
			submittersVoted++
		}
	}
	return phase.Facts{
		Participants:    active,
		Ready:           ready,
		Submissions:     len(sm.mirror.Submissions),
		SubmittersVoted: submittersVoted,
		MinParticipants: sm.mirror.MinParticipants,
		PhaseElapsed:    sm.mirror.PhaseDeadline != nil && !sm.clock.Now().Before(*sm.mirror.PhaseDeadline),
	}
}

// restartPhaseTimerLocked arms the local countdown for the new phase. The
// timer reaching zero is just another mirror mutation: it re-checks the
// preconditions and lets the controller arbitrate. Caller holds mu.
func (sm *StateMachine) restartPhaseTimerLocked() {
	if sm.phaseTimer != nil {
		sm.phaseTimer.Stop()
		sm.phaseTimer = nil
	}
	if sm.mirror.PhaseDeadline == nil {
		return
	}
	wait := sm.mirror.PhaseDeadline.Sub(sm.clock.Now())
	if wait < 0 {
		wait = 0
	}
	sm.phaseTimer = sm.clock.AfterFunc(wait, func() {
		if _, err := sm.CheckTransitionConditions(context.Background()); err != nil {
			log.Debug().Err(err).Str("game_id", sm.gameID.String()).Msg("phase timer condition check")
		}
	})
}
