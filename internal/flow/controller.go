package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/events"
	"github.com/mgriffin/drawdash/internal/game"
	"github.com/mgriffin/drawdash/internal/game/phase"
	"github.com/mgriffin/drawdash/internal/gameerr"
	"github.com/mgriffin/drawdash/internal/models"
)

// Trigger identifies what initiated a transition request.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerTimer     Trigger = "timer"
	TriggerCondition Trigger = "condition"
	TriggerSystem    Trigger = "system"
)

// GameStore defines what the controller needs from the persistence layer.
type GameStore interface {
	GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error)
	CompareAndSetPhase(ctx context.Context, id uuid.UUID, expectedFrom, to models.GamePhase, startedAt time.Time, expiresAt *time.Time) (*models.Game, error)
	PhaseCounts(ctx context.Context, gameID uuid.UUID) (game.PhaseCounts, error)
	WinnerSubmission(ctx context.Context, gameID uuid.UUID) (uuid.UUID, bool, error)
}

// Publisher defines what the controller needs from the broadcast channel.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// TransitionRecord is one append-only history entry for auditing and conflict
// arbitration. Records are discarded once the game reaches a terminal phase.
type TransitionRecord struct {
	From        models.GamePhase `json:"from"`
	To          models.GamePhase `json:"to"`
	Timestamp   time.Time        `json:"timestamp"`
	TriggeredBy Trigger          `json:"triggered_by"`
}

// TransitionResult is the outcome of a successful transition request.
type TransitionResult struct {
	Previous  models.GamePhase `json:"previous"`
	Next      models.GamePhase `json:"next"`
	Timestamp time.Time        `json:"timestamp"`
}

// TransitionOptions tune a TransitionToPhase call. SkipValidation bypasses
// preconditions for administrative use; the adjacency check is never bypassed.
type TransitionOptions struct {
	Trigger        Trigger
	SkipValidation bool
}

// Config holds tuning knobs for the controller.
type Config struct {
	// RoundTripTimeout bounds one validate+execute round trip.
	RoundTripTimeout time.Duration
	// ManualWaitAttempts and ManualWaitDelay bound how long a manual request
	// waits for an in-flight timer request to clear.
	ManualWaitAttempts int
	ManualWaitDelay    time.Duration
}

// DefaultConfig returns the controller defaults.
func DefaultConfig() Config {
	return Config{
		RoundTripTimeout:   5 * time.Second,
		ManualWaitAttempts: 3,
		ManualWaitDelay:    500 * time.Millisecond,
	}
}

// Controller is the authoritative phase transition engine. It serializes
// concurrent transition requests per game with a cooperative in-flight marker,
// arbitrates manual vs. timer requests, validates preconditions, executes via
// compare-and-swap, and records history.
type Controller struct {
	store     GameStore
	publisher Publisher
	clock     clockwork.Clock
	config    Config
	registry  *registry
}

// NewController creates a flow controller.
func NewController(store GameStore, publisher Publisher, clock clockwork.Clock, config Config) *Controller {
	return &Controller{
		store:     store,
		publisher: publisher,
		clock:     clock,
		config:    config,
		registry:  newRegistry(),
	}
}

// TransitionToNextPhase moves the game forward along the single legal edge of
// the phase graph.
func (c *Controller) TransitionToNextPhase(ctx context.Context, gameID uuid.UUID, trigger Trigger) (*TransitionResult, error) {
	release, err := c.acquire(ctx, gameID, trigger)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.config.RoundTripTimeout)
	defer cancel()

	g, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, gameerr.Classify(err)
	}
	next, ok := phase.Next(g.Phase)
	if !ok {
		return nil, gameerr.New(gameerr.GameState, fmt.Sprintf("game is already %s", g.Phase))
	}
	return c.execute(ctx, g, next, TransitionOptions{Trigger: trigger})
}

// TransitionToPhase moves the game to an explicit target phase.
func (c *Controller) TransitionToPhase(ctx context.Context, gameID uuid.UUID, target models.GamePhase, opts TransitionOptions) (*TransitionResult, error) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerSystem
	}
	release, err := c.acquire(ctx, gameID, opts.Trigger)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, c.config.RoundTripTimeout)
	defer cancel()

	g, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, gameerr.Classify(err)
	}
	return c.execute(ctx, g, target, opts)
}

// HandleTimerExpiration advances the game when its phase clock runs out.
func (c *Controller) HandleTimerExpiration(ctx context.Context, gameID uuid.UUID) (*TransitionResult, error) {
	return c.TransitionToNextPhase(ctx, gameID, TriggerTimer)
}

// IsTransitionInProgress reports whether a transition is in flight for a game.
func (c *Controller) IsTransitionInProgress(gameID uuid.UUID) bool {
	return c.registry.inFlight(gameID)
}

// TransitionHistory returns the recorded transitions for a game, oldest first.
func (c *Controller) TransitionHistory(gameID uuid.UUID) []TransitionRecord {
	return c.registry.history(gameID)
}

// execute runs validation and the compare-and-swap under an already-held
// in-flight marker.
func (c *Controller) execute(ctx context.Context, g *models.Game, target models.GamePhase, opts TransitionOptions) (*TransitionResult, error) {
	// Requesting the phase the game is already in is a no-op success: no
	// mutation, no history entry.
	if g.Phase == target {
		return &TransitionResult{Previous: g.Phase, Next: target, Timestamp: c.clock.Now().UTC()}, nil
	}

	if !phase.CanTransition(g.Phase, target) {
		return nil, gameerr.Wrap(gameerr.GameState, "transition not in phase graph",
			&phase.InvalidTransitionError{From: g.Phase, To: target})
	}

	if !opts.SkipValidation {
		counts, err := c.store.PhaseCounts(ctx, g.ID)
		if err != nil {
			return nil, gameerr.Classify(err)
		}
		facts := phase.Facts{
			Participants:    counts.Participants,
			Ready:           counts.Ready,
			Submissions:     counts.Submissions,
			SubmittersVoted: counts.SubmittersVoted,
			MinParticipants: g.MinParticipants,
			PhaseElapsed:    g.PhaseExpiresAt != nil && !c.clock.Now().Before(*g.PhaseExpiresAt),
		}
		if err := phase.Validate(g.Phase, target, facts); err != nil {
			return nil, gameerr.Wrap(gameerr.GameState, "precondition not met", err)
		}
	}

	now := c.clock.Now().UTC()
	var expiresAt *time.Time
	if d, timed := g.Durations.For(target); timed {
		e := now.Add(d)
		expiresAt = &e
	}

	updated, err := c.store.CompareAndSetPhase(ctx, g.ID, g.Phase, target, now, expiresAt)
	if err != nil {
		if errors.Is(err, game.ErrConcurrentModification) {
			return nil, gameerr.Wrap(gameerr.ConcurrentModification, "phase changed under us", err)
		}
		return nil, gameerr.Classify(err)
	}

	c.registry.record(g.ID, TransitionRecord{
		From:        g.Phase,
		To:          target,
		Timestamp:   now,
		TriggeredBy: opts.Trigger,
	})

	log.Info().
		Str("game_id", g.ID.String()).
		Str("from", string(g.Phase)).
		Str("to", string(target)).
		Str("triggered_by", string(opts.Trigger)).
		Msg("phase transition")

	c.publishPhaseChanged(ctx, updated, g.Phase)
	if target == models.PhaseCompleted {
		c.publishCompleted(ctx, updated)
	}
	if phase.IsTerminal(target) {
		// Release this game's bookkeeping; history is ephemeral by contract.
		c.registry.drop(g.ID)
	}

	return &TransitionResult{Previous: g.Phase, Next: target, Timestamp: now}, nil
}

// publishPhaseChanged broadcasts the transition. A failed broadcast is logged
// and never fails the transition: clients re-derive phase from persisted state.
func (c *Controller) publishPhaseChanged(ctx context.Context, g *models.Game, previous models.GamePhase) {
	startedAt := c.clock.Now().UTC()
	if g.PhaseStartedAt != nil {
		startedAt = *g.PhaseStartedAt
	}
	ev, err := events.New(events.TypePhaseChanged, g.ID.String(), "", events.PhaseChangedPayload{
		PreviousPhase:  previous,
		NewPhase:       g.Phase,
		PhaseStartedAt: startedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build phase_changed event")
		return
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("game_id", g.ID.String()).Msg("failed to publish phase_changed")
	}
}

func (c *Controller) publishCompleted(ctx context.Context, g *models.Game) {
	winnerID, ok, err := c.store.WinnerSubmission(ctx, g.ID)
	if err != nil {
		log.Error().Err(err).Str("game_id", g.ID.String()).Msg("failed to determine winner")
		return
	}
	payload := events.GameCompletedPayload{}
	if ok {
		payload.WinnerID = winnerID.String()
	}
	ev, err := events.New(events.TypeGameCompleted, g.ID.String(), "", payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build game_completed event")
		return
	}
	if err := c.publisher.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("game_id", g.ID.String()).Msg("failed to publish game_completed")
	}
}

// acquire claims the per-game in-flight marker. A second request while one is
// in flight is rejected immediately, with one asymmetric exception: a manual
// request arriving while a timer request is in flight waits with bounded
// retries for the marker to clear. A timer request never waits on a manual
// one; the human wins the tick.
func (c *Controller) acquire(ctx context.Context, gameID uuid.UUID, trigger Trigger) (func(), error) {
	release, current, ok := c.registry.tryAcquire(gameID, trigger)
	if ok {
		return release, nil
	}

	if !(trigger == TriggerManual && current == TriggerTimer) {
		return nil, gameerr.Wrap(gameerr.ConcurrentModification, "transition in progress", ErrTransitionInProgress)
	}

	for attempt := 1; attempt <= c.config.ManualWaitAttempts; attempt++ {
		log.Debug().
			Str("game_id", gameID.String()).
			Int("attempt", attempt).
			Msg("manual transition waiting for in-flight timer transition")
		select {
		case <-ctx.Done():
			return nil, gameerr.Classify(ctx.Err())
		case <-c.clock.After(c.config.ManualWaitDelay):
		}
		release, _, ok = c.registry.tryAcquire(gameID, trigger)
		if ok {
			return release, nil
		}
	}
	return nil, gameerr.Wrap(gameerr.ConcurrentModification, "transition in progress", ErrTransitionInProgress)
}

// ErrTransitionInProgress is returned when a transition request loses the
// in-flight arbitration.
var ErrTransitionInProgress = errors.New("transition in progress")
