package client

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/events"
	"github.com/mgriffin/drawdash/internal/game"
	"github.com/mgriffin/drawdash/internal/gameerr"
)

// ChangeFeed defines what the synchronizer needs from the row-change feed on
// the persisted game record.
type ChangeFeed interface {
	Subscribe(gameID uuid.UUID, handler func(gameID uuid.UUID)) error
	Unsubscribe(gameID uuid.UUID)
}

// Broadcast defines what the synchronizer needs from the pub/sub channel.
type Broadcast interface {
	Subscribe(gameID uuid.UUID, handler func(ev events.Event)) error
	Unsubscribe(gameID uuid.UUID) error
	OnConnectionStatusChange(handler func(connected bool))
}

// StateProvider serves the full-refresh snapshot the synchronizer reconciles
// against.
type StateProvider interface {
	Snapshot(ctx context.Context, gameID uuid.UUID) (*game.Snapshot, error)
}

// Synchronizer reconciles one client's local mirror against two independent
// event sources: the change-feed on the game record and the broadcast channel.
// The sources are advisory only; they are not ordered relative to each other
// and may deliver duplicates, so every event triggers a full snapshot refresh
// instead of trusting the payload. Deduplication falls out of the refresh
// being idempotent.
type Synchronizer struct {
	gameID   uuid.UUID
	feed     ChangeFeed
	bus      Broadcast
	provider StateProvider
	sm       *StateMachine
	clock    clockwork.Clock
	retry    gameerr.RetryPolicy

	mu        sync.Mutex
	started   bool
	connected bool
}

// NewSynchronizer wires the synchronization layer for one game.
func NewSynchronizer(gameID uuid.UUID, feed ChangeFeed, bus Broadcast, provider StateProvider, sm *StateMachine, clock clockwork.Clock) *Synchronizer {
	return &Synchronizer{
		gameID:    gameID,
		feed:      feed,
		bus:       bus,
		provider:  provider,
		sm:        sm,
		clock:     clock,
		retry:     gameerr.DefaultRetryPolicy(),
		connected: true,
	}
}

// Start subscribes to both sources and performs an initial full refresh so
// the mirror starts from authoritative state.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.feed.Subscribe(s.gameID, func(uuid.UUID) {
		s.Refresh(ctx)
	}); err != nil {
		return gameerr.Wrap(gameerr.Realtime, "subscribe to change feed", err)
	}

	if err := s.bus.Subscribe(s.gameID, func(ev events.Event) {
		s.handleBroadcast(ctx, ev)
	}); err != nil {
		s.feed.Unsubscribe(s.gameID)
		return gameerr.Wrap(gameerr.Realtime, "subscribe to broadcast channel", err)
	}

	s.bus.OnConnectionStatusChange(func(connected bool) {
		s.handleConnectionStatus(ctx, connected)
	})

	s.Refresh(ctx)
	return nil
}

// Stop unsubscribes from both sources.
func (s *Synchronizer) Stop() {
	s.feed.Unsubscribe(s.gameID)
	if err := s.bus.Unsubscribe(s.gameID); err != nil {
		log.Warn().Err(err).Str("game_id", s.gameID.String()).Msg("broadcast unsubscribe failed")
	}
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Refresh re-fetches the full snapshot and replaces the local mirror. Safe to
// call from any event handler; applying the same snapshot repeatedly is a
// no-op.
func (s *Synchronizer) Refresh(ctx context.Context) {
	err := gameerr.Retry(ctx, s.clock, s.retry, func(ctx context.Context) error {
		snap, err := s.provider.Snapshot(ctx, s.gameID)
		if err != nil {
			return err
		}
		s.sm.ApplyServerState(snap)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("game_id", s.gameID.String()).Msg("state refresh failed")
	}
}

func (s *Synchronizer) handleBroadcast(ctx context.Context, ev events.Event) {
	if err := events.CheckVersion(ev.Version); err != nil {
		// Forward-compatibility boundary: log and skip, never fatal.
		log.Warn().
			Err(err).
			Str("event_type", string(ev.Type)).
			Str("version", ev.Version).
			Msg("rejecting event with unsupported version")
		return
	}
	log.Debug().
		Str("event_type", string(ev.Type)).
		Str("game_id", ev.GameID).
		Msg("broadcast event received, refreshing")
	s.Refresh(ctx)
}

// handleConnectionStatus performs a full refresh on the disconnected →
// connected edge, covering the gap during which events may have been missed.
func (s *Synchronizer) handleConnectionStatus(ctx context.Context, connected bool) {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = connected
	s.mu.Unlock()

	if connected && !wasConnected {
		log.Info().Str("game_id", s.gameID.String()).Msg("reconnected, refreshing state before resuming events")
		s.Refresh(ctx)
	}
}
