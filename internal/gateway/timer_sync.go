package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/events"
	"github.com/mgriffin/drawdash/internal/models"
)

// Clients count the phase timer down locally; the server timer stays
// authoritative. TimerSync narrows drift by periodically pushing the
// remaining time to every game with open connections, and a fresh
// time_remaining_sec rides along in the state snapshot on reconnect.

// GameFetcher is the read access TimerSync needs.
type GameFetcher interface {
	GetGame(ctx context.Context, gameID uuid.UUID) (*models.Game, error)
}

type TimerSyncConfig struct {
	Interval time.Duration
}

func DefaultTimerSyncConfig() TimerSyncConfig {
	return TimerSyncConfig{
		Interval: 10 * time.Second,
	}
}

type TimerSync struct {
	cm     *ConnectionManager
	games  GameFetcher
	clock  clockwork.Clock
	config TimerSyncConfig
}

func NewTimerSync(cm *ConnectionManager, games GameFetcher, clock clockwork.Clock, config TimerSyncConfig) *TimerSync {
	return &TimerSync{
		cm:     cm,
		games:  games,
		clock:  clock,
		config: config,
	}
}

// Run broadcasts timer_sync events until ctx is cancelled.
func (ts *TimerSync) Run(ctx context.Context) {
	log.Info().Dur("interval", ts.config.Interval).Msg("timer sync started")

	ticker := ts.clock.NewTicker(ts.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("timer sync shutting down")
			return
		case <-ticker.Chan():
			ts.syncAll(ctx)
		}
	}
}

func (ts *TimerSync) syncAll(ctx context.Context) {
	for _, gameID := range ts.cm.ActiveGames() {
		if err := ts.syncGame(ctx, gameID); err != nil {
			log.Warn().Err(err).Str("game_id", gameID.String()).Msg("timer sync failed for game")
		}
	}
}

func (ts *TimerSync) syncGame(ctx context.Context, gameID uuid.UUID) error {
	g, err := ts.games.GetGame(ctx, gameID)
	if err != nil {
		return err
	}

	// Untimed phases have nothing to sync.
	total, ok := g.Durations.For(g.Phase)
	if !ok || g.PhaseExpiresAt == nil {
		return nil
	}

	now := ts.clock.Now()
	remaining := int(g.PhaseExpiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}

	ev, err := events.New(events.TypeTimerSync, g.ID.String(), "", events.TimerSyncPayload{
		TimeRemaining: remaining,
		Phase:         g.Phase,
		TotalDuration: int(total.Seconds()),
		ServerTime:    now.UTC(),
	})
	if err != nil {
		return err
	}

	ts.cm.BroadcastToGame(gameID, &ev)
	return nil
}
