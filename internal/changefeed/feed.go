package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to re-emit for subscribed games in case a notify was missed
	PingInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		DatabaseURL:      "",
		NotifyChannel:    "game_record_changed",
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
	}
}

// Feed delivers row-change notifications for game records. A trigger on the
// games table calls pg_notify with the game id as payload; subscribers get a
// callback per change plus a periodic fallback emit that covers notifications
// dropped while the connection was down.
type Feed struct {
	listener *pq.Listener
	cfg      Config

	mu          sync.RWMutex
	handlers    map[uuid.UUID]func(gameID uuid.UUID)
	allHandlers []func(gameID uuid.UUID)
}

func New(cfg Config) (*Feed, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("change feed listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for game record changes")

	return &Feed{
		listener: l,
		cfg:      cfg,
		handlers: make(map[uuid.UUID]func(gameID uuid.UUID)),
	}, nil
}

// Subscribe registers a handler for changes to one game's record. One handler
// per game; a second subscribe replaces the first.
func (f *Feed) Subscribe(gameID uuid.UUID, handler func(gameID uuid.UUID)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[gameID] = handler
	return nil
}

// SubscribeAll registers a handler fired for every game record change
// regardless of game. The scheduler uses this to wake on any deadline shift.
func (f *Feed) SubscribeAll(handler func(gameID uuid.UUID)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allHandlers = append(f.allHandlers, handler)
}

func (f *Feed) Unsubscribe(gameID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, gameID)
}

func (f *Feed) Start(ctx context.Context) error {
	log.Info().
		Str("channel", f.cfg.NotifyChannel).
		Dur("ping_interval", f.cfg.PingInterval).
		Dur("fallback_interval", f.cfg.FallbackInterval).
		Msg("change feed started")

	pingTicker := time.NewTicker(f.cfg.PingInterval)
	fallbackTicker := time.NewTicker(f.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("change feed shutting down")
			return f.Stop()
		case note := <-f.listener.Notify:
			if note == nil {
				// nil notification means channel connection was lost so reconnect
				continue
			}
			f.handleNotification(note.Extra)
		case <-fallbackTicker.C:
			f.emitAll()
		case <-pingTicker.C:
			if err := f.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping change feed listener")
			}
		}
	}
}

func (f *Feed) Stop() error {
	return f.listener.Close()
}

// handleNotification dispatches one pg_notify payload. Extra carries the game
// id set by the table trigger.
func (f *Feed) handleNotification(extra string) {
	id, err := uuid.Parse(extra)
	if err != nil {
		log.Error().Err(err).Str("payload", extra).Msg("invalid game ID in notification")
		return
	}

	f.mu.RLock()
	handler, ok := f.handlers[id]
	all := make([]func(uuid.UUID), len(f.allHandlers))
	copy(all, f.allHandlers)
	f.mu.RUnlock()

	log.Debug().Str("game_id", id.String()).Msg("game record changed")
	for _, h := range all {
		h(id)
	}
	if ok {
		handler(id)
	}
}

// emitAll fires every registered handler. Handlers treat each emit as a hint
// to refresh, so spurious emits are harmless.
func (f *Feed) emitAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, handler := range f.handlers {
		handler(id)
	}
	for _, h := range f.allHandlers {
		h(uuid.Nil)
	}
}
