package flow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/game"
	"github.com/mgriffin/drawdash/internal/gameerr"
)

// DeadlineStore defines what the scheduler needs from the persistence layer.
type DeadlineStore interface {
	FetchNextPhaseDeadline(ctx context.Context) (*game.PhaseDeadline, error)
	FetchGamesDueForTransition(ctx context.Context, limit int32) ([]uuid.UUID, error)
}

// TimerHandler defines what the scheduler needs from the flow controller.
type TimerHandler interface {
	HandleTimerExpiration(ctx context.Context, gameID uuid.UUID) (*TransitionResult, error)
}

// SchedulerConfig tunes the deadline scheduler.
type SchedulerConfig struct {
	BatchSize    int32
	NumWorkers   int
	IdlePoll     time.Duration
	MaxFetchErrs int
	// DuePollFloor is the minimum wait between iterations once the soonest
	// deadline is already in the past. An expired phase whose precondition
	// cannot hold keeps its past deadline until the game record changes, so
	// without a floor the loop would re-fetch with zero delay.
	DuePollFloor time.Duration
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BatchSize:    32,
		NumWorkers:   4,
		IdlePoll:     5 * time.Second,
		MaxFetchErrs: 3,
		DuePollFloor: time.Second,
	}
}

// Scheduler sleeps until the soonest phase_expires_at across all games and
// fires timer transitions when phases run out. It is the server-side source of
// triggeredBy = timer requests. Due games fan out to a small worker pool, with
// an in-flight map preventing duplicate processing of the same game.
type Scheduler struct {
	store      DeadlineStore
	handler    TimerHandler
	clock      clockwork.Clock
	config     SchedulerConfig
	instanceID string

	wakeCh chan struct{}
	workCh chan uuid.UUID

	inFlight   map[uuid.UUID]bool
	inFlightMu sync.Mutex
}

// NewScheduler creates a deadline scheduler.
func NewScheduler(store DeadlineStore, handler TimerHandler, clock clockwork.Clock, config SchedulerConfig) *Scheduler {
	if config.DuePollFloor <= 0 {
		config.DuePollFloor = time.Second
	}
	return &Scheduler{
		store:      store,
		handler:    handler,
		clock:      clock,
		config:     config,
		instanceID: uuid.New().String()[:8],
		wakeCh:     make(chan struct{}, 1),
		workCh:     make(chan uuid.UUID, config.NumWorkers*2),
		inFlight:   make(map[uuid.UUID]bool),
	}
}

// Wake nudges the scheduler to re-read deadlines, used when a transition just
// set a deadline sooner than the one currently slept on.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// Run loops forever, sleeping until the next deadline and firing expirations.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Str("instance", s.instanceID).Int("workers", s.config.NumWorkers).Msg("scheduler started")

	var wg sync.WaitGroup
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	for i := 0; i < s.config.NumWorkers; i++ {
		wg.Add(1)
		go s.worker(workerCtx, &wg, i)
	}
	defer func() {
		cancelWorkers()
		close(s.workCh)
		wg.Wait()
		log.Info().Str("instance", s.instanceID).Msg("scheduler workers shut down")
	}()

	timer := s.clock.NewTimer(0)
	defer timer.Stop()

	fetchErrs := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		select {
		case <-s.wakeCh:
		default:
		}

		deadline, err := s.store.FetchNextPhaseDeadline(ctx)
		if err != nil {
			fetchErrs++
			if fetchErrs > s.config.MaxFetchErrs {
				log.Error().Err(err).Str("instance", s.instanceID).Msg("fetching next deadline failed repeatedly")
				return gameerr.Classify(err)
			}
			log.Warn().Err(err).Int("attempt", fetchErrs).Str("instance", s.instanceID).Msg("error fetching next deadline, backing off")
			timer.Reset(time.Second * time.Duration(fetchErrs))
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}
		fetchErrs = 0

		if deadline == nil || deadline.Deadline == nil {
			// No game on the clock; idle until woken or the poll elapses.
			timer.Reset(s.config.IdlePoll)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			case <-s.wakeCh:
				continue
			}
		}

		wait := deadline.Deadline.Sub(s.clock.Now())
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-timer.Chan():
			case <-ctx.Done():
				return nil
			case <-s.wakeCh:
				continue
			}
		}

		due, err := s.store.FetchGamesDueForTransition(ctx, s.config.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("instance", s.instanceID).Msg("error fetching due games")
			timer.Reset(time.Second)
			select {
			case <-timer.Chan():
				continue
			case <-ctx.Done():
				return nil
			}
		}

		for _, gameID := range due {
			s.inFlightMu.Lock()
			if s.inFlight[gameID] {
				s.inFlightMu.Unlock()
				continue
			}
			s.inFlight[gameID] = true
			s.inFlightMu.Unlock()

			select {
			case <-ctx.Done():
				s.inFlightMu.Lock()
				delete(s.inFlight, gameID)
				s.inFlightMu.Unlock()
				return nil
			case s.workCh <- gameID:
			}
		}

		// The deadline we just acted on stays in the past until the worker's
		// transition (or an external change) moves phase_expires_at, so hold
		// the loop to the floor rate instead of re-fetching immediately.
		if wait <= 0 {
			timer.Reset(s.config.DuePollFloor)
			select {
			case <-timer.Chan():
			case <-ctx.Done():
				return nil
			case <-s.wakeCh:
			}
		}
	}
}

func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case gameID, ok := <-s.workCh:
			if !ok {
				return
			}
			if _, err := s.handler.HandleTimerExpiration(ctx, gameID); err != nil {
				// Losing the arbitration or a stale deadline is routine; only
				// unexpected failures are worth noise.
				classified := gameerr.Classify(err)
				evt := log.Warn()
				if classified.Category == gameerr.GameState || classified.Category == gameerr.ConcurrentModification {
					evt = log.Debug()
				}
				evt.Err(err).
					Str("game_id", gameID.String()).
					Str("instance", s.instanceID).
					Int("worker_id", workerID).
					Msg("timer expiration not applied")
			}
			s.inFlightMu.Lock()
			delete(s.inFlight, gameID)
			s.inFlightMu.Unlock()
		}
	}
}
