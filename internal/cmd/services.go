package main

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/mgriffin/drawdash/internal/api"
	"github.com/mgriffin/drawdash/internal/broadcast"
	"github.com/mgriffin/drawdash/internal/flow"
	"github.com/mgriffin/drawdash/internal/game"
)

type Services struct {
	API       *api.Service
	Flow      *flow.Controller
	Publisher *broadcast.Publisher
}

func setupServices(pool *pgxpool.Pool, config *Config) (*Services, error) {
	// Database layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()

	pubCfg := broadcast.DefaultPublisherConfig()
	pubCfg.Conn.URL = config.NATS.URL
	publisher, err := broadcast.NewPublisher(pubCfg)
	if err != nil {
		return nil, err
	}

	repo := game.NewRepository(pool)
	app := game.NewApp(repo, publisher, clock)

	flowCfg := flow.DefaultConfig()
	if config.Flow.RoundTripTimeout > 0 {
		flowCfg.RoundTripTimeout = config.Flow.RoundTripTimeout
	}
	if config.Flow.ManualWaitAttempts > 0 {
		flowCfg.ManualWaitAttempts = config.Flow.ManualWaitAttempts
	}
	if config.Flow.ManualWaitDelay > 0 {
		flowCfg.ManualWaitDelay = config.Flow.ManualWaitDelay
	}
	controller := flow.NewController(repo, publisher, clock, flowCfg)

	return &Services{
		API:       api.NewService(app, controller),
		Flow:      controller,
		Publisher: publisher,
	}, nil
}
