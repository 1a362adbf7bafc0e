package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mgriffin/drawdash/internal/broadcast"
	"github.com/mgriffin/drawdash/internal/changefeed"
	"github.com/mgriffin/drawdash/internal/dbconfig"
	"github.com/mgriffin/drawdash/internal/flow"
	"github.com/mgriffin/drawdash/internal/game"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	dbCfg := dbconfig.NewConfigFromEnv()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create connection pool")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Msg("starting flow scheduler")

	pubCfg := broadcast.DefaultPublisherConfig()
	pubCfg.Conn.URL = natsURL
	publisher, err := broadcast.NewPublisher(pubCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publisher")
	}
	defer publisher.Close()

	clock := clockwork.NewRealClock()
	repo := game.NewRepository(pool)
	controller := flow.NewController(repo, publisher, clock, flow.DefaultConfig())
	scheduler := flow.NewScheduler(repo, controller, clock, flow.DefaultSchedulerConfig())

	// Any change to a game record may move the soonest deadline, so every
	// change-feed notification wakes the scheduler.
	feedCfg := changefeed.DefaultConfig()
	feedCfg.DatabaseURL = dbCfg.DSN()
	feed, err := changefeed.New(feedCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create change feed")
	}

	go func() {
		if err := feed.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("change feed stopped")
		}
	}()
	feed.SubscribeAll(func(uuid.UUID) {
		scheduler.Wake()
	})

	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduler stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	cancel()
	log.Info().Msg("flow scheduler shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
