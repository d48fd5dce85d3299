package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/booking-settlement-engine/internal/app"
	"github.com/hackgods/booking-settlement-engine/internal/config"
	"github.com/hackgods/booking-settlement-engine/internal/logging"
)

// pollInterval is how often due-ness is checked; each job keeps its own
// interval on top of it.
const pollInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("development", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Component(logging.New(cfg.Env, cfg.LogLevel), "sweeper")
	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.SweepInterval).Msg("sweeper starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("bootstrap failed")
		os.Exit(1)
	}
	defer a.Close()

	poll := pollInterval
	if cfg.SweepInterval > 0 && cfg.SweepInterval < poll {
		poll = cfg.SweepInterval
	}

	// Run once at startup, then on every poll
	a.Scheduler().Run(rootCtx, poll)

	logger.Info().Msg("shutdown signal received, sweeper stopped")
}
