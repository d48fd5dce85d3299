// Package app assembles the engine's components from configuration. Both the
// API server and the sweeper build on it so they share one wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/api"
	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/booking"
	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/config"
	"github.com/hackgods/booking-settlement-engine/internal/db"
	"github.com/hackgods/booking-settlement-engine/internal/logging"
	"github.com/hackgods/booking-settlement-engine/internal/metrics"
	"github.com/hackgods/booking-settlement-engine/internal/notify"
	redisclient "github.com/hackgods/booking-settlement-engine/internal/redis"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
	"github.com/hackgods/booking-settlement-engine/internal/scheduler"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

const sweepBatch = 100

type App struct {
	Config       config.Config
	Logger       zerolog.Logger
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Realtime     *notify.Registry
	Notifier     *notify.Dispatcher
	Reservations *reservation.Manager
	Bookings     *booking.Service

	closers []func()
}

// New connects to Postgres (required) and Redis (optional) and builds the
// services. Redis being down only costs the provider lock.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres connection error: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)
	logger.Info().Msg("connected to Postgres")

	var locker redisclient.Locker = redisclient.NoopLocker{}
	rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, continuing without provider lock")
	} else {
		a.Redis = rdb
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		})
		locker = redisclient.NewRedisProviderLocker(rdb, cfg.LockTTL, cfg.LockWait)
		logger.Info().Msg("connected to Redis")
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	processor, err := newProcessor(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	publisher, err := newPublisher(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closer, ok := publisher.(*notify.AMQPPublisher); ok {
		a.closers = append(a.closers, func() { _ = closer.Close() })
	}

	clk := clock.Real{}

	a.Realtime = notify.NewRegistry(logging.Component(logger, "realtime"))
	a.closers = append(a.closers, a.Realtime.Close)

	a.Notifier = notify.NewDispatcher(notify.Channels{
		Push:      notify.NewLogPushSender(logging.Component(logger, "push")),
		Email:     newEmailSender(cfg, logger),
		Realtime:  a.Realtime,
		Publisher: publisher,
		Directory: notify.NewPgDirectory(pool),
	}, clk, logging.Component(logger, "notify"), a.Metrics)

	a.Reservations = reservation.NewManager(
		reservation.NewPgStore(pool), locker, clk, cfg.ReservationTTL,
		logging.Component(logger, "reservation"), a.Metrics,
	)

	settle := settlement.NewService(processor, settlement.NewPgLedger(pool), clk, settlement.Config{
		MaxAttempts:         cfg.Settlement.MaxAttempts,
		RetryBackoff:        cfg.Settlement.RetryBackoff,
		GoodwillCreditCents: cfg.Settlement.GoodwillCreditCents,
		OperationLease:      cfg.Settlement.OperationLease,
	}, logging.Component(logger, "settlement"), a.Metrics)

	defaults := booking.DefaultSettings(cfg.Booking, cfg.Settlement)
	a.Bookings = booking.NewService(booking.Deps{
		Repo:            booking.NewPgRepository(pool),
		Settings:        booking.NewPgSettingsStore(pool, defaults),
		Reservations:    a.Reservations,
		Settlement:      settle,
		Audit:           audit.NewRecorder(audit.NewPgStore(pool), clk, logging.Component(logger, "audit"), a.Metrics),
		Notifier:        a.Notifier,
		Clock:           clk,
		Logger:          logging.Component(logger, "booking"),
		Metrics:         a.Metrics,
		CompletionGrace: cfg.Booking.CompletionGrace,
		SweepBatch:      sweepBatch,
	})

	return a, nil
}

func newProcessor(cfg config.Config, logger zerolog.Logger) (settlement.Processor, error) {
	if cfg.ProcessorURL != "" {
		return settlement.NewHTTPProcessor(cfg.ProcessorURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout), nil
	}
	if cfg.IsProduction() {
		return nil, errors.New("PROCESSOR_URL is required in production")
	}
	logger.Warn().Msg("PROCESSOR_URL not set, using in-process fake payment processor")
	return settlement.NewFakeProcessor(), nil
}

func newPublisher(cfg config.Config, logger zerolog.Logger) (notify.Publisher, error) {
	if cfg.AMQPURL == "" {
		return notify.NoopPublisher{}, nil
	}
	p, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	if err != nil {
		if cfg.IsProduction() {
			return nil, fmt.Errorf("amqp connection error: %w", err)
		}
		logger.Warn().Err(err).Msg("amqp unavailable, lifecycle events will not be published")
		return notify.NoopPublisher{}, nil
	}
	logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to AMQP")
	return p, nil
}

func newEmailSender(cfg config.Config, logger zerolog.Logger) notify.EmailSender {
	if cfg.SendGridAPIKey == "" {
		return notify.NewStubEmailSender(logging.Component(logger, "email"))
	}
	return notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logging.Component(logger, "email"))
}

// Router builds the HTTP surface over the wired services.
func (a *App) Router(version string) http.Handler {
	var redisPing api.Pinger
	if a.Redis != nil {
		redisPing = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return api.NewRouter(api.RouterConfig{
		Bookings:     a.Bookings,
		Reservations: a.Reservations,
		Realtime:     a.Realtime,
		Postgres:     a.Pool.Ping,
		Redis:        redisPing,
		Gatherer:     a.Registry,
		Logger:       logging.Component(a.Logger, "http"),
		JWTSecret:    a.Config.JWTSecret,
		Env:          a.Config.Env,
		Version:      version,
	})
}

// Scheduler returns a scheduler with every sweep registered.
func (a *App) Scheduler() *scheduler.Scheduler {
	s := scheduler.New(clock.Real{}, a.Config.SweepTimeout, logging.Component(a.Logger, "scheduler"), a.Metrics)
	RegisterSweeps(s, a.Bookings, a.Config.SweepInterval, a.Logger)
	return s
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	if a.Notifier != nil {
		a.Notifier.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
