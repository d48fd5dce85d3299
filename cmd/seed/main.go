package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/booking"
	"github.com/hackgods/booking-settlement-engine/internal/config"
	"github.com/hackgods/booking-settlement-engine/internal/db"
	"github.com/hackgods/booking-settlement-engine/internal/logging"
	"github.com/hackgods/booking-settlement-engine/internal/notify"
)

var timezones = []string{
	"America/Denver",
	"America/New_York",
	"America/Chicago",
	"America/Los_Angeles",
	"America/Phoenix",
}

func main() {
	providers := flag.Int("providers", 100, "number of providers to seed")
	patients := flag.Int("patients", 2000, "number of patients to seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("development", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.Component(logging.New(cfg.Env, cfg.LogLevel), "seed")
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("connect postgres")
		os.Exit(1)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	defaults := booking.DefaultSettings(cfg.Booking, cfg.Settlement)
	settings := booking.NewPgSettingsStore(pool, defaults)
	directory := notify.NewPgDirectory(pool)

	if err := seedProviders(context.Background(), settings, directory, defaults, *providers, logger); err != nil {
		logger.Error().Err(err).Msg("seed providers")
		os.Exit(1)
	}
	if err := seedPatients(context.Background(), directory, *patients, logger); err != nil {
		logger.Error().Err(err).Msg("seed patients")
		os.Exit(1)
	}

	logger.Info().Msg("seed complete")
}

func seedProviders(ctx context.Context, settings *booking.PgSettingsStore, directory *notify.PgDirectory, defaults booking.Settings, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding providers")

	for i := 0; i < count; i++ {
		id := uuid.New()

		st := defaults
		st.ProviderID = id
		st.Timezone = timezones[gofakeit.Number(0, len(timezones)-1)]
		st.BufferMinutes = []int{0, 10, 15, 30}[gofakeit.Number(0, 3)]
		if gofakeit.Bool() {
			st.Mode = booking.TypeInstant
		} else {
			st.Mode = booking.TypeRequest
		}
		if err := settings.Upsert(ctx, st); err != nil {
			return err
		}

		err := directory.Upsert(ctx, notify.Contact{
			UserID:       id,
			Role:         audit.RoleProvider,
			Name:         "Dr. " + gofakeit.LastName(),
			Email:        gofakeit.Email(),
			DeviceTokens: []string{gofakeit.UUID()},
		})
		if err != nil {
			return err
		}
	}

	logger.Info().Msg("providers seeded")
	return nil
}

func seedPatients(ctx context.Context, directory *notify.PgDirectory, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for i := 0; i < count; i++ {
		c := notify.Contact{
			UserID: uuid.New(),
			Role:   audit.RolePatient,
			Name:   gofakeit.Name(),
			Email:  gofakeit.Email(),
		}
		if gofakeit.Bool() {
			c.DeviceTokens = []string{gofakeit.UUID()}
		}
		if err := directory.Upsert(ctx, c); err != nil {
			return err
		}
		if (i+1)%batchSize == 0 {
			logger.Info().Int("seeded", i+1).Int("total", count).Msg("patients seeded")
		}
	}

	logger.Info().Msg("patients seeded")
	return nil
}
