package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/config"
	"github.com/hackgods/booking-settlement-engine/internal/db"
	"github.com/hackgods/booking-settlement-engine/internal/logging"
)

const usage = `usage: migrate <command> [args]

commands:
  up            apply all pending migrations
  down [n]      roll back n migrations (default 1)
  version       print the current schema version
  force <v>     set the version without running migrations (dirty recovery)
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("development", "info")
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.Component(logging.New(cfg.Env, cfg.LogLevel), "migrate")

	if err := run(flag.Arg(0), flag.Args()[1:], cfg.PostgresDSN, logger); err != nil {
		logger.Error().Err(err).Str("command", flag.Arg(0)).Msg("migration failed")
		os.Exit(1)
	}
}

func run(cmd string, args []string, dsn string, logger zerolog.Logger) error {
	m, err := db.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			logger.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("closing migrator")
		}
	}()

	switch cmd {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "down":
		steps := 1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("down expects a positive step count, got %q", args[0])
			}
			steps = n
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "version":
	case "force":
		if len(args) < 1 {
			return errors.New("force expects a version")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}
		if err := m.Force(v); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info().Msg("no migrations applied")
	case err != nil:
		return err
	default:
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("schema version")
	}
	return nil
}
