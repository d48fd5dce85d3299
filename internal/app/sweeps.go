package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/booking"
	"github.com/hackgods/booking-settlement-engine/internal/scheduler"
)

// RegisterSweeps adds the booking sweeps to s. Reservation cleanup runs on
// every poll; the booking sweeps use interval.
func RegisterSweeps(s *scheduler.Scheduler, svc *booking.Service, interval time.Duration, logger zerolog.Logger) {
	s.Register("reservation_cleanup", interval, func(ctx context.Context) error {
		expired, compensated, err := svc.CleanupReservations(ctx)
		if err == nil && (expired > 0 || compensated > 0) {
			logger.Info().Int64("expired", expired).Int("compensated", compensated).Msg("reservations swept")
		}
		return err
	})
	s.Register("confirmation_reminders", interval, counted("confirmation_reminders", svc.SendReminders, logger))
	s.Register("expiring_warnings", interval, counted("expiring_warnings", svc.SendExpiringWarnings, logger))
	s.Register("request_expiry", interval, counted("request_expiry", svc.ExpireUnanswered, logger))
	s.Register("reschedule_timeouts", interval, counted("reschedule_timeouts", svc.ExpireProposals, logger))
	s.Register("auto_complete", interval, counted("auto_complete", svc.AutoComplete, logger))
	s.Register("settlement_retry", interval, counted("settlement_retry", svc.RetrySettlements, logger))
}

func counted(name string, fn func(ctx context.Context) (int, error), logger zerolog.Logger) scheduler.Job {
	return func(ctx context.Context) error {
		n, err := fn(ctx)
		if n > 0 {
			logger.Info().Str("job", name).Int("processed", n).Msg("sweep processed bookings")
		}
		return err
	}
}
