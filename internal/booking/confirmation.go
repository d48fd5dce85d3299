package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

// SendReminders nudges providers about requests still unanswered at their
// reminder time. Each request is reminded once.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	due, err := s.repo.FindRemindersDue(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range due {
		b, changed, err := s.mutate(ctx, c.ID, func(b *Booking, now time.Time) (bool, error) {
			if b.Status != StatusPendingConfirmation || b.Confirmation.RemindersSent > 0 || now.Before(b.Confirmation.ReminderAt) {
				return false, nil
			}
			b.Confirmation.RemindersSent++
			return true, nil
		})
		if err != nil {
			s.sweepFailed("confirmation_reminder", c.ID, err)
			continue
		}
		if !changed {
			continue
		}
		s.record(ctx, b, audit.EventReminderSent, audit.System(), audit.SourceCron, "", "", nil)
		s.notifier.Reminder(ctx, b.Info())
		s.metrics.ObserveSwept("confirmation_reminder", "sent")
		sent++
	}
	return sent, nil
}

// SendExpiringWarnings tells both parties a request is about to lapse.
func (s *Service) SendExpiringWarnings(ctx context.Context) (int, error) {
	due, err := s.repo.FindWarningsDue(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range due {
		b, changed, err := s.mutate(ctx, c.ID, func(b *Booking, now time.Time) (bool, error) {
			cf := b.Confirmation
			if b.Status != StatusPendingConfirmation || cf.ExpiringWarningSent || now.Before(cf.WarningAt) || !now.Before(cf.ExpiresAt) {
				return false, nil
			}
			b.Confirmation.ExpiringWarningSent = true
			return true, nil
		})
		if err != nil {
			s.sweepFailed("expiring_warning", c.ID, err)
			continue
		}
		if !changed {
			continue
		}
		s.record(ctx, b, audit.EventExpiringWarningSent, audit.System(), audit.SourceCron, "", "", nil)
		s.notifier.ExpiringSoon(ctx, b.Info())
		s.metrics.ObserveSwept("expiring_warning", "sent")
		sent++
	}
	return sent, nil
}

// ExpireUnanswered expires requests past their hard deadline, releasing the
// slot and the payment. A request with a reschedule proposal out is left to
// the proposal's own deadline.
func (s *Service) ExpireUnanswered(ctx context.Context) (int, error) {
	due, err := s.repo.FindExpiredRequests(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range due {
		b, changed, err := s.transition(ctx, c.ID, audit.System(), audit.SourceCron, StatusExpired, func(b *Booking, _ audit.Role, now time.Time) (effects, error) {
			if now.Before(b.Confirmation.ExpiresAt) || b.Reschedule.Pending != nil {
				return effects{}, errNotDue
			}
			b.Cancellation = &Cancellation{
				By:          audit.RoleSystem,
				Reason:      "request_expired",
				At:          now,
				HoursBefore: b.Start().Sub(now).Hours(),
				RefundCents: b.Payment.Settleable(),
			}
			return effects{
				event:   audit.EventExpired,
				plan:    settlement.PlanRelease(b.Payment, "expired"),
				release: reservation.ReasonBookingExpired,
			}, nil
		})
		if err != nil {
			if !skippable(err) {
				s.sweepFailed("request_expiry", c.ID, err)
			}
			continue
		}
		if !changed {
			continue
		}
		s.notifier.Expired(ctx, b.Info())
		s.metrics.ObserveSwept("request_expiry", "expired")
		expired++
	}
	return expired, nil
}

// skippable reports whether a sweep candidate changed under us in a way that
// just means there is nothing to do.
func skippable(err error) bool {
	return errors.Is(err, errNotDue) || errors.Is(err, apperr.ErrTerminal) || errors.Is(err, apperr.ErrInvalidTransition)
}

func (s *Service) sweepFailed(job string, id uuid.UUID, err error) {
	s.logger.Error().Err(err).Str("job", job).Str("booking_id", id.String()).Msg("sweep item failed")
	s.metrics.ObserveSwept(job, "error")
}
