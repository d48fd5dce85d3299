package booking

import (
	"context"
	"errors"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
)

// AutoComplete completes confirmed bookings that ended more than the grace
// period ago and were never closed by the provider.
func (s *Service) AutoComplete(ctx context.Context) (int, error) {
	due, err := s.repo.FindCompletable(ctx, s.clock.Now().Add(-s.completionGrace), s.batch)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, c := range due {
		if _, err := s.Complete(ctx, c.ID, audit.System()); err != nil {
			if !skippable(err) {
				s.sweepFailed("auto_complete", c.ID, err)
			}
			continue
		}
		s.metrics.ObserveSwept("auto_complete", "completed")
		done++
	}
	return done, nil
}

// RetrySettlements runs owed money movement whose retry time has come,
// including plans whose inline settle never ran.
func (s *Service) RetrySettlements(ctx context.Context) (int, error) {
	due, err := s.repo.FindSettlementsDue(ctx, s.clock.Now(), s.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for i := range due {
		b := &due[i]
		after := s.settle(ctx, b)
		if after.Payment.Pending != nil {
			s.metrics.ObserveSwept("settlement_retry", "pending")
			continue
		}
		s.metrics.ObserveSwept("settlement_retry", "settled")
		settled++
	}
	return settled, nil
}

// CleanupReservations expires stale slot holds and compensates the ones that
// never became a booking.
func (s *Service) CleanupReservations(ctx context.Context) (int64, int, error) {
	return s.reservations.Sweep(ctx, s.batch, s.compensate)
}

// compensate releases a payment taken for a booking that was never persisted.
// A persisted booking owns its payment and settles it through its own
// transitions.
func (s *Service) compensate(ctx context.Context, r reservation.Reservation) error {
	if r.BookingID == nil {
		return nil
	}
	_, err := s.repo.Get(ctx, *r.BookingID)
	switch {
	case errors.Is(err, ErrBookingNotFound):
		return s.settlement.ReleaseOrphan(ctx, *r.BookingID)
	case err != nil:
		return err
	}
	return nil
}
