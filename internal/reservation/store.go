package reservation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists reservations. Insert and Move must be atomic with respect to
// concurrent callers for the same provider and return apperr.ErrSlotUnavailable
// when the window overlaps an active reservation. The conditional methods
// return ErrReservationNotFound when no row matched their precondition.
type Store interface {
	Insert(ctx context.Context, r *Reservation, now time.Time) error
	Get(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ConfirmHeld(ctx context.Context, id uuid.UUID, now time.Time) (*Reservation, error)
	ReleaseActive(ctx context.Context, id uuid.UUID, reason ReleaseReason, now time.Time) (*Reservation, error)
	AttachHeld(ctx context.Context, id, bookingID uuid.UUID, until, now time.Time) (*Reservation, error)
	Move(ctx context.Context, id uuid.UUID, start, end, now time.Time) (*Reservation, error)
	ListActive(ctx context.Context, providerID uuid.UUID, from, to, now time.Time) ([]Reservation, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
	PendingCompensation(ctx context.Context, limit int) ([]Reservation, error)
	MarkCompensated(ctx context.Context, id uuid.UUID, now time.Time) error
	Stats(ctx context.Context, providerID uuid.UUID, now time.Time) (Stats, error)
}
