package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists bookings. Update is a compare-and-swap on Version: it
// writes only when the stored version equals expectedVersion, and on success
// the stored and in-memory version is expectedVersion+1.
type Repository interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id uuid.UUID) (*Booking, error)
	Update(ctx context.Context, b *Booking, expectedVersion int64) error

	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error)
	ListByProvider(ctx context.Context, providerID uuid.UUID, status Status, limit, offset int) ([]Booking, error)
	ListConfirmedInRange(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Booking, error)

	// Sweeps
	FindRemindersDue(ctx context.Context, now time.Time, limit int) ([]Booking, error)
	FindWarningsDue(ctx context.Context, now time.Time, limit int) ([]Booking, error)
	FindExpiredRequests(ctx context.Context, now time.Time, limit int) ([]Booking, error)
	FindProposalsDue(ctx context.Context, now time.Time, limit int) ([]Booking, error)
	FindCompletable(ctx context.Context, endedBefore time.Time, limit int) ([]Booking, error)
	FindSettlementsDue(ctx context.Context, now time.Time, limit int) ([]Booking, error)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// dueColumns derives the denormalized scheduling columns the sweeps index on.
type dueColumns struct {
	reminderDueAt  *time.Time
	warningDueAt   *time.Time
	expiresAt      *time.Time
	proposalDue    *time.Time
	nextSettlement *time.Time
}

func deriveDue(b *Booking) dueColumns {
	var d dueColumns
	if b.Status == StatusPendingConfirmation && b.Confirmation.Required {
		if b.Confirmation.RemindersSent == 0 {
			t := b.Confirmation.ReminderAt
			d.reminderDueAt = &t
		}
		if !b.Confirmation.ExpiringWarningSent {
			t := b.Confirmation.WarningAt
			d.warningDueAt = &t
		}
		t := b.Confirmation.ExpiresAt
		d.expiresAt = &t
	}
	if p := b.Reschedule.Pending; p != nil && !b.Status.Terminal() {
		t := p.RespondBy
		d.proposalDue = &t
	}
	if b.Payment.Pending != nil && b.Payment.NextRetryAt != nil {
		t := *b.Payment.NextRetryAt
		d.nextSettlement = &t
	}
	return d
}
