package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OpKind string

const (
	OpAuthorize OpKind = "authorize"
	OpCharge    OpKind = "charge"
	OpCapture   OpKind = "capture"
	OpRefund    OpKind = "refund"
	OpVoid      OpKind = "void"
	OpCredit    OpKind = "credit"
)

type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpSucceeded OpStatus = "succeeded"
	OpFailed    OpStatus = "failed"
)

// Operation is one money-moving call, keyed by booking and kind.
type Operation struct {
	Key         string    `json:"idempotency_key"`
	BookingID   uuid.UUID `json:"booking_id"`
	Kind        OpKind    `json:"kind"`
	Status      OpStatus  `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	Reference   string    `json:"reference,omitempty"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func OperationKey(bookingID uuid.UUID, kind OpKind) string {
	return fmt.Sprintf("%s:%s", bookingID, kind)
}

// ErrOperationInFlight is returned by Begin when another caller holds the
// operation: the row is pending and was claimed less than a lease ago.
var ErrOperationInFlight = errors.New("payment operation already in flight")

// Ledger records operations before the processor is called and finalizes
// them after. Begin claims the row and returns it; a row already in
// OpSucceeded means the call must not be repeated. A pending row younger than
// lease is not claimable and yields ErrOperationInFlight.
type Ledger interface {
	Begin(ctx context.Context, op Operation, now time.Time, lease time.Duration) (Operation, error)
	Finish(ctx context.Context, key string, status OpStatus, reference, errMsg string, now time.Time) error
	ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Operation, error)
}
