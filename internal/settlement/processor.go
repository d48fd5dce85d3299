package settlement

import "context"

type AuthorizeRequest struct {
	IdempotencyKey string
	AmountCents    int64
	PaymentMethod  string
	// Capture charges immediately instead of placing a hold.
	Capture bool
}

type Authorization struct {
	HoldID   string `json:"hold_id"`
	ChargeID string `json:"charge_id,omitempty"`
}

type Receipt struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
}

// Processor is the external payment processor. Implementations return
// *apperr.PaymentError classified retryable or terminal and must honour the
// idempotency key they are given.
type Processor interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	Capture(ctx context.Context, idempotencyKey, holdID string, amountCents int64) (Receipt, error)
	Refund(ctx context.Context, idempotencyKey, chargeID string, amountCents int64) (Receipt, error)
	Void(ctx context.Context, idempotencyKey, holdID string) error
}
