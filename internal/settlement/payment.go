package settlement

import (
	"encoding/json"
	"fmt"
	"time"
)

type Mode string

const (
	ModePrepay Mode = "prepay"
	ModeHold   Mode = "hold"
)

type CapturePoint string

const (
	CaptureOnCompletion   CapturePoint = "completion"
	CaptureOnConfirmation CapturePoint = "confirmation"
)

type Status string

const (
	StatusPending           Status = "pending"
	StatusAuthorized        Status = "authorized"
	StatusCaptured          Status = "captured"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusRefunded          Status = "refunded"
	StatusReleased          Status = "released"
	StatusRetrying          Status = "settlement_retrying"
	StatusManualCollection  Status = "manual_collection"
	StatusFailed            Status = "failed"
)

// Terms is the mode-specific part of a payment. Only Prepay and Hold
// implement it.
type Terms interface {
	Mode() Mode
	isTerms()
}

// Prepay is charged in full when the booking is created.
type Prepay struct {
	ChargeID  string     `json:"charge_id,omitempty"`
	ChargedAt *time.Time `json:"charged_at,omitempty"`
}

func (Prepay) Mode() Mode { return ModePrepay }
func (Prepay) isTerms()   {}

// Hold reserves funds at creation; ChargeID is set once the hold is captured.
type Hold struct {
	HoldID       string       `json:"hold_id,omitempty"`
	AuthorizedAt *time.Time   `json:"authorized_at,omitempty"`
	CapturePoint CapturePoint `json:"capture_point"`
	ChargeID     string       `json:"charge_id,omitempty"`
	CapturedAt   *time.Time   `json:"captured_at,omitempty"`
	ReleasedAt   *time.Time   `json:"released_at,omitempty"`
}

func (Hold) Mode() Mode { return ModeHold }
func (Hold) isTerms()   {}

type FeeBreakdown struct {
	PercentBasisPoints  int64 `json:"percent_basis_points"`
	FlatCents           int64 `json:"flat_cents"`
	CapCents            int64 `json:"cap_cents"`
	PlatformFeeCents    int64 `json:"platform_fee_cents"`
	ProcessorFeeCents   int64 `json:"processor_fee_estimate_cents"`
	ProviderPayoutCents int64 `json:"provider_payout_estimate_cents"`
}

// Payment is the payment sub-record of a booking.
type Payment struct {
	Terms            Terms        `json:"-"`
	Status           Status       `json:"status"`
	Method           string       `json:"payment_method,omitempty"`
	OriginalCents    int64        `json:"original_cents"`
	CapturedCents    int64        `json:"captured_cents"`
	RefundedCents    int64        `json:"refunded_cents"`
	CreditCents      int64        `json:"credit_cents"`
	Fees             FeeBreakdown `json:"fees"`
	RetryCount       int          `json:"retry_count"`
	NextRetryAt      *time.Time   `json:"next_retry_at,omitempty"`
	Pending          *Plan        `json:"pending,omitempty"`
	ManualCollection bool         `json:"manual_collection"`
	NeedsReview      bool         `json:"needs_review"`
	LastError        string       `json:"last_error,omitempty"`
}

func (p Payment) Mode() Mode {
	if p.Terms == nil {
		return ""
	}
	return p.Terms.Mode()
}

// HoldOutstanding reports whether an uncaptured authorization is still open.
func (p Payment) HoldOutstanding() bool {
	h, ok := p.Terms.(Hold)
	return ok && h.ChargeID == "" && h.ReleasedAt == nil && p.CapturedCents == 0 && h.HoldID != ""
}

// Settleable is the amount a cancellation fee applies to: the authorized
// amount of an open hold, otherwise what was captured and not yet refunded.
func (p Payment) Settleable() int64 {
	if p.HoldOutstanding() {
		return p.OriginalCents
	}
	return p.CapturedCents - p.RefundedCents
}

// ChargeID returns the processor charge to refund against, if any.
func (p Payment) ChargeID() string {
	switch t := p.Terms.(type) {
	case Prepay:
		return t.ChargeID
	case Hold:
		return t.ChargeID
	}
	return ""
}

type paymentEnvelope struct {
	Mode  Mode            `json:"mode"`
	Terms json.RawMessage `json:"terms"`
}

func (p Payment) MarshalJSON() ([]byte, error) {
	type plain Payment
	var env paymentEnvelope
	if p.Terms != nil {
		raw, err := json.Marshal(p.Terms)
		if err != nil {
			return nil, err
		}
		env = paymentEnvelope{Mode: p.Terms.Mode(), Terms: raw}
	}
	return json.Marshal(struct {
		plain
		paymentEnvelope
	}{plain(p), env})
}

func (p *Payment) UnmarshalJSON(data []byte) error {
	type plain Payment
	var decoded struct {
		plain
		paymentEnvelope
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*p = Payment(decoded.plain)
	switch decoded.Mode {
	case ModePrepay:
		var t Prepay
		if err := json.Unmarshal(decoded.paymentEnvelope.Terms, &t); err != nil {
			return fmt.Errorf("decode prepay terms: %w", err)
		}
		p.Terms = t
	case ModeHold:
		var t Hold
		if err := json.Unmarshal(decoded.paymentEnvelope.Terms, &t); err != nil {
			return fmt.Errorf("decode hold terms: %w", err)
		}
		p.Terms = t
	case "":
		p.Terms = nil
	default:
		return fmt.Errorf("unknown payment mode %q", decoded.Mode)
	}
	return nil
}
