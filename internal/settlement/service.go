package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/metrics"
)

var tracer = otel.Tracer("booking-engine/settlement")

type Config struct {
	MaxAttempts         int
	RetryBackoff        time.Duration
	GoodwillCreditCents int64

	// OperationLease is how long a started processor call owns its ledger
	// row. It must outlast the processor timeout.
	OperationLease time.Duration
}

const defaultOperationLease = 2 * time.Minute

type Service struct {
	processor Processor
	ledger    Ledger
	clock     clock.Clock
	cfg       Config
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewService(processor Processor, ledger Ledger, clk clock.Clock, cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Hour
	}
	if cfg.OperationLease <= 0 {
		cfg.OperationLease = defaultOperationLease
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{
		processor: processor,
		ledger:    ledger,
		clock:     clk,
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
	}
}

func (s *Service) GoodwillCreditCents() int64 { return s.cfg.GoodwillCreditCents }

// Initiate takes the payment for a new booking: a full charge for prepay, an
// authorization hold otherwise. Errors are returned to the caller unretried.
func (s *Service) Initiate(ctx context.Context, bookingID uuid.UUID, mode Mode, amountCents int64, method string, capturePoint CapturePoint) (Payment, error) {
	ctx, span := tracer.Start(ctx, "settlement.initiate")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", bookingID.String()),
		attribute.String("payment.mode", string(mode)),
		attribute.Int64("payment.amount_cents", amountCents),
	)

	if err := ValidatePrice(amountCents); err != nil {
		return Payment{}, err
	}
	if method == "" {
		return Payment{}, apperr.Validationf("payment_method is required")
	}

	p := Payment{
		Status:        StatusPending,
		Method:        method,
		OriginalCents: amountCents,
		Fees:          Breakdown(amountCents),
	}

	kind := OpAuthorize
	if mode == ModePrepay {
		kind = OpCharge
	} else if mode != ModeHold {
		return Payment{}, apperr.Validationf("unknown payment mode %q", mode)
	}

	var auth Authorization
	ref, err := s.run(ctx, bookingID, kind, amountCents, func(ctx context.Context, key string) (string, error) {
		var aErr error
		auth, aErr = s.processor.Authorize(ctx, AuthorizeRequest{
			IdempotencyKey: key,
			AmountCents:    amountCents,
			PaymentMethod:  method,
			Capture:        mode == ModePrepay,
		})
		if mode == ModePrepay {
			return auth.ChargeID, aErr
		}
		return auth.HoldID, aErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "initiate failed")
		return Payment{}, err
	}

	now := s.clock.Now()
	if mode == ModePrepay {
		p.Terms = Prepay{ChargeID: ref, ChargedAt: &now}
		p.Status = StatusCaptured
		p.CapturedCents = amountCents
	} else {
		if capturePoint == "" {
			capturePoint = CaptureOnCompletion
		}
		p.Terms = Hold{HoldID: ref, AuthorizedAt: &now, CapturePoint: capturePoint}
		p.Status = StatusAuthorized
	}
	return p, nil
}

// Execute applies plan to p. Each step goes through the ledger so a replayed
// plan never moves money twice. On failure the returned payment carries the
// remaining steps and its retry schedule; the error is returned as well.
func (s *Service) Execute(ctx context.Context, bookingID uuid.UUID, p Payment, plan Plan) (Payment, error) {
	if plan.IsZero() {
		p.Pending = nil
		return p, nil
	}

	ctx, span := tracer.Start(ctx, "settlement.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", bookingID.String()),
		attribute.String("settlement.reason", plan.Reason),
		attribute.Int64("settlement.capture_cents", plan.CaptureCents),
		attribute.Int64("settlement.refund_cents", plan.RefundCents),
		attribute.Int64("settlement.credit_cents", plan.CreditCents),
		attribute.Bool("settlement.void_hold", plan.VoidHold),
	)

	remaining := plan
	p.Pending = &remaining

	failedStep, err := s.apply(ctx, bookingID, &p, &remaining)
	if err == nil {
		p.Pending = nil
		p.NextRetryAt = nil
		p.LastError = ""
		return p, nil
	}
	if errors.Is(err, ErrOperationInFlight) {
		// another caller owns the step; it records the outcome
		s.logger.Debug().
			Str("booking_id", bookingID.String()).
			Str("step", string(failedStep)).
			Msg("settlement step in flight elsewhere")
		return p, err
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "settlement step failed")

	now := s.clock.Now()
	p.RetryCount++
	p.LastError = err.Error()

	if apperr.IsRetryablePayment(err) && p.RetryCount < s.cfg.MaxAttempts {
		next := now.Add(s.backoff(p.RetryCount))
		p.Status = StatusRetrying
		p.NextRetryAt = &next
		s.logger.Warn().Err(err).
			Str("booking_id", bookingID.String()).
			Str("step", string(failedStep)).
			Int("retry_count", p.RetryCount).
			Time("next_retry_at", next).
			Msg("settlement step failed, retry scheduled")
		return p, err
	}

	p.NextRetryAt = nil
	if failedStep == OpCapture {
		p.Status = StatusManualCollection
		p.ManualCollection = true
	} else {
		p.Status = StatusFailed
		p.NeedsReview = true
	}
	s.logger.Error().Err(err).
		Str("booking_id", bookingID.String()).
		Str("step", string(failedStep)).
		Int("retry_count", p.RetryCount).
		Msg("settlement abandoned")
	return p, err
}

func (s *Service) backoff(attempt int) time.Duration {
	d := s.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (s *Service) apply(ctx context.Context, bookingID uuid.UUID, p *Payment, plan *Plan) (OpKind, error) {
	now := s.clock.Now()

	if plan.CaptureCents > 0 {
		hold, ok := p.Terms.(Hold)
		if !ok {
			return OpCapture, &apperr.PaymentError{Op: "capture", Code: "not_a_hold"}
		}
		amount := plan.CaptureCents
		if amount > p.OriginalCents-p.CapturedCents {
			return OpCapture, &apperr.PaymentError{Op: "capture", Code: "exceeds_authorization"}
		}
		ref, err := s.run(ctx, bookingID, OpCapture, amount, func(ctx context.Context, key string) (string, error) {
			r, cErr := s.processor.Capture(ctx, key, hold.HoldID, amount)
			return r.Reference, cErr
		})
		if err != nil {
			return OpCapture, err
		}
		hold.ChargeID = ref
		hold.CapturedAt = &now
		p.Terms = hold
		p.CapturedCents += amount
		p.Status = StatusCaptured
		plan.CaptureCents = 0
		plan.VoidHold = false
	}

	if plan.VoidHold {
		hold, ok := p.Terms.(Hold)
		if !ok {
			return OpVoid, &apperr.PaymentError{Op: "void", Code: "not_a_hold"}
		}
		_, err := s.run(ctx, bookingID, OpVoid, 0, func(ctx context.Context, key string) (string, error) {
			return hold.HoldID, s.processor.Void(ctx, key, hold.HoldID)
		})
		if err != nil {
			return OpVoid, err
		}
		hold.ReleasedAt = &now
		p.Terms = hold
		p.Status = StatusReleased
		plan.VoidHold = false
	}

	if plan.RefundCents > 0 {
		amount := plan.RefundCents
		if amount > p.CapturedCents-p.RefundedCents {
			return OpRefund, &apperr.PaymentError{Op: "refund", Code: "exceeds_captured"}
		}
		chargeID := p.ChargeID()
		_, err := s.run(ctx, bookingID, OpRefund, amount, func(ctx context.Context, key string) (string, error) {
			r, rErr := s.processor.Refund(ctx, key, chargeID, amount)
			return r.Reference, rErr
		})
		if err != nil {
			return OpRefund, err
		}
		p.RefundedCents += amount
		if p.RefundedCents == p.CapturedCents {
			p.Status = StatusRefunded
		} else {
			p.Status = StatusPartiallyRefunded
		}
		plan.RefundCents = 0
	}

	if plan.CreditCents > 0 {
		amount := plan.CreditCents
		// credits are booked on our side only; the ledger row is the record
		_, err := s.run(ctx, bookingID, OpCredit, amount, func(ctx context.Context, key string) (string, error) {
			return "credit:" + bookingID.String(), nil
		})
		if err != nil {
			return OpCredit, err
		}
		p.CreditCents += amount
		plan.CreditCents = 0
	}

	return "", nil
}

// run performs one processor call through the ledger. A succeeded ledger row
// short-circuits with its stored reference; a row claimed by another caller
// is left alone.
func (s *Service) run(ctx context.Context, bookingID uuid.UUID, kind OpKind, amount int64, call func(ctx context.Context, key string) (string, error)) (string, error) {
	key := OperationKey(bookingID, kind)

	op, err := s.ledger.Begin(ctx, Operation{Key: key, BookingID: bookingID, Kind: kind, AmountCents: amount}, s.clock.Now(), s.cfg.OperationLease)
	if errors.Is(err, ErrOperationInFlight) {
		s.metrics.ObserveSettlement(string(kind), "in_flight")
		return "", &apperr.PaymentError{Op: string(kind), Code: "in_flight", Retryable: true, Err: err}
	}
	if err != nil {
		// without a ledger row the call cannot be deduplicated; treat as transient
		return "", &apperr.PaymentError{Op: string(kind), Code: "ledger_unavailable", Retryable: true, Err: err}
	}
	if op.Status == OpSucceeded {
		s.metrics.ObserveSettlement(string(kind), "replayed")
		return op.Reference, nil
	}

	ctx, span := tracer.Start(ctx, "settlement."+string(kind), trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("settlement.key", key),
		attribute.Int64("settlement.amount_cents", amount),
		attribute.Int("settlement.attempt", op.Attempts),
	)
	ref, callErr := call(ctx, key)
	span.End()

	if callErr != nil {
		var pe *apperr.PaymentError
		if !errors.As(callErr, &pe) {
			callErr = &apperr.PaymentError{Op: string(kind), Code: "unclassified", Retryable: true, Err: callErr}
		}
		if fErr := s.ledger.Finish(ctx, key, OpFailed, "", callErr.Error(), s.clock.Now()); fErr != nil {
			s.logger.Error().Err(fErr).Str("key", key).Msg("record failed payment operation")
		}
		s.metrics.ObserveSettlement(string(kind), "failed")
		return "", callErr
	}

	if fErr := s.ledger.Finish(ctx, key, OpSucceeded, ref, "", s.clock.Now()); fErr != nil {
		// money moved; the processor's own idempotency covers a replay
		s.logger.Error().Err(fErr).Str("key", key).Msg("record succeeded payment operation")
	}
	s.metrics.ObserveSettlement(string(kind), "ok")
	s.logger.Info().
		Str("booking_id", bookingID.String()).
		Str("kind", string(kind)).
		Int64("amount_cents", amount).
		Str("reference", ref).
		Msg("payment operation succeeded")
	return ref, nil
}

// ReleaseOrphan undoes a charge or hold taken for a booking that was never
// persisted. It is a no-op when nothing was taken or it was already undone.
func (s *Service) ReleaseOrphan(ctx context.Context, bookingID uuid.UUID) error {
	ops, err := s.ledger.ListByBooking(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("list payment operations: %w", err)
	}

	done := make(map[OpKind]Operation)
	for _, op := range ops {
		if op.Status == OpSucceeded {
			done[op.Kind] = op
		}
	}

	if auth, ok := done[OpAuthorize]; ok {
		if _, captured := done[OpCapture]; captured {
			return nil
		}
		if _, voided := done[OpVoid]; voided {
			return nil
		}
		_, err := s.run(ctx, bookingID, OpVoid, 0, func(ctx context.Context, key string) (string, error) {
			return auth.Reference, s.processor.Void(ctx, key, auth.Reference)
		})
		return err
	}

	if charge, ok := done[OpCharge]; ok {
		if _, refunded := done[OpRefund]; refunded {
			return nil
		}
		_, err := s.run(ctx, bookingID, OpRefund, charge.AmountCents, func(ctx context.Context, key string) (string, error) {
			r, rErr := s.processor.Refund(ctx, key, charge.Reference, charge.AmountCents)
			return r.Reference, rErr
		})
		return err
	}
	return nil
}

func (s *Service) Operations(ctx context.Context, bookingID uuid.UUID) ([]Operation, error) {
	return s.ledger.ListByBooking(ctx, bookingID)
}
