package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/metrics"
	"github.com/hackgods/booking-settlement-engine/internal/notify"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

const (
	// settleLease is how long a freshly planned settlement may stay
	// unexecuted before the retry sweep picks it up.
	settleLease = 2 * time.Minute

	maxDurationMinutes  = 8 * 60
	maxAvailabilitySpan = 92 * 24 * time.Hour
	numberAttempts      = 3
)

// errNotDue marks a sweep candidate whose condition no longer holds.
var errNotDue = errors.New("not due")

type Deps struct {
	Repo            Repository
	Settings        SettingsStore
	Reservations    *reservation.Manager
	Settlement      *settlement.Service
	Audit           *audit.Recorder
	Notifier        *notify.Dispatcher
	Clock           clock.Clock
	Logger          zerolog.Logger
	Metrics         *metrics.Metrics
	CompletionGrace time.Duration
	SweepBatch      int
}

type Service struct {
	repo            Repository
	settings        SettingsStore
	reservations    *reservation.Manager
	settlement      *settlement.Service
	audit           *audit.Recorder
	notifier        *notify.Dispatcher
	clock           clock.Clock
	logger          zerolog.Logger
	metrics         *metrics.Metrics
	completionGrace time.Duration
	batch           int
}

func NewService(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.CompletionGrace <= 0 {
		d.CompletionGrace = 24 * time.Hour
	}
	if d.SweepBatch <= 0 {
		d.SweepBatch = 100
	}
	return &Service{
		repo:            d.Repo,
		settings:        d.Settings,
		reservations:    d.Reservations,
		settlement:      d.Settlement,
		audit:           d.Audit,
		notifier:        d.Notifier,
		clock:           d.Clock,
		logger:          d.Logger,
		metrics:         d.Metrics,
		completionGrace: d.CompletionGrace,
		batch:           d.SweepBatch,
	}
}

// Create validates the request, holds the slot, takes payment and persists the
// booking. Instant bookings come back confirmed, request bookings pending.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Booking, error) {
	now := s.clock.Now()

	st, err := s.settings.Get(ctx, req.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("load provider settings: %w", err)
	}
	if err := validateCreate(req, st, now); err != nil {
		return nil, err
	}

	kind := req.Type
	if kind == "" {
		kind = st.Mode
	}
	mode := req.PaymentMode
	if mode == "" {
		mode = settlement.ModeHold
		if kind == TypeInstant {
			mode = settlement.ModePrepay
		}
	}
	source := req.Source
	if source == "" {
		source = audit.SourceAPI
	}
	patientTZ := req.PatientTimezone
	if patientTZ == "" {
		patientTZ = st.Timezone
	}

	start := req.Start.UTC()
	end := start.Add(time.Duration(req.Service.DurationMinutes) * time.Minute)

	b := &Booking{
		ID:               uuid.New(),
		Type:             kind,
		PatientID:        req.PatientID,
		ProviderID:       req.ProviderID,
		Service:          req.Service,
		RequestedStart:   start,
		RequestedEnd:     end,
		ProviderTimezone: st.Timezone,
		PatientTimezone:  patientTZ,
		BufferMinutes:    st.BufferMinutes,
		Reschedule:       Reschedule{MaxAttempts: st.MaxRescheduleAttempts, History: []Proposal{}},
		Source:           source,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	b.Service.CancellationPolicy = st.CancellationPolicy
	if kind == TypeRequest {
		b.Confirmation = newConfirmation(st, now, start)
	}

	res, err := s.reserve(ctx, req, b)
	if err != nil {
		return nil, err
	}
	b.ReservationID = res.ID

	pay, err := s.settlement.Initiate(ctx, b.ID, mode, req.Service.PriceCents, req.PaymentMethod, st.CapturePoint)
	if err != nil {
		s.releaseReservation(ctx, b, reservation.ReasonPaymentFailed)
		return nil, err
	}
	b.Payment = pay

	if kind == TypeInstant {
		if _, err := s.reservations.Confirm(ctx, res.ID); err != nil {
			s.abandon(ctx, b)
			return nil, err
		}
		b.Status = StatusConfirmed
		b.confirmAt(TimeWindow{Start: start, End: end})
		schedulePlan(b, settlement.PlanConfirmation(b.Payment), now)
	} else {
		b.Status = StatusPendingConfirmation
	}

	if err := s.insert(ctx, b); err != nil {
		s.abandon(ctx, b)
		return nil, err
	}

	s.metrics.ObserveTransition("", string(b.Status))
	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("booking_number", b.Number).
		Str("type", string(b.Type)).
		Str("status", string(b.Status)).
		Msg("booking created")

	actor := audit.Actor{UserID: req.PatientID, Role: audit.RolePatient}
	s.record(ctx, b, audit.EventCreated, actor, source, "", b.Status, map[string]any{
		"type":        b.Type,
		"price_cents": b.Service.PriceCents,
		"start":       b.RequestedStart,
	})
	s.record(ctx, b, audit.EventSlotReserved, actor, source, "", "", map[string]any{"reservation_id": res.ID})
	s.record(ctx, b, audit.EventPaymentInitiated, actor, source, "", "", map[string]any{"mode": mode, "amount_cents": pay.OriginalCents})
	if mode == settlement.ModePrepay {
		s.record(ctx, b, audit.EventPaymentCaptured, actor, source, "", "", map[string]any{"amount_cents": pay.CapturedCents})
	} else {
		s.record(ctx, b, audit.EventPaymentHeld, actor, source, "", "", map[string]any{"amount_cents": pay.OriginalCents})
	}
	if b.Status == StatusConfirmed {
		s.record(ctx, b, audit.EventSlotConverted, actor, source, "", "", nil)
		b = s.settle(ctx, b)
		s.notifier.Confirmed(ctx, b.Info())
	} else {
		s.notifier.NewRequest(ctx, b.Info())
	}
	return b, nil
}

func validateCreate(req CreateRequest, st Settings, now time.Time) error {
	if req.PatientID == uuid.Nil || req.ProviderID == uuid.Nil {
		return apperr.Validationf("patient_id and provider_id are required")
	}
	if req.Type != "" && !req.Type.Valid() {
		return apperr.Validationf("type must be instant or request")
	}
	if req.PaymentMode != "" && req.PaymentMode != settlement.ModePrepay && req.PaymentMode != settlement.ModeHold {
		return apperr.Validationf("payment mode must be prepay or hold")
	}
	if req.Service.Name == "" {
		return apperr.Validationf("service name is required")
	}
	if err := settlement.ValidatePrice(req.Service.PriceCents); err != nil {
		return err
	}
	if req.Service.DurationMinutes <= 0 || req.Service.DurationMinutes > maxDurationMinutes {
		return apperr.Validationf("duration must be between 1 and %d minutes", maxDurationMinutes)
	}
	if req.PaymentMethod == "" {
		return apperr.Validationf("payment_method is required")
	}
	if req.PatientTimezone != "" {
		if _, err := time.LoadLocation(req.PatientTimezone); err != nil {
			return apperr.Validationf("unknown timezone %q", req.PatientTimezone)
		}
	}
	return checkAdvanceNotice(req.Start, st, now)
}

func checkAdvanceNotice(start time.Time, st Settings, now time.Time) error {
	if start.Before(now.Add(st.MinAdvanceNotice)) {
		return apperr.Validationf("start must be at least %s from now", st.MinAdvanceNotice)
	}
	if start.After(now.Add(st.MaxAdvanceNotice)) {
		return apperr.Validationf("start must be within %s from now", st.MaxAdvanceNotice)
	}
	return nil
}

// newConfirmation lays out the request deadlines. The hard expiry never runs
// past the appointment itself.
func newConfirmation(st Settings, now, start time.Time) Confirmation {
	expires := now.Add(st.ExpireAfter)
	if expires.After(start) {
		expires = start
	}
	deadline := now.Add(st.ConfirmationDeadline)
	if deadline.After(expires) {
		deadline = expires
	}
	return Confirmation{
		Required:    true,
		RequestedAt: now,
		DeadlineAt:  deadline,
		ExpiresAt:   expires,
		ReminderAt:  now.Add(st.ReminderAfter),
		WarningAt:   expires.Add(-st.ExpiringWarning),
	}
}

// reserve acquires the slot, or adopts a reservation the patient already holds.
// Request bookings keep the hold until their hard expiry.
func (s *Service) reserve(ctx context.Context, req CreateRequest, b *Booking) (*reservation.Reservation, error) {
	var (
		res *reservation.Reservation
		err error
	)
	if req.ReservationID != nil {
		res, err = s.reservations.Get(ctx, *req.ReservationID)
		if err != nil {
			return nil, err
		}
		if res.ProviderID != b.ProviderID || (res.PatientID != nil && *res.PatientID != b.PatientID) {
			return nil, apperr.Validationf("reservation belongs to another booking")
		}
		if !res.Start.Equal(b.RequestedStart) || !res.End.Equal(b.RequestedEnd.Add(b.Buffer())) {
			return nil, apperr.Validationf("reservation does not cover the requested time")
		}
	} else {
		patientID, bookingID := b.PatientID, b.ID
		res, err = s.reservations.Acquire(ctx, reservation.AcquireRequest{
			ProviderID: b.ProviderID,
			PatientID:  &patientID,
			BookingID:  &bookingID,
			SessionID:  req.SessionID,
			Start:      b.RequestedStart,
			End:        b.RequestedEnd,
			Buffer:     b.Buffer(),
		})
		if err != nil {
			return nil, err
		}
	}

	until := res.ExpiresAt
	if b.Type == TypeRequest {
		until = b.Confirmation.ExpiresAt
	}
	if req.ReservationID != nil || until.After(res.ExpiresAt) {
		if res, err = s.reservations.Attach(ctx, res.ID, b.ID, until); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) insert(ctx context.Context, b *Booking) error {
	var err error
	for i := 0; i < numberAttempts; i++ {
		b.Number = NewNumber(b.CreatedAt)
		if err = s.repo.Create(ctx, b); !errors.Is(err, ErrDuplicateNumber) {
			return err
		}
	}
	return fmt.Errorf("allocate booking number: %w", err)
}

// abandon undoes the slot and payment of a booking that never got persisted.
func (s *Service) abandon(ctx context.Context, b *Booking) {
	s.releaseReservation(ctx, b, reservation.ReasonAdmin)
	if err := s.settlement.ReleaseOrphan(ctx, b.ID); err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("release payment of abandoned booking")
	}
}

func (s *Service) releaseReservation(ctx context.Context, b *Booking, reason reservation.ReleaseReason) {
	if b.ReservationID == uuid.Nil {
		return
	}
	if _, err := s.reservations.Release(ctx, b.ReservationID, reason); err != nil {
		s.logger.Error().Err(err).
			Str("booking_id", b.ID.String()).
			Str("reservation_id", b.ReservationID.String()).
			Msg("release reservation")
		return
	}
	s.record(ctx, b, audit.EventSlotReleased, audit.System(), b.Source, "", "", map[string]any{"reason": reason})
}

// schedulePlan stores plan as owed money movement. The lease makes the retry
// sweep pick it up if the inline settle never happens.
func schedulePlan(b *Booking, plan settlement.Plan, now time.Time) {
	if plan.IsZero() {
		return
	}
	lease := now.Add(settleLease)
	b.Payment.Pending = &plan
	b.Payment.NextRetryAt = &lease
	b.Payment.RetryCount = 0
}

// mutate loads the booking, applies fn and writes it back under the version
// check. A stale write is retried once against a fresh read.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(b *Booking, now time.Time) (bool, error)) (*Booking, bool, error) {
	for attempt := 0; ; attempt++ {
		b, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		now := s.clock.Now()

		changed, err := fn(b, now)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return b, false, nil
		}

		expected := b.Version
		b.UpdatedAt = now
		err = s.repo.Update(ctx, b, expected)
		if errors.Is(err, apperr.ErrStaleVersion) && attempt == 0 {
			s.logger.Debug().Str("booking_id", id.String()).Int64("version", expected).Msg("stale booking version, retrying")
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return b, true, nil
	}
}

type effects struct {
	event   audit.EventType
	also    []audit.EventType
	plan    settlement.Plan
	release reservation.ReleaseReason
	payload map[string]any
}

// transition moves a booking to status to. Any mutation of a terminal booking
// fails with apperr.ErrTerminal, including a repeat of the move that ended it.
// Repeating a move into a live status (confirm on confirmed) returns the
// booking unchanged.
func (s *Service) transition(ctx context.Context, id uuid.UUID, actor audit.Actor, source audit.Source, to Status,
	apply func(b *Booking, role audit.Role, now time.Time) (effects, error),
) (*Booking, bool, error) {
	var (
		from Status
		fx   effects
	)
	b, changed, err := s.mutate(ctx, id, func(b *Booking, now time.Time) (bool, error) {
		role, err := b.roleOf(actor)
		if err != nil {
			return false, err
		}
		if b.Status.Terminal() {
			return false, apperr.TerminalError(string(b.Status))
		}
		if b.Status == to {
			return false, nil
		}
		if !CanTransition(b.Status, to) {
			return false, fmt.Errorf("%w: %s to %s", apperr.ErrInvalidTransition, b.Status, to)
		}

		from = b.Status
		fx, err = apply(b, role, now)
		if err != nil {
			return false, err
		}
		b.Status = to
		schedulePlan(b, fx.plan, now)
		return true, nil
	})
	if err != nil || !changed {
		return b, false, err
	}

	s.metrics.ObserveTransition(string(from), string(to))
	s.logger.Info().
		Str("booking_id", b.ID.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("actor_role", string(actor.Role)).
		Msg("booking transitioned")

	if source == "" {
		source = audit.SourceAPI
	}
	s.record(ctx, b, fx.event, actor, source, from, to, fx.payload)
	for _, ev := range fx.also {
		s.record(ctx, b, ev, actor, source, from, to, nil)
	}
	if fx.release != "" {
		s.releaseReservation(ctx, b, fx.release)
	}
	return s.settle(ctx, b), true, nil
}

func (s *Service) record(ctx context.Context, b *Booking, ev audit.EventType, actor audit.Actor, source audit.Source, from, to Status, payload map[string]any) {
	e := audit.Entry{
		BookingID:      b.ID,
		BookingNumber:  b.Number,
		Type:           ev,
		Actor:          actor,
		Source:         source,
		PreviousStatus: string(from),
		NewStatus:      string(to),
	}
	if payload != nil {
		e.Payload = payload
	}
	s.audit.Record(ctx, e)
}

// settle executes the booking's owed plan and stores the outcome. Failures
// stay on the payment for the retry sweep; the booking status is untouched.
func (s *Service) settle(ctx context.Context, b *Booking) *Booking {
	if b.Payment.Pending == nil {
		return b
	}
	before := b.Payment
	plan := *before.Pending

	after, execErr := s.settlement.Execute(ctx, b.ID, before, plan)
	if errors.Is(execErr, settlement.ErrOperationInFlight) {
		return b
	}

	updated, changed, err := s.mutate(ctx, b.ID, func(cur *Booking, _ time.Time) (bool, error) {
		if cur.Payment.Pending == nil || *cur.Payment.Pending != plan {
			return false, nil
		}
		cur.Payment = after
		return true, nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", b.ID.String()).Msg("store settlement outcome")
		return b
	}
	if !changed {
		return updated
	}

	s.recordSettlement(ctx, updated, before, after, execErr)
	return updated
}

func (s *Service) recordSettlement(ctx context.Context, b *Booking, before, after settlement.Payment, execErr error) {
	sys := audit.System()
	if d := after.CapturedCents - before.CapturedCents; d > 0 {
		s.record(ctx, b, audit.EventPaymentCaptured, sys, audit.SourceCron, "", "", map[string]any{"amount_cents": d})
	}
	if d := after.RefundedCents - before.RefundedCents; d > 0 {
		s.record(ctx, b, audit.EventPaymentRefunded, sys, audit.SourceCron, "", "", map[string]any{"amount_cents": d})
	}
	if before.HoldOutstanding() && after.Status == settlement.StatusReleased {
		s.record(ctx, b, audit.EventPaymentHoldCancelled, sys, audit.SourceCron, "", "", nil)
	}
	if d := after.CreditCents - before.CreditCents; d > 0 {
		s.record(ctx, b, audit.EventGoodwillCreditIssued, sys, audit.SourceCron, "", "", map[string]any{"amount_cents": d})
	}
	if execErr != nil {
		payload := map[string]any{"error": execErr.Error(), "retry_count": after.RetryCount}
		if after.NextRetryAt != nil {
			payload["next_retry_at"] = *after.NextRetryAt
		}
		s.record(ctx, b, audit.EventPaymentFailed, sys, audit.SourceCron, "", "", payload)
	}
	if after.ManualCollection && !before.ManualCollection {
		s.record(ctx, b, audit.EventManualCollectionRequired, sys, audit.SourceCron, "", "", nil)
		s.notifier.PaymentActionRequired(ctx, b.Info())
	}
}

// Confirm accepts a pending request. Only the provider (or an admin) may.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor audit.Actor) (*Booking, error) {
	b, changed, err := s.transition(ctx, id, actor, audit.SourceAPI, StatusConfirmed, func(b *Booking, role audit.Role, now time.Time) (effects, error) {
		if role == audit.RolePatient {
			return effects{}, apperr.ErrNotParty
		}
		if b.Reschedule.Pending != nil {
			return effects{}, apperr.ErrProposalPending
		}
		if !now.Before(b.Confirmation.ExpiresAt) {
			return effects{}, apperr.Expiredf("request expired at %s", b.Confirmation.ExpiresAt.Format(time.RFC3339))
		}
		if _, err := s.reservations.Confirm(ctx, b.ReservationID); err != nil {
			return effects{}, err
		}
		b.confirmAt(TimeWindow{Start: b.RequestedStart, End: b.RequestedEnd})
		b.Confirmation.RespondedAt = &now
		b.Confirmation.Response = ResponseAccepted
		return effects{
			event: audit.EventConfirmed,
			also:  []audit.EventType{audit.EventSlotConverted},
			plan:  settlement.PlanConfirmation(b.Payment),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.Confirmed(ctx, b.Info())
	}
	return b, nil
}

// Decline turns down a pending request. The patient is not charged.
func (s *Service) Decline(ctx context.Context, id uuid.UUID, actor audit.Actor, reason string) (*Booking, error) {
	b, changed, err := s.transition(ctx, id, actor, audit.SourceAPI, StatusCancelledProvider, func(b *Booking, role audit.Role, now time.Time) (effects, error) {
		if role == audit.RolePatient {
			return effects{}, apperr.ErrNotParty
		}
		if b.Status != StatusPendingConfirmation {
			return effects{}, fmt.Errorf("%w: only pending requests can be declined", apperr.ErrInvalidTransition)
		}
		b.Confirmation.RespondedAt = &now
		b.Confirmation.Response = ResponseDeclined
		b.Confirmation.DeclineReason = reason
		b.Reschedule.Pending = nil
		b.Cancellation = &Cancellation{
			By:          audit.RoleProvider,
			ActorID:     actor.UserID,
			Reason:      reason,
			At:          now,
			HoursBefore: b.Start().Sub(now).Hours(),
			RefundCents: b.Payment.Settleable(),
		}
		return effects{
			event:   audit.EventDeclined,
			plan:    settlement.PlanRelease(b.Payment, "declined"),
			release: reservation.ReasonBookingCancelled,
			payload: map[string]any{"reason": reason},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.Declined(ctx, b.Info())
	}
	return b, nil
}

// Cancel cancels on behalf of the acting side. Patients pay the policy fee on
// confirmed bookings; a provider cancelling a confirmed booking refunds in
// full and issues the goodwill credit.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor audit.Actor, reason string) (*Booking, error) {
	to := StatusCancelledProvider
	if actor.Role == audit.RolePatient {
		to = StatusCancelledPatient
	}

	b, changed, err := s.transition(ctx, id, actor, audit.SourceAPI, to, func(b *Booking, role audit.Role, now time.Time) (effects, error) {
		c := &Cancellation{
			By:          role,
			ActorID:     actor.UserID,
			Reason:      reason,
			At:          now,
			HoursBefore: b.Start().Sub(now).Hours(),
		}
		fx := effects{
			event:   audit.EventCancelled,
			release: reservation.ReasonBookingCancelled,
			payload: map[string]any{"reason": reason},
		}

		switch {
		case role == audit.RolePatient && b.Status == StatusConfirmed:
			q := settlement.CancellationFee(b.Service.CancellationPolicy, b.Start(), now, b.Payment.Settleable())
			c.FeePercent, c.FeeCents, c.RefundCents = q.FeePercent, q.FeeCents, q.RefundCents
			fx.plan = settlement.PlanCancellation(b.Payment, q)
			fx.release = reservation.ReasonUserCancelled
		case role == audit.RolePatient:
			c.RefundCents = b.Payment.Settleable()
			fx.plan = settlement.PlanRelease(b.Payment, "patient_withdrew")
			fx.release = reservation.ReasonUserCancelled
		case role == audit.RoleProvider && b.Status == StatusConfirmed:
			c.RefundCents = b.Payment.Settleable()
			c.CreditCents = s.settlement.GoodwillCreditCents()
			fx.plan = settlement.PlanProviderCancellation(b.Payment, c.CreditCents)
		default:
			c.RefundCents = b.Payment.Settleable()
			fx.plan = settlement.PlanRelease(b.Payment, "provider_cancellation")
		}

		b.Cancellation = c
		b.Reschedule.Pending = nil
		fx.payload["fee_cents"] = c.FeeCents
		fx.payload["refund_cents"] = c.RefundCents
		return fx, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.Cancelled(ctx, b.Info(), b.Cancellation.By)
	}
	return b, nil
}

// Complete closes a confirmed booking once it has started and captures any
// outstanding hold.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, actor audit.Actor) (*Booking, error) {
	source := audit.SourceAPI
	if actor.IsSystem() {
		source = audit.SourceCron
	}
	b, changed, err := s.transition(ctx, id, actor, source, StatusCompleted, func(b *Booking, role audit.Role, now time.Time) (effects, error) {
		if role == audit.RolePatient {
			return effects{}, apperr.ErrNotParty
		}
		if now.Before(b.Start()) {
			return effects{}, apperr.Validationf("appointment has not started yet")
		}
		b.CompletedAt = &now
		return effects{event: audit.EventCompleted, plan: settlement.PlanCompletion(b.Payment)}, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.notifier.Completed(ctx, b.Info())
	}
	return b, nil
}

// MarkNoShow records that the patient did not turn up. The full amount is
// kept.
func (s *Service) MarkNoShow(ctx context.Context, id uuid.UUID, actor audit.Actor) (*Booking, error) {
	b, _, err := s.transition(ctx, id, actor, audit.SourceAPI, StatusNoShow, func(b *Booking, role audit.Role, now time.Time) (effects, error) {
		if role == audit.RolePatient {
			return effects{}, apperr.ErrNotParty
		}
		if now.Before(b.Start()) {
			return effects{}, apperr.Validationf("appointment has not started yet")
		}
		return effects{event: audit.EventNoShow, plan: settlement.PlanNoShow(b.Payment)}, nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	bookings, err := s.repo.ListByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by patient: %w", err)
	}
	return bookings, nil
}

func (s *Service) ListByProvider(ctx context.Context, providerID uuid.UUID, status Status, limit, offset int) ([]Booking, error) {
	if status != "" && !status.Valid() {
		return nil, apperr.Validationf("unknown status %q", status)
	}
	bookings, err := s.repo.ListByProvider(ctx, providerID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list bookings by provider: %w", err)
	}
	return bookings, nil
}

// Availability returns the provider's busy intervals in [from, to): active
// reservations (buffer included) and confirmed bookings, merged.
func (s *Service) Availability(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Interval, error) {
	if !to.After(from) {
		return nil, apperr.Validationf("to must be after from")
	}
	if to.Sub(from) > maxAvailabilitySpan {
		return nil, apperr.Validationf("range must not exceed %s", maxAvailabilitySpan)
	}

	held, err := s.reservations.ListActive(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	confirmed, err := s.repo.ListConfirmedInRange(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list confirmed bookings: %w", err)
	}

	busy := make([]Interval, 0, len(held)+len(confirmed))
	for _, r := range held {
		busy = append(busy, Interval{Start: r.Start, End: r.End})
	}
	for _, b := range confirmed {
		busy = append(busy, Interval{Start: b.Start(), End: b.End().Add(b.Buffer())})
	}
	return mergeIntervals(busy), nil
}

func mergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return []Interval{}
	}
	sort.Slice(in, func(i, j int) bool { return in[i].Start.Before(in[j].Start) })

	out := []Interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

func (s *Service) Events(ctx context.Context, bookingID uuid.UUID) ([]audit.Event, error) {
	if _, err := s.repo.Get(ctx, bookingID); err != nil {
		return nil, err
	}
	return s.audit.ListByBooking(ctx, bookingID)
}

func (s *Service) ActorEvents(ctx context.Context, userID uuid.UUID, limit int) ([]audit.Event, error) {
	return s.audit.ListByActor(ctx, userID, limit)
}
