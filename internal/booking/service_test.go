package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/config"
	"github.com/hackgods/booking-settlement-engine/internal/notify"
	redisclient "github.com/hackgods/booking-settlement-engine/internal/redis"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	svc          *Service
	deps         Deps
	repo         *MemoryRepository
	settings     *StaticSettings
	reservations *reservation.Manager
	processor    *settlement.FakeProcessor
	events       *audit.MemoryStore
	notifier     *notify.Dispatcher
	clock        *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewFake(testNow)
	logger := zerolog.Nop()

	defaults := DefaultSettings(config.BookingDefaults{
		Mode:                  "request",
		ConfirmationDeadline:  24 * time.Hour,
		ExpireAfter:           48 * time.Hour,
		ReminderAfter:         24 * time.Hour,
		ExpiringWarning:       4 * time.Hour,
		MinAdvanceNotice:      2 * time.Hour,
		MaxAdvanceNotice:      90 * 24 * time.Hour,
		MaxRescheduleAttempts: 2,
		RescheduleWindow:      24 * time.Hour,
		BufferMinutes:         15,
		Timezone:              "America/Denver",
	}, config.SettlementConfig{CapturePoint: "completion"})

	processor := settlement.NewFakeProcessor()
	settle := settlement.NewService(processor, settlement.NewMemoryLedger(), clk, settlement.Config{
		MaxAttempts:         3,
		RetryBackoff:        time.Hour,
		GoodwillCreditCents: 2_000,
	}, logger, nil)

	repo := NewMemoryRepository()
	settings := NewStaticSettings(defaults)
	resv := reservation.NewManager(reservation.NewMemoryStore(), redisclient.NoopLocker{}, clk, 10*time.Minute, logger, nil)
	events := audit.NewMemoryStore()
	notifier := notify.NewDispatcher(notify.Channels{}, clk, logger, nil)
	t.Cleanup(notifier.Wait)

	deps := Deps{
		Repo:         repo,
		Settings:     settings,
		Reservations: resv,
		Settlement:   settle,
		Audit:        audit.NewRecorder(events, clk, logger, nil),
		Notifier:     notifier,
		Clock:        clk,
		Logger:       logger,
	}
	return &harness{
		svc:          NewService(deps),
		deps:         deps,
		repo:         repo,
		settings:     settings,
		reservations: resv,
		processor:    processor,
		events:       events,
		notifier:     notifier,
		clock:        clk,
	}
}

func (h *harness) request(priceCents int64, start time.Time) CreateRequest {
	return CreateRequest{
		PatientID:  uuid.New(),
		ProviderID: uuid.New(),
		Service: ServiceSnapshot{
			ID:              "svc-initial",
			Name:            "Initial consultation",
			PriceCents:      priceCents,
			DurationMinutes: 60,
		},
		Start:         start,
		PaymentMethod: "pm_card_visa",
	}
}

func patientOf(b *Booking) audit.Actor  { return audit.Actor{UserID: b.PatientID, Role: audit.RolePatient} }
func providerOf(b *Booking) audit.Actor { return audit.Actor{UserID: b.ProviderID, Role: audit.RoleProvider} }

func eventTypes(t *testing.T, h *harness, id uuid.UUID) []audit.EventType {
	t.Helper()
	evs, err := h.events.ListByBooking(context.Background(), id)
	require.NoError(t, err)
	out := make([]audit.EventType, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}

func TestRequestConfirmedThenCompletedCapturesHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)

	b, err := h.svc.Create(ctx, h.request(10_000, start))
	require.NoError(t, err)
	assert.Equal(t, StatusPendingConfirmation, b.Status)
	assert.Equal(t, settlement.StatusAuthorized, b.Payment.Status)
	assert.True(t, b.Payment.HoldOutstanding())
	assert.Equal(t, testNow.Add(48*time.Hour), b.Confirmation.ExpiresAt)
	assert.Regexp(t, `^BK-20260501-[A-Z2-9]{5}$`, b.Number)

	res, err := h.reservations.Get(ctx, b.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusHeld, res.Status)
	assert.Equal(t, b.Confirmation.ExpiresAt, res.ExpiresAt)

	h.clock.Advance(time.Hour)
	b, err = h.svc.Confirm(ctx, b.ID, providerOf(b))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
	require.NotNil(t, b.ConfirmedStart)
	assert.Equal(t, start, *b.ConfirmedStart)

	res, err = h.reservations.Get(ctx, b.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusConfirmed, res.Status)
	assert.Equal(t, 0, h.processor.Calls("capture"))

	h.clock.Set(start.Add(90 * time.Minute))
	b, err = h.svc.Complete(ctx, b.ID, providerOf(b))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, b.Status)
	assert.Equal(t, settlement.StatusCaptured, b.Payment.Status)
	assert.Equal(t, int64(10_000), b.Payment.CapturedCents)
	assert.Nil(t, b.Payment.Pending)

	assert.Equal(t, []audit.EventType{
		audit.EventCreated,
		audit.EventSlotReserved,
		audit.EventPaymentInitiated,
		audit.EventPaymentHeld,
		audit.EventConfirmed,
		audit.EventSlotConverted,
		audit.EventCompleted,
		audit.EventPaymentCaptured,
	}, eventTypes(t, h, b.ID))
}

func TestUnansweredRequestExpiresAndReleasesHold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.svc.Create(ctx, h.request(10_000, testNow.Add(72*time.Hour)))
	require.NoError(t, err)

	h.clock.Advance(47 * time.Hour)
	n, err := h.svc.ExpireUnanswered(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(time.Hour)
	n, err = h.svc.ExpireUnanswered(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err = h.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, b.Status)
	assert.Equal(t, settlement.StatusReleased, b.Payment.Status)
	assert.Zero(t, b.Payment.CapturedCents)
	assert.Equal(t, 1, h.processor.Calls("void"))
	assert.Zero(t, h.processor.Calls("capture"))

	res, err := h.reservations.Get(ctx, b.ReservationID)
	require.NoError(t, err)
	assert.False(t, res.IsActive(h.clock.Now()))

	n, err = h.svc.ExpireUnanswered(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPatientCancelsConfirmedBookingTenHoursOut(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)

	req := h.request(20_000, start)
	req.Type = TypeInstant
	b, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, b.Status)
	assert.Equal(t, settlement.StatusCaptured, b.Payment.Status)

	h.clock.Set(start.Add(-10 * time.Hour))
	b, err = h.svc.Cancel(ctx, b.ID, patientOf(b), "conflict at work")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelledPatient, b.Status)
	require.NotNil(t, b.Cancellation)
	assert.Equal(t, int64(50), b.Cancellation.FeePercent)
	assert.Equal(t, int64(10_000), b.Cancellation.FeeCents)
	assert.Equal(t, int64(10_000), b.Cancellation.RefundCents)
	assert.Equal(t, int64(10_000), b.Payment.RefundedCents)
	assert.Equal(t, settlement.StatusPartiallyRefunded, b.Payment.Status)

	res, err := h.reservations.Get(ctx, b.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusReleased, res.Status)
}

func TestProviderCancellationRefundsInFullWithCredit(t *testing.T) {
	for _, before := range []time.Duration{70 * time.Hour, 3 * time.Hour} {
		t.Run(before.String(), func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			start := testNow.Add(72 * time.Hour)

			req := h.request(15_000, start)
			req.Type = TypeInstant
			b, err := h.svc.Create(ctx, req)
			require.NoError(t, err)

			h.clock.Set(start.Add(-before))
			b, err = h.svc.Cancel(ctx, b.ID, providerOf(b), "sick")
			require.NoError(t, err)

			assert.Equal(t, StatusCancelledProvider, b.Status)
			assert.Equal(t, int64(15_000), b.Payment.RefundedCents)
			assert.Equal(t, int64(2_000), b.Payment.CreditCents)
			assert.Equal(t, settlement.StatusRefunded, b.Payment.Status)
			assert.Equal(t, int64(2_000), b.Cancellation.CreditCents)
			assert.Contains(t, eventTypes(t, h, b.ID), audit.EventGoodwillCreditIssued)
		})
	}
}

func TestCreateRejectsOverlappingSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)

	first := h.request(10_000, start)
	_, err := h.svc.Create(ctx, first)
	require.NoError(t, err)

	second := h.request(10_000, start.Add(30*time.Minute))
	second.ProviderID = first.ProviderID
	_, err = h.svc.Create(ctx, second)
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
}

func TestDeclinedPaymentFreesTheSlot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.request(10_000, testNow.Add(72*time.Hour))

	h.processor.FailNext("authorize", settlement.Declined("authorize"))
	_, err := h.svc.Create(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrPayment)

	b, err := h.svc.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingConfirmation, b.Status)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		modify func(r *CreateRequest)
	}{
		{"too soon", func(r *CreateRequest) { r.Start = testNow.Add(time.Hour) }},
		{"too far", func(r *CreateRequest) { r.Start = testNow.Add(100 * 24 * time.Hour) }},
		{"price below minimum", func(r *CreateRequest) { r.Service.PriceCents = 499 }},
		{"no payment method", func(r *CreateRequest) { r.PaymentMethod = "" }},
		{"no duration", func(r *CreateRequest) { r.Service.DurationMinutes = 0 }},
		{"unknown type", func(r *CreateRequest) { r.Type = "walk_in" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request(10_000, testNow.Add(72*time.Hour))
			tt.modify(&req)
			_, err := h.svc.Create(ctx, req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestTerminalBookingRejectsFurtherTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.svc.Create(ctx, h.request(10_000, testNow.Add(72*time.Hour)))
	require.NoError(t, err)

	b, err = h.svc.Cancel(ctx, b.ID, patientOf(b), "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelledPatient, b.Status)
	assert.Zero(t, b.Cancellation.FeeCents)
	assert.Equal(t, settlement.StatusReleased, b.Payment.Status)

	_, err = h.svc.Confirm(ctx, b.ID, providerOf(b))
	assert.ErrorIs(t, err, apperr.ErrTerminal)

	_, err = h.svc.Cancel(ctx, b.ID, patientOf(b), "changed my mind")
	assert.ErrorIs(t, err, apperr.ErrTerminal)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Contains(t, err.Error(), string(StatusCancelledPatient))

	stored, err := h.repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Version, stored.Version)
	assert.Equal(t, 1, h.processor.Calls("void"))
}

func TestOnlyPartiesMayAct(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.svc.Create(ctx, h.request(10_000, testNow.Add(72*time.Hour)))
	require.NoError(t, err)

	stranger := audit.Actor{UserID: uuid.New(), Role: audit.RolePatient}
	_, err = h.svc.Cancel(ctx, b.ID, stranger, "")
	assert.ErrorIs(t, err, apperr.ErrNotParty)

	_, err = h.svc.Confirm(ctx, b.ID, patientOf(b))
	assert.ErrorIs(t, err, apperr.ErrNotParty)
}

func TestDeclineReleasesEverything(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.svc.Create(ctx, h.request(10_000, testNow.Add(72*time.Hour)))
	require.NoError(t, err)

	b, err = h.svc.Decline(ctx, b.ID, providerOf(b), "fully booked")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelledProvider, b.Status)
	assert.Equal(t, ResponseDeclined, b.Confirmation.Response)
	assert.Equal(t, "fully booked", b.Confirmation.DeclineReason)
	assert.Equal(t, settlement.StatusReleased, b.Payment.Status)
	assert.Zero(t, b.Payment.CreditCents)
}

func TestCompleteBeforeStartIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := h.request(10_000, testNow.Add(72*time.Hour))
	req.Type = TypeInstant
	b, err := h.svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = h.svc.Complete(ctx, b.ID, providerOf(b))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = h.svc.MarkNoShow(ctx, b.ID, providerOf(b))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestFailedCaptureIsRetriedBySweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)

	b, err := h.svc.Create(ctx, h.request(10_000, start))
	require.NoError(t, err)
	b, err = h.svc.Confirm(ctx, b.ID, providerOf(b))
	require.NoError(t, err)

	h.clock.Set(start.Add(2 * time.Hour))
	h.processor.FailNext("capture", settlement.Unavailable("capture"))
	b, err = h.svc.Complete(ctx, b.ID, providerOf(b))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, b.Status)
	assert.Equal(t, settlement.StatusRetrying, b.Payment.Status)
	require.NotNil(t, b.Payment.Pending)

	n, err := h.svc.RetrySettlements(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(time.Hour)
	n, err = h.svc.RetrySettlements(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err = h.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StatusCaptured, b.Payment.Status)
	assert.Equal(t, int64(10_000), b.Payment.CapturedCents)
	assert.Nil(t, b.Payment.Pending)
	assert.Equal(t, 2, h.processor.Calls("capture"))
	assert.Contains(t, eventTypes(t, h, b.ID), audit.EventPaymentFailed)
}

func TestAutoCompleteAfterGrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)

	req := h.request(10_000, start)
	req.Type = TypeInstant
	b, err := h.svc.Create(ctx, req)
	require.NoError(t, err)

	h.clock.Set(start.Add(2 * time.Hour))
	n, err := h.svc.AutoComplete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Set(start.Add(26 * time.Hour))
	n, err = h.svc.AutoComplete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err = h.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, b.Status)
	require.NotNil(t, b.CompletedAt)
}

func TestReminderAndWarningSentOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	b, err := h.svc.Create(ctx, h.request(10_000, testNow.Add(72*time.Hour)))
	require.NoError(t, err)

	h.clock.Advance(24 * time.Hour)
	n, err := h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = h.svc.SendReminders(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(20 * time.Hour)
	n, err = h.svc.SendExpiringWarnings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = h.svc.SendExpiringWarnings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	b, err = h.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Confirmation.RemindersSent)
	assert.True(t, b.Confirmation.ExpiringWarningSent)
}

func TestExpiryCappedAtAppointmentStart(t *testing.T) {
	h := newHarness(t)
	start := testNow.Add(6 * time.Hour)

	b, err := h.svc.Create(context.Background(), h.request(10_000, start))
	require.NoError(t, err)
	assert.Equal(t, start, b.Confirmation.ExpiresAt)
	assert.Equal(t, start, b.Confirmation.DeadlineAt)
}

func TestCleanupReleasesOrphanedPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bookingID := uuid.New()
	patientID := uuid.New()
	res, err := h.reservations.Acquire(ctx, reservation.AcquireRequest{
		ProviderID: uuid.New(),
		PatientID:  &patientID,
		BookingID:  &bookingID,
		Start:      testNow.Add(48 * time.Hour),
		End:        testNow.Add(49 * time.Hour),
	})
	require.NoError(t, err)

	_, err = h.svc.settlement.Initiate(ctx, bookingID, settlement.ModeHold, 10_000, "pm_card", settlement.CaptureOnCompletion)
	require.NoError(t, err)

	h.clock.Advance(11 * time.Minute)
	expired, compensated, err := h.svc.CleanupReservations(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)
	assert.Equal(t, 1, compensated)
	assert.Equal(t, 1, h.processor.Calls("void"))

	got, err := h.reservations.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusExpired, got.Status)
}

func TestAvailabilityMergesBusyIntervals(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := testNow.Add(72 * time.Hour)

	first := h.request(10_000, start)
	first.Type = TypeInstant
	_, err := h.svc.Create(ctx, first)
	require.NoError(t, err)

	second := h.request(10_000, start.Add(75*time.Minute))
	second.ProviderID = first.ProviderID
	_, err = h.svc.Create(ctx, second)
	require.NoError(t, err)

	busy, err := h.svc.Availability(ctx, first.ProviderID, start.Add(-time.Hour), start.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.Equal(t, start, busy[0].Start)
	assert.Equal(t, start.Add(150*time.Minute), busy[0].End)

	_, err = h.svc.Availability(ctx, first.ProviderID, start, start)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMergeIntervals(t *testing.T) {
	at := func(h int) time.Time { return testNow.Add(time.Duration(h) * time.Hour) }
	got := mergeIntervals([]Interval{
		{Start: at(5), End: at(6)},
		{Start: at(0), End: at(2)},
		{Start: at(1), End: at(3)},
		{Start: at(3), End: at(4)},
	})
	assert.Equal(t, []Interval{
		{Start: at(0), End: at(4)},
		{Start: at(5), End: at(6)},
	}, got)
	assert.Empty(t, mergeIntervals(nil))
}
