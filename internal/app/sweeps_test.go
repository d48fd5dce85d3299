package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/booking"
	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/config"
	"github.com/hackgods/booking-settlement-engine/internal/notify"
	redisclient "github.com/hackgods/booking-settlement-engine/internal/redis"
	"github.com/hackgods/booking-settlement-engine/internal/reservation"
	"github.com/hackgods/booking-settlement-engine/internal/scheduler"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

func TestRegisteredSweepsExpireUnansweredRequests(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	logger := zerolog.Nop()

	cfg := config.Config{
		Booking: config.BookingDefaults{
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
			Timezone:              "UTC",
		},
		Settlement: config.SettlementConfig{MaxAttempts: 3, RetryBackoff: time.Hour, CapturePoint: "completion"},
	}

	notifier := notify.NewDispatcher(notify.Channels{}, clk, logger, nil)
	t.Cleanup(notifier.Wait)

	repo := booking.NewMemoryRepository()
	svc := booking.NewService(booking.Deps{
		Repo:         repo,
		Settings:     booking.NewStaticSettings(booking.DefaultSettings(cfg.Booking, cfg.Settlement)),
		Reservations: reservation.NewManager(reservation.NewMemoryStore(), redisclient.NoopLocker{}, clk, 10*time.Minute, logger, nil),
		Settlement:   settlement.NewService(settlement.NewFakeProcessor(), settlement.NewMemoryLedger(), clk, settlement.Config{MaxAttempts: 3, RetryBackoff: time.Hour}, logger, nil),
		Audit:        audit.NewRecorder(audit.NewMemoryStore(), clk, logger, nil),
		Notifier:     notifier,
		Clock:        clk,
		Logger:       logger,
	})

	ctx := context.Background()
	b, err := svc.Create(ctx, booking.CreateRequest{
		PatientID:     uuid.New(),
		ProviderID:    uuid.New(),
		Service:       booking.ServiceSnapshot{ID: "svc-1", Name: "Consultation", PriceCents: 10_000, DurationMinutes: 60},
		Start:         now.Add(72 * time.Hour),
		PaymentMethod: "pm_card_visa",
	})
	require.NoError(t, err)

	s := scheduler.New(clk, time.Second, logger, nil)
	RegisterSweeps(s, svc, time.Hour, logger)

	assert.Equal(t, 7, s.Tick(ctx))

	clk.Advance(45 * time.Hour)
	s.Tick(ctx)

	got, err := repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusPendingConfirmation, got.Status)
	assert.Equal(t, 1, got.Confirmation.RemindersSent)
	assert.True(t, got.Confirmation.ExpiringWarningSent)

	clk.Advance(3 * time.Hour)
	s.Tick(ctx)

	got, err = repo.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusExpired, got.Status)
}
