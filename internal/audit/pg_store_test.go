package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPgStoreAppend(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	ev := Event{
		ID:            uuid.New(),
		BookingID:     uuid.New(),
		BookingNumber: "BK-20260401-ABCDE",
		Type:          EventReminderSent,
		Actor:         System(),
		Source:        SourceCron,
		OccurredAt:    now,
	}

	mock.ExpectExec("INSERT INTO booking_events").
		WithArgs(ev.ID, ev.BookingID, ev.BookingNumber, "reminder_sent", pgxmock.AnyArg(), "system",
			"cron", "", "", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), ev))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreListByBooking(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	bookingID := uuid.New()
	actorID := uuid.New()

	cols := []string{"id", "booking_id", "booking_number", "event_type", "actor_id", "actor_role", "source",
		"previous_status", "new_status", "payload", "occurred_at"}
	mock.ExpectQuery("FROM booking_events").
		WithArgs(bookingID).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(uuid.New(), bookingID, "BK-20260401-ABCDE", EventCreated, &actorID, RolePatient, SourceApp, "", "pending_confirmation", []byte(`{}`), now).
			AddRow(uuid.New(), bookingID, "BK-20260401-ABCDE", EventExpired, (*uuid.UUID)(nil), RoleSystem, SourceCron, "pending_confirmation", "expired", []byte(nil), now.Add(48*time.Hour)))

	events, err := store.ListByBooking(context.Background(), bookingID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, actorID, events[0].Actor.UserID)
	assert.Equal(t, uuid.Nil, events[1].Actor.UserID)
	assert.Equal(t, RoleSystem, events[1].Actor.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}
