package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
)

var columns = []string{"id", "provider_id", "patient_id", "booking_id", "session_id", "start_time", "end_time",
	"status", "expires_at", "release_reason", "compensated_at", "created_at", "updated_at"}

func reservationRow(r Reservation) []any {
	var reason *string
	if r.ReleaseReason != nil {
		s := string(*r.ReleaseReason)
		reason = &s
	}
	return []any{r.ID, r.ProviderID, r.PatientID, r.BookingID, r.SessionID, r.Start, r.End,
		r.Status, r.ExpiresAt, reason, r.CompensatedAt, r.CreatedAt, r.UpdatedAt}
}

func TestPgStoreInsertMapsExclusionViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := &Reservation{ID: uuid.New(), ProviderID: uuid.New(), Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), ExpiresAt: now.Add(10 * time.Minute)}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slot_reservations").
		WithArgs(r.ProviderID, r.ID, r.Start, r.End, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("INSERT INTO slot_reservations").
		WillReturnError(&pgconn.PgError{Code: "23P01", ConstraintName: "slot_reservations_no_overlap"})
	mock.ExpectRollback()

	err = store.Insert(context.Background(), r, now)
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreInsertCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	patient := uuid.New()
	r := &Reservation{ID: uuid.New(), ProviderID: uuid.New(), PatientID: &patient, Start: now.Add(time.Hour), End: now.Add(2 * time.Hour), ExpiresAt: now.Add(10 * time.Minute)}

	stored := *r
	stored.Status = StatusHeld
	stored.CreatedAt = now
	stored.UpdatedAt = now

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slot_reservations").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("INSERT INTO slot_reservations").
		WithArgs(r.ID, r.ProviderID, r.PatientID, r.BookingID, r.SessionID, r.Start, r.End, r.ExpiresAt, now).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(reservationRow(stored)...))
	mock.ExpectCommit()

	require.NoError(t, store.Insert(context.Background(), r, now))
	assert.Equal(t, StatusHeld, r.Status)
	assert.Equal(t, now, r.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreConfirmHeldNoMatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)
	id := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("UPDATE slot_reservations").
		WithArgs(id, now).
		WillReturnRows(pgxmock.NewRows(columns))

	_, err = store.ConfirmHeld(context.Background(), id, now)
	assert.ErrorIs(t, err, ErrReservationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStoreExpireStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPgStore(mock)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE slot_reservations").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.ExpireStale(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
