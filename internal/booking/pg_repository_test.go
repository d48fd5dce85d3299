package booking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/settlement"
)

var bookingCols = []string{
	"id", "booking_number", "version", "schema_version", "type", "status", "patient_id", "provider_id",
	"service", "requested_start", "requested_end", "confirmed_start", "confirmed_end", "provider_timezone",
	"patient_timezone", "buffer_minutes", "reservation_id", "confirmation", "reschedule", "payment", "cancellation",
	"source", "created_at", "updated_at", "completed_at",
}

func sampleBooking() *Booking {
	start := testNow.Add(72 * time.Hour)
	return &Booking{
		ID:               uuid.New(),
		Number:           "BK-20260501-ABCDE",
		Version:          2,
		SchemaVersion:    CurrentSchemaVersion,
		Type:             TypeRequest,
		Status:           StatusPendingConfirmation,
		PatientID:        uuid.New(),
		ProviderID:       uuid.New(),
		Service:          ServiceSnapshot{ID: "svc-follow-up", Name: "Follow-up", PriceCents: 10_000, DurationMinutes: 60},
		RequestedStart:   start,
		RequestedEnd:     start.Add(time.Hour),
		ProviderTimezone: "America/Denver",
		PatientTimezone:  "America/Denver",
		BufferMinutes:    15,
		ReservationID:    uuid.New(),
		Confirmation: Confirmation{
			Required:    true,
			RequestedAt: testNow,
			DeadlineAt:  testNow.Add(24 * time.Hour),
			ExpiresAt:   testNow.Add(48 * time.Hour),
			ReminderAt:  testNow.Add(24 * time.Hour),
			WarningAt:   testNow.Add(44 * time.Hour),
		},
		Reschedule: Reschedule{MaxAttempts: 2, History: []Proposal{}},
		Payment: settlement.Payment{
			Terms:         settlement.Hold{HoldID: "hold_1", CapturePoint: settlement.CaptureOnCompletion},
			Status:        settlement.StatusAuthorized,
			OriginalCents: 10_000,
		},
		Source:    audit.SourceApp,
		CreatedAt: testNow,
		UpdatedAt: testNow,
	}
}

func bookingRow(t *testing.T, b *Booking) *pgxmock.Rows {
	t.Helper()
	docs, err := encodeDocs(b)
	require.NoError(t, err)
	return pgxmock.NewRows(bookingCols).AddRow(
		b.ID, b.Number, b.Version, b.SchemaVersion, b.Type, b.Status, b.PatientID, b.ProviderID,
		docs.service, b.RequestedStart, b.RequestedEnd, (*time.Time)(nil), (*time.Time)(nil), b.ProviderTimezone,
		b.PatientTimezone, b.BufferMinutes, &b.ReservationID, docs.confirmation, docs.reschedule, docs.payment, []byte(nil),
		b.Source, b.CreatedAt, b.UpdatedAt, (*time.Time)(nil),
	)
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPgRepositoryGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	want := sampleBooking()
	mock.ExpectQuery("FROM bookings WHERE id").
		WithArgs(want.ID).
		WillReturnRows(bookingRow(t, want))

	got, err := NewPgRepository(mock).Get(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Number, got.Number)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, want.ReservationID, got.ReservationID)
	assert.Equal(t, want.Confirmation.ExpiresAt, got.Confirmation.ExpiresAt)
	assert.Equal(t, "hold_1", got.Payment.Terms.(settlement.Hold).HoldID)
	assert.Nil(t, got.Cancellation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryGetMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("FROM bookings WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(bookingCols))

	_, err = NewPgRepository(mock).Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrBookingNotFound)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestPgRepositoryRejectsNewerSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := sampleBooking()
	b.SchemaVersion = CurrentSchemaVersion + 1
	mock.ExpectQuery("FROM bookings WHERE id").
		WithArgs(b.ID).
		WillReturnRows(bookingRow(t, b))

	_, err = NewPgRepository(mock).Get(context.Background(), b.ID)
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestPgRepositoryUpdateBumpsVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := sampleBooking()
	args := append([]any{b.ID, int64(2)}, anyArgs(18)...)
	mock.ExpectQuery("UPDATE bookings SET").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(int64(3)))

	require.NoError(t, NewPgRepository(mock).Update(context.Background(), b, 2))
	assert.Equal(t, int64(3), b.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := sampleBooking()
	args := append([]any{b.ID, int64(1)}, anyArgs(18)...)
	mock.ExpectQuery("UPDATE bookings SET").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"version"}))
	mock.ExpectQuery("FROM bookings WHERE id").
		WithArgs(b.ID).
		WillReturnRows(bookingRow(t, b))

	err = NewPgRepository(mock).Update(context.Background(), b, 1)
	assert.ErrorIs(t, err, apperr.ErrStaleVersion)
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateDuplicateNumber(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO bookings").
		WithArgs(anyArgs(33)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_booking_number_key"})

	err = NewPgRepository(mock).Create(context.Background(), sampleBooking())
	assert.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestPgRepositoryCreateStoresDueColumns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := sampleBooking()
	reminder := b.Confirmation.ReminderAt
	warning := b.Confirmation.WarningAt
	expires := b.Confirmation.ExpiresAt

	args := anyArgs(33)
	args[2] = int64(1)
	args[5] = "pending_confirmation"
	args[22] = &reminder
	args[23] = &warning
	args[24] = &expires
	args[28] = "authorized"
	mock.ExpectExec("INSERT INTO bookings").
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewPgRepository(mock).Create(context.Background(), b))
	assert.Equal(t, int64(1), b.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryFindSettlementsDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := sampleBooking()
	plan := settlement.Plan{Reason: "completed", CaptureCents: 10_000}
	b.Payment.Pending = &plan
	mock.ExpectQuery("payment_next_retry_at <= \\$1").
		WithArgs(testNow, 50).
		WillReturnRows(bookingRow(t, b))

	due, err := NewPgRepository(mock).FindSettlementsDue(context.Background(), testNow, 50)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.NotNil(t, due[0].Payment.Pending)
	assert.Equal(t, plan, *due[0].Payment.Pending)

	raw, err := json.Marshal(due[0].Payment)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mode":"hold"`)
}
