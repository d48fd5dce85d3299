package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/db"
)

const bookingColumns = `id, booking_number, version, schema_version, type, status, patient_id, provider_id,
	service, requested_start, requested_end, confirmed_start, confirmed_end, provider_timezone,
	patient_timezone, buffer_minutes, reservation_id, confirmation, reschedule, payment, cancellation,
	source, created_at, updated_at, completed_at`

// ErrDuplicateNumber is returned by Create when the booking number is taken.
var ErrDuplicateNumber = errors.New("booking number already exists")

type PgRepository struct {
	pool db.Querier
}

func NewPgRepository(pool db.Querier) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanBooking(row pgx.Row) (*Booking, error) {
	var (
		b                                      Booking
		service, confirmation, reschedule, pay []byte
		cancellation                           []byte
		reservationID                          *uuid.UUID
	)

	err := row.Scan(
		&b.ID,
		&b.Number,
		&b.Version,
		&b.SchemaVersion,
		&b.Type,
		&b.Status,
		&b.PatientID,
		&b.ProviderID,
		&service,
		&b.RequestedStart,
		&b.RequestedEnd,
		&b.ConfirmedStart,
		&b.ConfirmedEnd,
		&b.ProviderTimezone,
		&b.PatientTimezone,
		&b.BufferMinutes,
		&reservationID,
		&confirmation,
		&reschedule,
		&pay,
		&cancellation,
		&b.Source,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}

	if b.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: booking %s has version %d", ErrUnsupportedSchema, b.ID, b.SchemaVersion)
	}
	if reservationID != nil {
		b.ReservationID = *reservationID
	}

	docs := []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"service", service, &b.Service},
		{"confirmation", confirmation, &b.Confirmation},
		{"reschedule", reschedule, &b.Reschedule},
		{"payment", pay, &b.Payment},
	}
	for _, d := range docs {
		if err := json.Unmarshal(d.raw, d.dst); err != nil {
			return nil, fmt.Errorf("decode booking %s: %w", d.name, err)
		}
	}
	if len(cancellation) > 0 {
		var c Cancellation
		if err := json.Unmarshal(cancellation, &c); err != nil {
			return nil, fmt.Errorf("decode booking cancellation: %w", err)
		}
		b.Cancellation = &c
	}
	return &b, nil
}

func collectBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var result []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	return result, rows.Err()
}

type encodedDocs struct {
	service, confirmation, reschedule, payment, cancellation []byte
}

func encodeDocs(b *Booking) (encodedDocs, error) {
	var (
		e   encodedDocs
		err error
	)
	if e.service, err = json.Marshal(b.Service); err != nil {
		return e, fmt.Errorf("encode service: %w", err)
	}
	if e.confirmation, err = json.Marshal(b.Confirmation); err != nil {
		return e, fmt.Errorf("encode confirmation: %w", err)
	}
	if e.reschedule, err = json.Marshal(b.Reschedule); err != nil {
		return e, fmt.Errorf("encode reschedule: %w", err)
	}
	if e.payment, err = json.Marshal(b.Payment); err != nil {
		return e, fmt.Errorf("encode payment: %w", err)
	}
	if b.Cancellation != nil {
		if e.cancellation, err = json.Marshal(b.Cancellation); err != nil {
			return e, fmt.Errorf("encode cancellation: %w", err)
		}
	}
	return e, nil
}

func nullableID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

// Interface methods

func (r *PgRepository) Create(ctx context.Context, b *Booking) error {
	docs, err := encodeDocs(b)
	if err != nil {
		return err
	}
	due := deriveDue(b)
	b.Version = 1
	b.SchemaVersion = CurrentSchemaVersion

	_, err = r.pool.Exec(ctx, `
		INSERT INTO bookings (
			id, booking_number, version, schema_version, type, status, patient_id, provider_id,
			service, requested_start, requested_end, confirmed_start, confirmed_end, provider_timezone,
			patient_timezone, buffer_minutes, reservation_id, confirmation, reschedule, payment, cancellation,
			source, reminder_due_at, warning_due_at, confirmation_expires_at, reminders_sent,
			expiring_warning_sent, proposal_respond_by, payment_status, payment_next_retry_at,
			created_at, updated_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33
		)
	`,
		b.ID, b.Number, b.Version, b.SchemaVersion, string(b.Type), string(b.Status), b.PatientID, b.ProviderID,
		docs.service, b.RequestedStart, b.RequestedEnd, b.ConfirmedStart, b.ConfirmedEnd, b.ProviderTimezone,
		b.PatientTimezone, b.BufferMinutes, nullableID(b.ReservationID), docs.confirmation, docs.reschedule,
		docs.payment, docs.cancellation, string(b.Source), due.reminderDueAt, due.warningDueAt, due.expiresAt,
		b.Confirmation.RemindersSent, b.Confirmation.ExpiringWarningSent, due.proposalDue,
		string(b.Payment.Status), due.nextSettlement, b.CreatedAt, b.UpdatedAt, b.CompletedAt,
	)
	if err != nil {
		if db.HasCode(err, db.CodeUniqueViolation) {
			return ErrDuplicateNumber
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (r *PgRepository) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *PgRepository) Update(ctx context.Context, b *Booking, expectedVersion int64) error {
	docs, err := encodeDocs(b)
	if err != nil {
		return err
	}
	due := deriveDue(b)

	var version int64
	err = r.pool.QueryRow(ctx, `
		UPDATE bookings SET
			version = version + 1,
			status = $3,
			confirmed_start = $4,
			confirmed_end = $5,
			reservation_id = $6,
			confirmation = $7,
			reschedule = $8,
			payment = $9,
			cancellation = $10,
			reminder_due_at = $11,
			warning_due_at = $12,
			confirmation_expires_at = $13,
			reminders_sent = $14,
			expiring_warning_sent = $15,
			proposal_respond_by = $16,
			payment_status = $17,
			payment_next_retry_at = $18,
			updated_at = $19,
			completed_at = $20
		WHERE id = $1 AND version = $2
		RETURNING version
	`,
		b.ID, expectedVersion, string(b.Status), b.ConfirmedStart, b.ConfirmedEnd, nullableID(b.ReservationID),
		docs.confirmation, docs.reschedule, docs.payment, docs.cancellation, due.reminderDueAt,
		due.warningDueAt, due.expiresAt, b.Confirmation.RemindersSent, b.Confirmation.ExpiringWarningSent,
		due.proposalDue, string(b.Payment.Status), due.nextSettlement, b.UpdatedAt, b.CompletedAt,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.Get(ctx, b.ID); getErr != nil {
				return getErr
			}
			return apperr.ErrStaleVersion
		}
		return fmt.Errorf("update booking: %w", err)
	}
	b.Version = version
	return nil
}

func (r *PgRepository) list(ctx context.Context, query string, args ...any) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	return collectBookings(rows)
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Booking, error) {
	limit, offset = clampPage(limit, offset)
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE patient_id = $1
		ORDER BY requested_start DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
}

func (r *PgRepository) ListByProvider(ctx context.Context, providerID uuid.UUID, status Status, limit, offset int) ([]Booking, error) {
	limit, offset = clampPage(limit, offset)
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY requested_start
		LIMIT $3 OFFSET $4
	`, providerID, string(status), limit, offset)
}

func (r *PgRepository) ListConfirmedInRange(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE provider_id = $1
		  AND status = 'confirmed'
		  AND confirmed_start < $3
		  AND confirmed_end > $2
		ORDER BY confirmed_start
	`, providerID, from, to)
}

func (r *PgRepository) FindRemindersDue(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending_confirmation'
		  AND reminders_sent = 0
		  AND reminder_due_at <= $1
		ORDER BY reminder_due_at
		LIMIT $2
	`, now, limit)
}

func (r *PgRepository) FindWarningsDue(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending_confirmation'
		  AND NOT expiring_warning_sent
		  AND warning_due_at <= $1
		  AND confirmation_expires_at > $1
		ORDER BY warning_due_at
		LIMIT $2
	`, now, limit)
}

func (r *PgRepository) FindExpiredRequests(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending_confirmation'
		  AND confirmation_expires_at <= $1
		  AND proposal_respond_by IS NULL
		ORDER BY confirmation_expires_at
		LIMIT $2
	`, now, limit)
}

func (r *PgRepository) FindProposalsDue(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status IN ('pending_confirmation', 'confirmed')
		  AND proposal_respond_by <= $1
		ORDER BY proposal_respond_by
		LIMIT $2
	`, now, limit)
}

func (r *PgRepository) FindCompletable(ctx context.Context, endedBefore time.Time, limit int) ([]Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'confirmed'
		  AND confirmed_end <= $1
		  AND proposal_respond_by IS NULL
		ORDER BY confirmed_end
		LIMIT $2
	`, endedBefore, limit)
}

func (r *PgRepository) FindSettlementsDue(ctx context.Context, now time.Time, limit int) ([]Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE payment_next_retry_at <= $1
		ORDER BY payment_next_retry_at
		LIMIT $2
	`, now, limit)
}
