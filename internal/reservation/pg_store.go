package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/booking-settlement-engine/internal/apperr"
	"github.com/hackgods/booking-settlement-engine/internal/db"
)

const reservationColumns = `id, provider_id, patient_id, booking_id, session_id, start_time, end_time,
	status, expires_at, release_reason, compensated_at, created_at, updated_at`

type PgStore struct {
	pool db.Querier
}

func NewPgStore(pool db.Querier) *PgStore {
	return &PgStore{pool: pool}
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var reason *string

	err := row.Scan(
		&r.ID,
		&r.ProviderID,
		&r.PatientID,
		&r.BookingID,
		&r.SessionID,
		&r.Start,
		&r.End,
		&r.Status,
		&r.ExpiresAt,
		&reason,
		&r.CompensatedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	if reason != nil {
		rr := ReleaseReason(*reason)
		r.ReleaseReason = &rr
	}
	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// expireOverlapping flips held rows that are past expiry and overlap the window
// so the exclusion constraint stops counting them.
func expireOverlapping(ctx context.Context, tx pgx.Tx, providerID, skipID uuid.UUID, start, end, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE slot_reservations
		SET status = 'expired',
		    release_reason = 'expired',
		    updated_at = $5
		WHERE provider_id = $1
		  AND id <> $2
		  AND status = 'held'
		  AND expires_at <= $5
		  AND tstzrange(start_time, end_time, '[)') && tstzrange($3, $4, '[)')
	`, providerID, skipID, start, end, now)
	if err != nil {
		return fmt.Errorf("expire overlapping holds: %w", err)
	}
	return nil
}

func (s *PgStore) Insert(ctx context.Context, r *Reservation, now time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reservation tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := expireOverlapping(ctx, tx, r.ProviderID, r.ID, r.Start, r.End, now); err != nil {
		return err
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO slot_reservations
			(id, provider_id, patient_id, booking_id, session_id, start_time, end_time, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'held', $8, $9, $9)
		RETURNING `+reservationColumns,
		r.ID, r.ProviderID, r.PatientID, r.BookingID, r.SessionID, r.Start, r.End, r.ExpiresAt, now)

	created, err := scanReservation(row)
	if err != nil {
		if db.HasCode(err, db.CodeExclusionViolation) || db.HasCode(err, db.CodeUniqueViolation) {
			return apperr.ErrSlotUnavailable
		}
		return fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if db.HasCode(err, db.CodeExclusionViolation) {
			return apperr.ErrSlotUnavailable
		}
		return fmt.Errorf("commit reservation: %w", err)
	}

	*r = *created
	return nil
}

func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM slot_reservations
		WHERE id = $1
	`, id)
	return scanReservation(row)
}

func (s *PgStore) ConfirmHeld(ctx context.Context, id uuid.UUID, now time.Time) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE slot_reservations
		SET status = 'confirmed',
		    updated_at = $2
		WHERE id = $1
		  AND status = 'held'
		  AND expires_at > $2
		RETURNING `+reservationColumns, id, now)
	return scanReservation(row)
}

func (s *PgStore) ReleaseActive(ctx context.Context, id uuid.UUID, reason ReleaseReason, now time.Time) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE slot_reservations
		SET status = 'released',
		    release_reason = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status IN ('held', 'confirmed')
		RETURNING `+reservationColumns, id, string(reason), now)
	return scanReservation(row)
}

func (s *PgStore) AttachHeld(ctx context.Context, id, bookingID uuid.UUID, until, now time.Time) (*Reservation, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE slot_reservations
		SET booking_id = $2,
		    expires_at = GREATEST(expires_at, $3),
		    updated_at = $4
		WHERE id = $1
		  AND status = 'held'
		  AND expires_at > $4
		RETURNING `+reservationColumns, id, bookingID, until, now)
	return scanReservation(row)
}

func (s *PgStore) Move(ctx context.Context, id uuid.UUID, start, end, now time.Time) (*Reservation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin move tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanReservation(tx.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM slot_reservations
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}
	if !current.IsActive(now) {
		return nil, ErrReservationNotFound
	}

	if err := expireOverlapping(ctx, tx, current.ProviderID, id, start, end, now); err != nil {
		return nil, err
	}

	moved, err := scanReservation(tx.QueryRow(ctx, `
		UPDATE slot_reservations
		SET start_time = $2,
		    end_time = $3,
		    updated_at = $4
		WHERE id = $1
		RETURNING `+reservationColumns, id, start, end, now))
	if err != nil {
		if db.HasCode(err, db.CodeExclusionViolation) {
			return nil, apperr.ErrSlotUnavailable
		}
		return nil, fmt.Errorf("move reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit move: %w", err)
	}
	return moved, nil
}

func (s *PgStore) ListActive(ctx context.Context, providerID uuid.UUID, from, to, now time.Time) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM slot_reservations
		WHERE provider_id = $1
		  AND start_time < $3
		  AND end_time > $2
		  AND (status = 'confirmed' OR (status = 'held' AND expires_at > $4))
		ORDER BY start_time
	`, providerID, from, to, now)
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}
	return collectReservations(rows)
}

func (s *PgStore) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE slot_reservations
		SET status = 'expired',
		    release_reason = 'expired',
		    updated_at = $1
		WHERE status = 'held'
		  AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire stale reservations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PgStore) PendingCompensation(ctx context.Context, limit int) ([]Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM slot_reservations
		WHERE status = 'expired'
		  AND compensated_at IS NULL
		ORDER BY updated_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reservations pending compensation: %w", err)
	}
	return collectReservations(rows)
}

func (s *PgStore) MarkCompensated(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE slot_reservations
		SET compensated_at = $2
		WHERE id = $1
		  AND compensated_at IS NULL
	`, id, now)
	if err != nil {
		return fmt.Errorf("mark reservation compensated: %w", err)
	}
	return nil
}

func (s *PgStore) Stats(ctx context.Context, providerID uuid.UUID, now time.Time) (Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'held' AND expires_at > $2),
			COUNT(*) FILTER (WHERE status = 'confirmed'),
			COUNT(*) FILTER (WHERE status = 'released'),
			COUNT(*) FILTER (WHERE status = 'expired' OR (status = 'held' AND expires_at <= $2))
		FROM slot_reservations
		WHERE provider_id = $1
	`, providerID, now).Scan(&st.Held, &st.Confirmed, &st.Released, &st.Expired)
	if err != nil {
		return Stats{}, fmt.Errorf("reservation stats: %w", err)
	}
	return st, nil
}
