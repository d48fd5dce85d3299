package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/booking-settlement-engine/internal/db"
)

const operationColumns = `idempotency_key, booking_id, kind, status, amount_cents,
	COALESCE(reference, ''), attempts, COALESCE(last_error, ''), created_at, updated_at`

type PgLedger struct {
	pool db.Querier
}

func NewPgLedger(pool db.Querier) *PgLedger {
	return &PgLedger{pool: pool}
}

func scanOperation(row pgx.Row) (Operation, error) {
	var op Operation
	err := row.Scan(
		&op.Key,
		&op.BookingID,
		&op.Kind,
		&op.Status,
		&op.AmountCents,
		&op.Reference,
		&op.Attempts,
		&op.LastError,
		&op.CreatedAt,
		&op.UpdatedAt,
	)
	return op, err
}

// Begin inserts or reclaims the operation row in one statement. The conflict
// update only fires when the row is not held by a live claim, so a pending row
// younger than lease returns no row.
func (l *PgLedger) Begin(ctx context.Context, op Operation, now time.Time, lease time.Duration) (Operation, error) {
	row := l.pool.QueryRow(ctx, `
		INSERT INTO payment_operations
			(idempotency_key, booking_id, kind, status, amount_cents, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', $4, 1, $5, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET attempts = CASE WHEN payment_operations.status = 'succeeded'
		                    THEN payment_operations.attempts
		                    ELSE payment_operations.attempts + 1 END,
		    status = CASE WHEN payment_operations.status = 'succeeded'
		                  THEN 'succeeded'
		                  ELSE 'pending' END,
		    updated_at = CASE WHEN payment_operations.status = 'succeeded'
		                      THEN payment_operations.updated_at
		                      ELSE $5 END
		WHERE payment_operations.status <> 'pending'
		   OR payment_operations.updated_at < $6
		RETURNING `+operationColumns,
		op.Key, op.BookingID, string(op.Kind), op.AmountCents, now, now.Add(-lease))

	stored, err := scanOperation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operation{}, ErrOperationInFlight
	}
	if err != nil {
		return Operation{}, fmt.Errorf("begin payment operation %s: %w", op.Key, err)
	}
	return stored, nil
}

func (l *PgLedger) Finish(ctx context.Context, key string, status OpStatus, reference, errMsg string, now time.Time) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE payment_operations
		SET status = $2,
		    reference = NULLIF($3, ''),
		    last_error = NULLIF($4, ''),
		    updated_at = $5
		WHERE idempotency_key = $1
		  AND status <> 'succeeded'
	`, key, string(status), reference, errMsg, now)
	if err != nil {
		return fmt.Errorf("finish payment operation %s: %w", key, err)
	}
	return nil
}

func (l *PgLedger) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Operation, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT `+operationColumns+`
		FROM payment_operations
		WHERE booking_id = $1
		ORDER BY created_at
	`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list payment operations: %w", err)
	}
	defer rows.Close()

	var result []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	return result, rows.Err()
}
