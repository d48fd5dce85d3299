package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/booking-settlement-engine/internal/db"
)

const eventColumns = `id, booking_id, booking_number, event_type, actor_id, actor_role, source,
	COALESCE(previous_status, ''), COALESCE(new_status, ''), payload, occurred_at`

type PgStore struct {
	pool db.Querier
}

func NewPgStore(pool db.Querier) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) Append(ctx context.Context, ev Event) error {
	var actorID *uuid.UUID
	if ev.Actor.UserID != uuid.Nil {
		id := ev.Actor.UserID
		actorID = &id
	}
	var payload []byte
	if len(ev.Payload) > 0 {
		payload = ev.Payload
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO booking_events
			(id, booking_id, booking_number, event_type, actor_id, actor_role, source,
			 previous_status, new_status, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)
	`, ev.ID, ev.BookingID, ev.BookingNumber, string(ev.Type), actorID, string(ev.Actor.Role),
		string(ev.Source), ev.PreviousStatus, ev.NewStatus, payload, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func scanEvent(row pgx.Row) (Event, error) {
	var (
		ev      Event
		actorID *uuid.UUID
		payload []byte
	)
	err := row.Scan(
		&ev.ID,
		&ev.BookingID,
		&ev.BookingNumber,
		&ev.Type,
		&actorID,
		&ev.Actor.Role,
		&ev.Source,
		&ev.PreviousStatus,
		&ev.NewStatus,
		&payload,
		&ev.OccurredAt,
	)
	if err != nil {
		return Event{}, err
	}
	if actorID != nil {
		ev.Actor.UserID = *actorID
	}
	ev.Payload = payload
	return ev, nil
}

func (s *PgStore) list(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query booking events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking event: %w", err)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (s *PgStore) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Event, error) {
	return s.list(ctx, `
		SELECT `+eventColumns+`
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY occurred_at, id
	`, bookingID)
}

func (s *PgStore) ListByActor(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.list(ctx, `
		SELECT `+eventColumns+`
		FROM booking_events
		WHERE actor_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, userID, limit)
}
