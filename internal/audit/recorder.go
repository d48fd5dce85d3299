package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/metrics"
)

// Recorder appends events on behalf of the booking service. A failed append
// is logged and counted; it never fails the caller.
type Recorder struct {
	store   Store
	clock   clock.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(store Store, clk clock.Clock, logger zerolog.Logger, m *metrics.Metrics) *Recorder {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Recorder{store: store, clock: clk, logger: logger, metrics: m}
}

// Entry is the caller-supplied part of an event.
type Entry struct {
	BookingID      uuid.UUID
	BookingNumber  string
	Type           EventType
	Actor          Actor
	Source         Source
	PreviousStatus string
	NewStatus      string
	Payload        any
}

func (r *Recorder) Record(ctx context.Context, e Entry) {
	ev := Event{
		ID:             uuid.New(),
		BookingID:      e.BookingID,
		BookingNumber:  e.BookingNumber,
		Type:           e.Type,
		Actor:          e.Actor,
		Source:         e.Source,
		PreviousStatus: e.PreviousStatus,
		NewStatus:      e.NewStatus,
		OccurredAt:     r.clock.Now(),
	}
	if ev.Source == "" {
		ev.Source = SourceAPI
	}
	if ev.Actor.Role == "" {
		ev.Actor = System()
	}
	if e.Payload != nil {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			r.logger.Warn().Err(err).Str("event_type", string(e.Type)).Msg("marshal audit payload")
		} else {
			ev.Payload = data
		}
	}

	if err := r.store.Append(ctx, ev); err != nil {
		r.metrics.ObserveAuditFailure()
		r.logger.Error().Err(err).
			Str("booking_id", e.BookingID.String()).
			Str("event_type", string(e.Type)).
			Msg("append audit event")
	}
}

func (r *Recorder) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]Event, error) {
	return r.store.ListByBooking(ctx, bookingID)
}

func (r *Recorder) ListByActor(ctx context.Context, userID uuid.UUID, limit int) ([]Event, error) {
	return r.store.ListByActor(ctx, userID, limit)
}
