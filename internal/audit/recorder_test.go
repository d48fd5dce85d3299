package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/booking-settlement-engine/internal/clock"
	"github.com/hackgods/booking-settlement-engine/internal/metrics"
)

type failingStore struct{ MemoryStore }

func (*failingStore) Append(context.Context, Event) error { return errors.New("db down") }

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestRecorderAppendsWithDefaults(t *testing.T) {
	store := NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	rec := NewRecorder(store, clk, zerolog.Nop(), nil)
	bookingID := uuid.New()

	rec.Record(context.Background(), Entry{
		BookingID:      bookingID,
		BookingNumber:  "BK-20260401-ABCDE",
		Type:           EventExpired,
		PreviousStatus: "pending_confirmation",
		NewStatus:      "expired",
		Payload:        map[string]any{"reason": "no_response"},
	})

	events, err := rec.ListByBooking(context.Background(), bookingID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, RoleSystem, ev.Actor.Role)
	assert.Equal(t, SourceAPI, ev.Source)
	assert.Equal(t, clk.Now(), ev.OccurredAt)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "no_response", payload["reason"])
}

func TestRecorderSwallowsStoreFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewRecorder(&failingStore{}, nil, zerolog.Nop(), metrics.New(reg))

	rec.Record(context.Background(), Entry{BookingID: uuid.New(), Type: EventCreated})
	rec.Record(context.Background(), Entry{BookingID: uuid.New(), Type: EventConfirmed})

	assert.Equal(t, 2.0, counterValue(t, reg, "booking_audit_append_failures_total"))
}

func TestMemoryStoreListByActorNewestFirst(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	actor := Actor{UserID: uuid.New(), Role: RoleProvider}
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Append(ctx, Event{ID: uuid.New(), BookingID: uuid.New(), Actor: actor, OccurredAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, store.Append(ctx, Event{ID: uuid.New(), BookingID: uuid.New(), Actor: System(), OccurredAt: base}))

	events, err := store.ListByActor(ctx, actor.UserID, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, base.Add(2*time.Minute), events[0].OccurredAt)
}
