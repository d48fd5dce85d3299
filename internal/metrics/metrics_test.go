package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveTransition("pending_confirmation", "confirmed")
	m.ObserveTransition("pending_confirmation", "confirmed")
	m.ObserveReservation("acquire", "conflict")
	m.ObserveNotification("email", "confirmed", errors.New("smtp down"))
	m.ObserveJob("expiry", nil, 0.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("pending_confirmation", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("acquire", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("email", "confirmed", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepRuns.WithLabelValues("expiry", "ok")))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("a", "b")
	m.ObserveReservation("acquire", "ok")
	m.ObserveSettlement("capture", "ok")
	m.ObserveJob("expiry", errors.New("x"), 1)
	m.ObserveSwept("expiry", "ok")
	m.ObserveNotification("push", "confirmed", nil)
	m.ObserveAuditFailure()
}
