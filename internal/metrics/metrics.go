package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes counters and histograms for the booking lifecycle. All
// methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	transitions    *prometheus.CounterVec
	reservations   *prometheus.CounterVec
	settlementOps  *prometheus.CounterVec
	sweepRuns      *prometheus.CounterVec
	sweepDuration  *prometheus.HistogramVec
	sweepProcessed *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	auditFailures  prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "lifecycle",
			Name:      "transitions_total",
			Help:      "Accepted booking status transitions",
		}, []string{"from", "to"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "reservation",
			Name:      "operations_total",
			Help:      "Slot reservation operations by outcome",
		}, []string{"op", "result"}),
		settlementOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "settlement",
			Name:      "operations_total",
			Help:      "Payment processor operations by outcome",
		}, []string{"kind", "result"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by outcome",
		}, []string{"job", "result"}),
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "booking",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		sweepProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "scheduler",
			Name:      "records_total",
			Help:      "Records handled by sweeps",
		}, []string{"job", "result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by channel and outcome",
		}, []string{"channel", "event", "result"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "booking",
			Subsystem: "audit",
			Name:      "append_failures_total",
			Help:      "Audit events that could not be persisted",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.reservations, m.settlementOps, m.sweepRuns,
		m.sweepDuration, m.sweepProcessed, m.notifications, m.auditFailures)
	return m
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveReservation(op, result string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveSettlement(kind, result string) {
	if m == nil {
		return
	}
	m.settlementOps.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveJob(job string, err error, seconds float64) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sweepRuns.WithLabelValues(job, result).Inc()
	m.sweepDuration.WithLabelValues(job).Observe(seconds)
}

func (m *Metrics) ObserveSwept(job, result string) {
	if m == nil {
		return
	}
	m.sweepProcessed.WithLabelValues(job, result).Inc()
}

func (m *Metrics) ObserveNotification(channel, event string, err error) {
	if m == nil {
		return
	}
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.notifications.WithLabelValues(channel, event, result).Inc()
}

func (m *Metrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}
