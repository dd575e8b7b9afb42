package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the reservation to booking pipeline.
type BookingMetrics struct {
	reservationsTotal *prometheus.CounterVec
	sweptTotal        prometheus.Counter
	webhookTotal      *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
	transitionsTotal  *prometheus.CounterVec
	refundsTotal      *prometheus.CounterVec
	gatewayAttempts   *prometheus.CounterVec
	outboxTotal       *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingcore",
			Subsystem: "reservations",
			Name:      "total",
			Help:      "Slot reservation attempts by outcome and payment path",
		}, []string{"outcome", "path"}),
		sweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookingcore",
			Subsystem: "reservations",
			Name:      "swept_total",
			Help:      "Held reservations moved to expired by the sweeper",
		}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingcore",
			Subsystem: "webhooks",
			Name:      "events_total",
			Help:      "Inbound payment webhooks by kind and result",
		}, []string{"kind", "result"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookingcore",
			Subsystem: "webhooks",
			Name:      "latency_seconds",
			Help:      "Latency of payment webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingcore",
			Subsystem: "bookings",
			Name:      "transitions_total",
			Help:      "State machine outcomes",
		}, []string{"outcome"}),
		refundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingcore",
			Subsystem: "refunds",
			Name:      "total",
			Help:      "Refund executions by status and conflict kind",
		}, []string{"status", "conflict_kind"}),
		gatewayAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingcore",
			Subsystem: "gateway",
			Name:      "attempts_total",
			Help:      "Payment processor calls by operation and result",
		}, []string{"op", "result"}),
		outboxTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingcore",
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox delivery attempts by type and outcome",
		}, []string{"type", "outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservationsTotal, m.sweptTotal, m.webhookTotal, m.webhookLatency,
		m.transitionsTotal, m.refundsTotal, m.gatewayAttempts, m.outboxTotal)
	return m
}

func (m *BookingMetrics) ObserveReservation(outcome, path string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(outcome, path).Inc()
}

func (m *BookingMetrics) ObserveSwept(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptTotal.Add(float64(n))
}

func (m *BookingMetrics) ObserveWebhook(kind, result string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(kind, result).Inc()
	m.webhookLatency.WithLabelValues(kind).Observe(seconds)
}

func (m *BookingMetrics) ObserveTransition(outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveRefund(status, conflictKind string) {
	if m == nil {
		return
	}
	m.refundsTotal.WithLabelValues(status, conflictKind).Inc()
}

func (m *BookingMetrics) ObserveGatewayAttempt(op, result string) {
	if m == nil {
		return
	}
	m.gatewayAttempts.WithLabelValues(op, result).Inc()
}

func (m *BookingMetrics) ObserveOutbox(eventType, outcome string) {
	if m == nil {
		return
	}
	m.outboxTotal.WithLabelValues(eventType, outcome).Inc()
}
