// Package metrics exposes the prometheus counters both services report.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Consumption outcomes reported on events_consumed_total.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	EventsPublished  *prometheus.CounterVec
	EventsConsumed   *prometheus.CounterVec
	OrderTransitions *prometheus.CounterVec
}

func New(service string) *Metrics {
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: service,
		Name:      "events_published_total",
		Help:      "Total number of saga events published.",
	}, []string{"event_type"})
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: service,
		Name:      "events_consumed_total",
		Help:      "Total number of saga events consumed, by outcome.",
	}, []string{"event_type", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderflow",
		Subsystem: service,
		Name:      "order_transitions_total",
		Help:      "Total number of order status transitions applied.",
	}, []string{"to_status"})

	prometheus.MustRegister(published, consumed, transitions)
	return &Metrics{EventsPublished: published, EventsConsumed: consumed, OrderTransitions: transitions}
}

// Published is nil-safe so components can run without metrics in tests.
func (m *Metrics) Published(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Consumed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsConsumed.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Transitioned(toStatus string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(toStatus).Inc()
}

func Handler() http.Handler {
	return promhttp.Handler()
}
