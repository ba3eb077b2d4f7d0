// Package metrics holds the Prometheus collectors of the wallet service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	operations     *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	amountMoved    *prometheus.CounterVec
	publishErrors  prometheus.Counter
	eventsConsumed *prometheus.CounterVec
}

// New registers the collectors on reg. Tests pass a fresh
// prometheus.NewRegistry so that repeated construction does not panic.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		operations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_operations_total",
				Help: "Money-movement operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_operation_duration_seconds",
				Help:    "Duration of money-movement operations",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 3},
			},
			[]string{"operation"},
		),
		amountMoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_amount_moved_kobo_total",
				Help: "Kobo moved by successful operations",
			},
			[]string{"operation"},
		),
		publishErrors: f.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_event_publish_errors_total",
				Help: "Events that could not be published after commit",
			},
		),
		eventsConsumed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_events_consumed_total",
				Help: "Inbound events handled, by type and outcome",
			},
			[]string{"type", "outcome"},
		),
	}
}

// Observe records one finished operation.
func (m *Metrics) Observe(operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation).Observe(took.Seconds())
}

func (m *Metrics) AddMoved(operation string, kobo int64) {
	if m != nil && kobo > 0 {
		m.amountMoved.WithLabelValues(operation).Add(float64(kobo))
	}
}

func (m *Metrics) PublishFailed() {
	if m != nil {
		m.publishErrors.Inc()
	}
}

func (m *Metrics) EventConsumed(eventType, outcome string) {
	if m == nil {
		return
	}
	m.eventsConsumed.WithLabelValues(eventType, outcome).Inc()
}
