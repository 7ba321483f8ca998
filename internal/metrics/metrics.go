// Package metrics holds the Prometheus collectors shared by the API and the
// background workers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ec_orders"

type Metrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	Transitions  *prometheus.CounterVec
	Reservations *prometheus.CounterVec

	OutboxPublished prometheus.Counter
	OutboxFailures  prometheus.Counter
	OutboxBacklog   prometheus.Gauge

	EventsConsumed *prometheus.CounterVec
}

// New creates the collectors for service and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry().
func New(reg prometheus.Registerer, service string) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by target status and result.",
		}, []string{"to", "result"}),
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "stock_reservations_total",
			Help:      "Stock reservation attempts by result.",
		}, []string{"result"}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_published_total",
			Help:      "Order events published from the outbox.",
		}),
		OutboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox relay ticks that failed to publish.",
		}),
		OutboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "outbox_backlog",
			Help:      "Number of unsent events left after the last relay flush.",
		}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: service,
			Name:      "events_consumed_total",
			Help:      "Order events handled by consumers by event type and result.",
		}, []string{"event_type", "result"}),
	}

	reg.MustRegister(
		m.Requests,
		m.LatencyMS,
		m.Transitions,
		m.Reservations,
		m.OutboxPublished,
		m.OutboxFailures,
		m.OutboxBacklog,
		m.EventsConsumed,
	)
	return m
}

// Result labels.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
