package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storefront"

// Checkout outcome label values.
const (
	OutcomeCompleted           = "completed"
	OutcomePartiallyCompleted  = "partially_completed"
	OutcomeFailed              = "failed"
	OutcomeReplayed            = "replayed"
	OutcomeNeedsReconciliation = "needs_reconciliation"
)

type Metrics struct {
	CheckoutOutcomes *prometheus.CounterVec
	RecoveryAttempts *prometheus.CounterVec
	OutboxPublished  *prometheus.CounterVec
	Requests         *prometheus.CounterVec
	LatencyMS        *prometheus.HistogramVec
	ActiveStreams    prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers every collector with reg. Tests pass a fresh prometheus.NewRegistry().
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		CheckoutOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_outcomes_total",
			Help:      "Checkout attempts by final outcome.",
		}, []string{"outcome"}),
		RecoveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_recovery_attempts_total",
			Help:      "Clear-only recovery attempts for partially completed checkouts.",
		}, []string{"result"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_published_total",
			Help:      "Outbox events handed to Kafka.",
		}, []string{"event_type", "result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"route"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cart_streams_active",
			Help:      "Open cart snapshot streams.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.CheckoutOutcomes,
		m.RecoveryAttempts,
		m.OutboxPublished,
		m.Requests,
		m.LatencyMS,
		m.ActiveStreams,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
