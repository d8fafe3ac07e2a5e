package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "invoice_scanner"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	QueueDepth   prometheus.Gauge
	Dispatches   prometheus.Counter
	Retries      prometheus.Counter
	CallDuration *prometheus.HistogramVec
	Scans        *prometheus.CounterVec
	Deliveries   *prometheus.CounterVec
	Tokens       *prometheus.CounterVec
}

// New registers collectors with reg. A nil reg yields unregistered
// collectors, which is what tests use.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Analysis requests waiting for dispatch.",
		}),
		Dispatches: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dispatches_total",
			Help:      "Analysis requests dispatched by the queue.",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rate_limit_retries_total",
			Help:      "Requests re-queued after a rate-limit response.",
		}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_call_seconds",
			Help:      "Duration of single analysis API calls.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}, []string{"outcome"}),
		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Completed scans by result.",
		}, []string{"status"}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_deliveries_total",
			Help:      "Webhook deliveries by sink and result.",
		}, []string{"sink", "outcome"}),
		Tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_tokens_total",
			Help:      "Tokens consumed by the analysis API.",
		}, []string{"kind"}),
	}
}
