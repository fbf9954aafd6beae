package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "flowcheck_sink"
	labelDestination = "destination"
	labelOutcome     = "outcome"
	outcomeDelivered = "delivered"
	outcomeFailed    = "failed"
	outcomeRejected  = "rejected"
)

// Metrics counts what the sink receives.
type Metrics struct {
	deliveries   *prometheus.CounterVec
	payloadBytes prometheus.Histogram
}

// NewMetrics registers the sink collectors with registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "deliveries_total",
			Help:      "Webhook requests received, by destination and outcome.",
		}, []string{labelDestination, labelOutcome}),
		payloadBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "payload_bytes",
			Help:      "Size of received webhook payloads.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 7),
		}),
	}
}

func (metrics *Metrics) observe(destinationID string, outcome string, size int) {
	if metrics == nil {
		return
	}
	metrics.deliveries.WithLabelValues(destinationID, outcome).Inc()
	if size > 0 {
		metrics.payloadBytes.Observe(float64(size))
	}
}
