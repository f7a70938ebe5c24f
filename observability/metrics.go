package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for done.
type Metrics struct {
	MessagesCreatedTotal prometheus.Counter
	DeliveriesTotal      *prometheus.CounterVec
	DeliveryLatency      prometheus.Histogram
	DLQSize              prometheus.Gauge
}

// NewMetrics creates and registers done's Prometheus metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MessagesCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "done_messages_created_total",
			Help: "Total number of messages accepted by the ingress.",
		}),
		DeliveriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "done_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		}, []string{"outcome"}),
		DeliveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "done_delivery_latency_seconds",
			Help:    "Delivery HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		DLQSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "done_dlq_size",
			Help: "Current number of messages in the dead letter queue.",
		}),
	}
}

// RecordDelivery records a delivery attempt with the given outcome
// ("sent" or "failed").
func (m *Metrics) RecordDelivery(outcome string, latencySeconds float64) {
	m.DeliveriesTotal.WithLabelValues(outcome).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}
