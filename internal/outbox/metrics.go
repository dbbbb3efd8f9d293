package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes recorded in metrics and logs.
const (
	OutcomeSent     = "sent"
	OutcomeRetry    = "retry"
	OutcomeFailed   = "failed"
	OutcomeDeferred = "deferred"
	OutcomeStale    = "stale"
)

// Metrics holds the dispatcher's Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	deliveries *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	claimed    prometheus.Counter
}

// NewMetrics registers the outbox collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_deliveries_total",
			Help: "Webhook delivery attempts by target and outcome.",
		}, []string{"target", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outbox_delivery_duration_seconds",
			Help:    "Webhook delivery latency by target.",
			Buckets: prometheus.DefBuckets,
		}, []string{"target"}),
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_claimed_total",
			Help: "Outbox rows claimed for delivery.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.deliveries, m.duration, m.claimed)
	}
	return m
}

func (m *Metrics) observeDelivery(target, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(target, outcome).Inc()
	if outcome != OutcomeDeferred {
		m.duration.WithLabelValues(target).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) addClaimed(n int) {
	if m == nil {
		return
	}
	m.claimed.Add(float64(n))
}
