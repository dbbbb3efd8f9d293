package resolver

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts resolver outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	matches *prometheus.CounterVec
}

// NewMetrics registers the resolver collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "resolver_matches_total",
			Help: "Resolved lead messages by winning strategy, none when nothing matched.",
		}, []string{"strategy"}),
	}
	if reg != nil {
		reg.MustRegister(m.matches)
	}
	return m
}

func (m *Metrics) observe(strategy string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(strategy).Inc()
}
