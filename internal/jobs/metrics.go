package jobs

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the lease API collectors. A nil *Metrics is a no-op.
type Metrics struct {
	leased    *prometheus.CounterVec
	completed *prometheus.CounterVec
	expired   prometheus.Counter
}

// NewMetrics registers the job collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		leased: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_leased_total",
			Help: "Jobs handed out to workers by kind.",
		}, []string{"kind"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Worker reports by kind and reported status.",
		}, []string{"kind", "status"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_lease_expired_total",
			Help: "In-progress jobs reclaimed after their lease expired.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.leased, m.completed, m.expired)
	}
	return m
}

func (m *Metrics) observeLeased(jobs []Job) {
	if m == nil {
		return
	}
	for _, j := range jobs {
		m.leased.WithLabelValues(j.Kind).Inc()
	}
}

func (m *Metrics) observeCompleted(kind string, status Status) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(kind, string(status)).Inc()
}

func (m *Metrics) addExpired(n int) {
	if m == nil {
		return
	}
	m.expired.Add(float64(n))
}
