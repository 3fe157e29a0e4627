package store

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the node's insert-path counters, the direct analogue of the
// original siridb->received_points running total, exposed the way the
// teacher exposes its own Prometheus metrics.
type Metrics struct {
	ReceivedPoints *prometheus.CounterVec
	InsertErrors   *prometheus.CounterVec
	ForwardJobs    *prometheus.CounterVec
}

// NewMetrics registers and returns the insert-path metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReceivedPoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsdbnode_received_points_total",
			Help: "Total number of points successfully applied, across all insert jobs.",
		}, []string{"pool"}),
		InsertErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsdbnode_insert_errors_total",
			Help: "Total number of insert jobs that failed, by error code.",
		}, []string{"code"}),
		ForwardJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsdbnode_forward_jobs_total",
			Help: "Total number of insert jobs forwarded to another server during re-indexing.",
		}, []string{"target"}),
	}
	reg.MustRegister(m.ReceivedPoints, m.InsertErrors, m.ForwardJobs)
	return m
}
