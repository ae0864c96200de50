package queue

import "github.com/prometheus/client_golang/prometheus"

// Metrics exports queue state to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	depth   *prometheus.GaugeVec
	workers prometheus.Gauge
	jobs    *prometheus.CounterVec
}

// NewMetrics creates the queue collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ingestd",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Jobs waiting in each group queue.",
		}, []string{"group"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ingestd",
			Subsystem: "queue",
			Name:      "workers_active",
			Help:      "Group workers currently draining a queue.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestd",
			Name:      "jobs_total",
			Help:      "Jobs taken off a queue, by final outcome.",
		}, []string{"group", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.depth, m.workers, m.jobs)
	}
	return m
}

func (m *Metrics) setDepth(group string, depth int) {
	if m == nil {
		return
	}
	m.depth.WithLabelValues(group).Set(float64(depth))
}

func (m *Metrics) workerStarted() {
	if m == nil {
		return
	}
	m.workers.Inc()
}

func (m *Metrics) workerStopped() {
	if m == nil {
		return
	}
	m.workers.Dec()
}

func (m *Metrics) jobDone(group, outcome string) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(group, outcome).Inc()
}
