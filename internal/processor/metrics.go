package processor

import (
	"time"

	"github.com/flemzord/ingestd/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports attempt outcomes. A nil *Metrics records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration prometheus.Histogram
	episodes *prometheus.CounterVec
}

// NewMetrics creates the processor collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestd",
			Name:      "attempts_total",
			Help:      "Engine calls, by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ingestd",
			Name:      "attempt_seconds",
			Help:      "Duration of engine calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestd",
			Name:      "episodes_total",
			Help:      "Episodes reaching a terminal status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.duration, m.episodes)
	}
	return m
}

func (m *Metrics) observeAttempt(err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.attempts.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) observeEpisode(status telemetry.Status) {
	if m == nil {
		return
	}
	m.episodes.WithLabelValues(string(status)).Inc()
}
