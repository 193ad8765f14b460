// Package worker runs the background side of the server: the health and
// metrics HTTP endpoints and the scheduled cache sweep.
package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"uplink/internal/pkg/config"
)

// SweepMetrics covers configuration state and the scheduled cache sweep.
//
// Metrics:
//   - uplink_config_*: embedded ConfigMetrics
//   - uplink_cache_sweep_runs_total{status}
//   - uplink_cache_sweep_duration_seconds
//   - uplink_cache_sweep_removed_total
//   - uplink_cache_sweep_last_success_timestamp
type SweepMetrics struct {
	*config.ConfigMetrics

	SweepRunsTotal            *prometheus.CounterVec
	SweepDurationSeconds      prometheus.Histogram
	SweepRemovedTotal         prometheus.Counter
	SweepLastSuccessTimestamp prometheus.Gauge
}

// NewSweepMetrics registers the metrics with the default registry.
func NewSweepMetrics() *SweepMetrics {
	return NewSweepMetricsWith(prometheus.DefaultRegisterer)
}

// NewSweepMetricsWith registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewSweepMetricsWith(reg prometheus.Registerer) *SweepMetrics {
	factory := promauto.With(reg)
	return &SweepMetrics{
		ConfigMetrics: config.NewConfigMetricsWith(reg, "uplink"),

		SweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uplink_cache_sweep_runs_total",
			Help: "Total number of cache sweep runs by status (success/failure)",
		}, []string{"status"}),

		SweepDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "uplink_cache_sweep_duration_seconds",
			Help:    "Duration of cache sweep runs in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),

		SweepRemovedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "uplink_cache_sweep_removed_total",
			Help: "Total number of cache entries removed by scheduled sweeps",
		}),

		SweepLastSuccessTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "uplink_cache_sweep_last_success_timestamp",
			Help: "Unix timestamp of the last successful cache sweep",
		}),
	}
}

// RecordRun counts a sweep run with status "success" or "failure".
func (m *SweepMetrics) RecordRun(status string) {
	m.SweepRunsTotal.WithLabelValues(status).Inc()
}

// RecordDuration observes a sweep duration in seconds.
func (m *SweepMetrics) RecordDuration(seconds float64) {
	m.SweepDurationSeconds.Observe(seconds)
}

// RecordRemoved adds the number of entries removed by one sweep.
func (m *SweepMetrics) RecordRemoved(n int) {
	m.SweepRemovedTotal.Add(float64(n))
}

// RecordLastSuccess sets the last success timestamp to now.
func (m *SweepMetrics) RecordLastSuccess() {
	m.SweepLastSuccessTimestamp.SetToCurrentTime()
}
