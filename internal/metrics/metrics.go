// Package metrics holds the prometheus collectors for the sync service.
// Collectors are constructor-injected rather than registered at init so tests
// can use their own registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the collectors shared across components.
type Metrics struct {
	OpAttempts *prometheus.CounterVec
	OpRetries  *prometheus.CounterVec
	OpFailures *prometheus.CounterVec

	// ConnQuality encodes quality as offline=0, poor=1, good=2, excellent=3.
	ConnQuality prometheus.Gauge
}

// New builds and registers the collector set.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizlive_remote_op_attempts_total",
			Help: "Remote store operation attempts, including retries.",
		}, []string{"op"}),
		OpRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizlive_remote_op_retries_total",
			Help: "Remote store operation retries by error class.",
		}, []string{"op", "code"}),
		OpFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quizlive_remote_op_failures_total",
			Help: "Remote store operations abandoned, by error class.",
		}, []string{"op", "code"}),
		ConnQuality: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quizlive_connection_quality",
			Help: "Connection quality: 0 offline, 1 poor, 2 good, 3 excellent.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.OpAttempts, m.OpRetries, m.OpFailures, m.ConnQuality)
	}
	return m
}

// Attempt records one operation attempt. Nil-safe so components can run
// without metrics wired (CLI one-shots).
func (m *Metrics) Attempt(op string) {
	if m == nil {
		return
	}
	m.OpAttempts.WithLabelValues(op).Inc()
}

// Retry records a retry for an operation with the classified code.
func (m *Metrics) Retry(op, code string) {
	if m == nil {
		return
	}
	m.OpRetries.WithLabelValues(op, code).Inc()
}

// Failure records an abandoned operation with the classified code.
func (m *Metrics) Failure(op, code string) {
	if m == nil {
		return
	}
	m.OpFailures.WithLabelValues(op, code).Inc()
}

// SetQuality publishes the connection quality level.
func (m *Metrics) SetQuality(level float64) {
	if m == nil {
		return
	}
	m.ConnQuality.Set(level)
}
