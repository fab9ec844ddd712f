// Package telemetry exposes prometheus metrics for the execution core.
// Metrics are registered on an injected registry so tests can construct
// isolated instances.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the execution engine reports into.
type Metrics struct {
	ExecsStarted   prometheus.Counter
	ExecsCompleted prometheus.Counter
	ExecsFailed    prometheus.Counter
	ExecsTimedOut  prometheus.Counter
	ActiveSessions prometheus.Gauge
	Decisions      *prometheus.CounterVec
	ExecDuration   prometheus.Histogram
}

// New creates the metric set and registers it on reg. A nil registry
// yields metrics that collect but are never scraped, which is what
// tests and embedded use want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "execgate",
			Name:      "execs_started_total",
			Help:      "Commands spawned by the execution engine.",
		}),
		ExecsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "execgate",
			Name:      "execs_completed_total",
			Help:      "Commands that exited zero.",
		}),
		ExecsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "execgate",
			Name:      "execs_failed_total",
			Help:      "Commands that exited non-zero, were signalled, or failed to spawn.",
		}),
		ExecsTimedOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "execgate",
			Name:      "execs_timed_out_total",
			Help:      "Commands killed by the timeout supervisor.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "execgate",
			Name:      "active_sessions",
			Help:      "Process handles currently registered.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "execgate",
			Name:      "approval_decisions_total",
			Help:      "Approval decisions by outcome.",
		}, []string{"outcome"}),
		ExecDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "execgate",
			Name:      "exec_duration_seconds",
			Help:      "Wall-clock duration of completed commands.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ExecsStarted,
			m.ExecsCompleted,
			m.ExecsFailed,
			m.ExecsTimedOut,
			m.ActiveSessions,
			m.Decisions,
			m.ExecDuration,
		)
	}
	return m
}

// ObserveDecision records one approval decision outcome.
func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}
