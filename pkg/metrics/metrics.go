// Package metrics exposes Prometheus collectors for rule evaluation,
// validation verdicts, and enforcement actions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks engine observability counters.
//
// Metrics:
//   - arbiter_rule_evaluations_total: rule evaluations by rule and outcome
//   - arbiter_rule_evaluation_duration_seconds: per-rule evaluation latency
//   - arbiter_validations_total: validation passes by strategy and verdict
//   - arbiter_enforcement_actions_total: enforced actions by kind and outcome
type Metrics struct {
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	validationsTotal   *prometheus.CounterVec
	actionsTotal       *prometheus.CounterVec
}

// Config names the metric namespace and subsystem.
type Config struct {
	Namespace string
	Subsystem string
}

// New creates and registers the engine metrics with the provided registry.
func New(cfg Config, registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_evaluations_total",
				Help:      "Total number of rule evaluations",
			},
			[]string{"rule_id", "outcome"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_evaluation_duration_seconds",
				Help:      "Duration of rule evaluation in seconds",
				// Evaluations are expected to be fast; the tail covers
				// rules that wait on I/O up to their timeout.
				Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12), // 1µs to ~4s
			},
			[]string{"rule_id"},
		),

		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "validations_total",
				Help:      "Total number of validation passes",
			},
			[]string{"strategy", "verdict"},
		),

		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "enforcement_actions_total",
				Help:      "Total number of enforcement actions executed",
			},
			[]string{"kind", "outcome"},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.validationsTotal,
		m.actionsTotal,
	)

	return m
}

// RecordEvaluation records one rule evaluation.
func (m *Metrics) RecordEvaluation(ruleID string, allowed bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(ruleID, outcome(allowed)).Inc()
	m.evaluationDuration.WithLabelValues(ruleID).Observe(duration.Seconds())
}

// RecordValidation records a completed validation pass.
func (m *Metrics) RecordValidation(strategy string, valid bool) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(strategy, verdict(valid)).Inc()
}

// RecordAction records an enforced action by kind.
func (m *Metrics) RecordAction(kind string, succeeded bool) {
	if m == nil {
		return
	}
	result := "executed"
	if !succeeded {
		result = "failed"
	}
	m.actionsTotal.WithLabelValues(kind, result).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "allowed"
	}
	return "denied"
}

func verdict(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
