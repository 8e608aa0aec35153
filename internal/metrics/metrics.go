// Package metrics provides Prometheus metrics collectors for the auth gateway.
//
// Purpose:
//
//	This package defines and exports Prometheus metrics for authentication,
//	authorization decisions, and rule-table lifecycle events. Metrics are
//	registered globally and scraped via the /metrics endpoint.
//
// Dependencies:
//   - github.com/prometheus/client_golang/prometheus: Prometheus Go client
//
// Key Responsibilities:
//   - Define metric collectors (counters, gauges, histograms)
//   - Register metrics with the default registry on import
//   - Provide helper functions to record metric values
//
// Usage:
//
//	metrics.RecordAuthn("authenticated")
//	metrics.RecordDecision(true, true, elapsed)
//	metrics.RecordRuleReload("ok")
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "auth_gateway"

var (
	// AuthnOutcomesTotal counts authentication filter outcomes per request.
	AuthnOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authn",
			Name:      "outcomes_total",
			Help:      "Authentication outcomes by terminal state",
		},
		[]string{"outcome"}, // outcome: authenticated, anonymous, rejected
	)

	// DecisionsTotal counts authorization decisions.
	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decisions_total",
			Help:      "Authorization decisions by verdict and whether a rule matched",
		},
		[]string{"verdict", "matched"}, // verdict: allow, deny; matched: true, false
	)

	// DecisionDurationSeconds measures the in-memory match loop latency.
	DecisionDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "decision_duration_seconds",
			Help:      "Duration of authorization decisions in seconds",
			Buckets:   []float64{5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3},
		},
	)

	// RuleReloadsTotal counts rule snapshot rebuild attempts.
	RuleReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "rule_reloads_total",
			Help:      "Rule table reload attempts by result",
		},
		[]string{"result"}, // result: ok, error
	)

	// RuleCount tracks the size of the active snapshot.
	RuleCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "rule_count",
			Help:      "Number of rules in the active snapshot",
		},
	)

	// RuleLockContentionTotal counts rebuilds that lost the distributed lock race.
	RuleLockContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "authz",
			Name:      "rule_lock_contention_total",
			Help:      "Rule rebuilds that found the distributed lock held by a peer",
		},
	)

	// SessionsCreatedTotal counts successful logins.
	SessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Sessions created by successful logins",
		},
	)

	// SessionsRevokedTotal counts session deletions by cause.
	SessionsRevokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "revoked_total",
			Help:      "Sessions revoked by cause",
		},
		[]string{"cause"}, // cause: logout, kick, disabled, roles_changed
	)
)

// RecordAuthn records one authentication outcome.
func RecordAuthn(outcome string) {
	AuthnOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordDecision records one authorization decision and its latency.
func RecordDecision(allowed, matched bool, elapsed time.Duration) {
	verdict := "deny"
	if allowed {
		verdict = "allow"
	}
	m := "false"
	if matched {
		m = "true"
	}
	DecisionsTotal.WithLabelValues(verdict, m).Inc()
	DecisionDurationSeconds.Observe(elapsed.Seconds())
}

// RecordRuleReload records one rule reload attempt.
func RecordRuleReload(result string) {
	RuleReloadsTotal.WithLabelValues(result).Inc()
}

// SetRuleCount updates the active snapshot size gauge.
func SetRuleCount(n int) {
	RuleCount.Set(float64(n))
}

// RecordRuleLockContention counts one lost lock race.
func RecordRuleLockContention() {
	RuleLockContentionTotal.Inc()
}

// RecordSessionCreated counts one successful login.
func RecordSessionCreated() {
	SessionsCreatedTotal.Inc()
}

// RecordSessionRevoked counts one session revocation.
func RecordSessionRevoked(cause string) {
	SessionsRevokedTotal.WithLabelValues(cause).Inc()
}
