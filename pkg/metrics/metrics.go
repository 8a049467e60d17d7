package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records login and refresh attempts by kind (login|refresh) and result.
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teatalks_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"kind", "result"},
	)

	// Registrations counts registration state machine transitions
	// (requested|verified|resent|expired|exhausted|invalid_code|dispatch_failed).
	Registrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teatalks_registrations_total",
			Help: "Registration state transitions",
		},
		[]string{"event"},
	)

	// PasswordResets counts password reset transitions.
	PasswordResets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teatalks_password_resets_total",
			Help: "Password reset state transitions",
		},
		[]string{"event"},
	)

	// ReactionToggles counts toggles by target type, reaction type and outcome (added|removed|changed).
	ReactionToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teatalks_reaction_toggles_total",
			Help: "Reaction toggles by outcome",
		},
		[]string{"target", "reaction", "outcome"},
	)

	// CounterRepairs counts denormalised counters rewritten by the reconciliation job.
	CounterRepairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teatalks_counter_repairs_total",
			Help: "Denormalised counters corrected by reconciliation",
		},
		[]string{"table"},
	)

	// MaintenanceRuns counts background job executions by job and result (success|failure).
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "teatalks_maintenance_runs_total",
			Help: "Maintenance job executions",
		},
		[]string{"job", "result"},
	)

	MaintenanceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teatalks_maintenance_duration_seconds",
			Help:    "Maintenance job duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "teatalks_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
