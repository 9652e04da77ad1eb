package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticvision_auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"result"},
	)

	// ConfirmationTransitions counts confirmation request state changes by target state.
	ConfirmationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticvision_confirmation_transitions_total",
			Help: "Total number of confirmation request state transitions",
		},
		[]string{"state"},
	)

	// ConfirmationFailures counts rejected workflow calls by operation and reason.
	ConfirmationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticvision_confirmation_failures_total",
			Help: "Total number of rejected confirmation workflow calls",
		},
		[]string{"operation", "reason"},
	)

	// LinksConfirmed counts doctor-patient links written by confirmations.
	LinksConfirmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticvision_doctor_patient_links_confirmed_total",
			Help: "Total number of doctor-patient links confirmed",
		},
	)

	// TicEventsRecorded counts tic events logged by patients.
	TicEventsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticvision_tic_events_recorded_total",
			Help: "Total number of tic events recorded",
		},
	)

	// MaintenanceRuns counts maintenance job executions by job and result.
	MaintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticvision_maintenance_runs_total",
			Help: "Total number of maintenance job runs",
		},
		[]string{"job", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticvision_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
