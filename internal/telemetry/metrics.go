// Package telemetry provides Prometheus metrics for the pipeline.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageTransitionsTotal counts stage status transitions.
	// Labels: stage, status (in_progress, completed, failed)
	StageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coworkforge",
			Subsystem: "orchestrator",
			Name:      "stage_transitions_total",
			Help:      "Total number of stage status transitions",
		},
		[]string{"stage", "status"},
	)

	// StageDuration tracks how long stage executions take.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "coworkforge",
			Subsystem: "orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Duration of stage executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		},
		[]string{"stage"},
	)

	// VerificationIssuesTotal counts issues emitted by verification passes.
	// Labels: severity (warning, error)
	VerificationIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coworkforge",
			Subsystem: "verify",
			Name:      "issues_total",
			Help:      "Total number of issues produced by verification passes",
		},
		[]string{"severity"},
	)

	// CommandsExecutedTotal counts verification commands by phase and result.
	// Labels: phase (build, test, check, run), result (passed, failed, blocked)
	CommandsExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coworkforge",
			Subsystem: "verify",
			Name:      "commands_total",
			Help:      "Total number of verification commands by outcome",
		},
		[]string{"phase", "result"},
	)

	// BusDroppedEventsTotal counts events dropped on full subscriber queues.
	BusDroppedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coworkforge",
			Subsystem: "bus",
			Name:      "dropped_events_total",
			Help:      "Total number of events dropped due to full subscriber queues",
		},
	)

	// ThrottleWaitDuration tracks time spent waiting for admission.
	ThrottleWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "coworkforge",
			Subsystem: "throttle",
			Name:      "wait_duration_seconds",
			Help:      "Time spent waiting for a generator admission slot",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
