// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts API requests by route template, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// JobTransitionsTotal counts every lifecycle transition a job takes.
	JobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_transitions_total",
			Help: "Total number of job status transitions, by task kind and target status.",
		},
		[]string{"task_kind", "status"},
	)

	JobRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "job_run_duration_seconds",
			Help:    "Duration of task runner calls.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"task_kind", "status"},
	)

	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_running",
			Help: "Number of jobs currently inside the task runner.",
		},
	)

	// TriggerFiringsTotal outcome is one of dispatched, rejected, missed.
	TriggerFiringsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_firings_total",
			Help: "Total number of trigger firings by task kind and outcome.",
		},
		[]string{"task_kind", "outcome"},
	)

	EvaluatorTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluator_tick_duration_seconds",
			Help:    "Time spent evaluating all trigger rules in one tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
	)

	// EvaluatorAlive is 1 while the evaluation loop is running.
	EvaluatorAlive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evaluator_alive",
			Help: "Is the trigger evaluator loop running. 1 if running, 0 otherwise.",
		},
	)

	HistoryRecordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "execution_records_total",
			Help: "Total number of execution records appended to history.",
		},
	)
)

// Outcomes for TriggerFiringsTotal.
const (
	FiringDispatched = "dispatched"
	FiringRejected   = "rejected"
	FiringMissed     = "missed"
)
