// Package metrics is the ambient Prometheus metrics layer, registered via
// promauto against the default registry the way the teacher stack does.
//
// Only OrphansReclaimed, StoreRetries and CircuitBreakerState are updated by
// the service. The job, contract, commitment and agent metrics below are
// registered and exported, but nothing increments or sets them, and
// RecordCompletion has no caller; they stay at zero.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// --- Job Graph Engine ---

	// JobsSubmitted counts put-job! calls by outcome (created, idempotent-noop, conflict).
	JobsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contractsd",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total put-job! calls by outcome",
		},
		[]string{"outcome"},
	)

	// PauseCascades and RetryCascades count how many contracts one pause-job!
	// or retry-job! call touched.
	PauseCascades = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "contractsd",
			Subsystem: "jobs",
			Name:      "pause_cascade_size",
			Help:      "Number of contracts cancelled per pause-job! call",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
	RetryCascades = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "contractsd",
			Subsystem: "jobs",
			Name:      "retry_cascade_size",
			Help:      "Number of contracts recreated per retry-job! call",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// --- Contract Engine ---

	// ContractsClaimed counts successful request-work! claims by job_type.
	ContractsClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contractsd",
			Subsystem: "contracts",
			Name:      "claimed_total",
			Help:      "Total contracts claimed via request-work!",
		},
		[]string{"job_type"},
	)

	// RequestWorkMisses counts request-work! calls that found no claimable
	// contract.
	RequestWorkMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contractsd",
			Subsystem: "contracts",
			Name:      "request_work_misses_total",
			Help:      "Total request-work! calls that found nothing claimable",
		},
		[]string{"job_type"},
	)

	// ContractsCompleted counts complete-work! calls by completion kind.
	ContractsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contractsd",
			Subsystem: "contracts",
			Name:      "completed_total",
			Help:      "Total complete-work! calls by completion kind",
		},
		[]string{"kind"},
	)

	// ContractDuration tracks wall time between claim and completion.
	ContractDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "contractsd",
			Subsystem: "contracts",
			Name:      "duration_seconds",
			Help:      "Duration between a contract's claim and its completion",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"job_type", "outcome"},
	)

	// --- Commitment Tracker ---

	// HeartbeatsReceived counts heartbeat! calls by resulting instruction.
	HeartbeatsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contractsd",
			Subsystem: "commitments",
			Name:      "heartbeats_total",
			Help:      "Total heartbeat! calls by instruction returned",
		},
		[]string{"instruction"},
	)

	// StaleCommitments counts operations that hit model.ErrStaleCommitment.
	StaleCommitments = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "contractsd",
			Subsystem: "commitments",
			Name:      "stale_total",
			Help:      "Total operations rejected because their commitment was stale",
		},
	)

	// --- Agent Registry ---

	AgentsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "contractsd",
			Subsystem: "agents",
			Name:      "registered",
			Help:      "Number of distinct agent identities seen",
		},
	)

	// --- Reaper ---

	OrphansReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "contractsd",
			Subsystem: "reaper",
			Name:      "orphans_reclaimed_total",
			Help:      "Total contracts reclaimed from commitments with an expired heartbeat",
		},
	)

	// --- Resilience ---

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contractsd",
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Total bounded retries of a store operation after a transient conflict",
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "contractsd",
			Subsystem: "store",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open) by breaker name",
		},
		[]string{"breaker"},
	)
)

// RecordCompletion records metrics for a finished contract.
func RecordCompletion(jobType, outcome string, durationSeconds float64) {
	ContractsCompleted.WithLabelValues(outcome).Inc()
	ContractDuration.WithLabelValues(jobType, outcome).Observe(durationSeconds)
}
