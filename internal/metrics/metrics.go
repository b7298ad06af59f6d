package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BreakerHalted is 1 while the circuit breaker is halted
	BreakerHalted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txguard_breaker_halted",
			Help: "Whether the circuit breaker is currently halted (1) or healthy (0)",
		},
	)

	// BreakerTripsTotal counts trips by reason
	BreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_breaker_trips_total",
			Help: "Total number of circuit breaker trips",
		},
		[]string{"reason"},
	)

	// SequencesTotal counts atomic sequences by outcome
	SequencesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_sequence_total",
			Help: "Total number of atomic sequences executed",
		},
		[]string{"outcome"},
	)

	// StepDuration tracks send+confirm latency per step scope
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txguard_step_duration_seconds",
			Help:    "Transaction step send and confirm latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	// RetryQueueDepth tracks tasks waiting in the retry queue
	RetryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txguard_retry_queue_depth",
			Help: "Number of tasks waiting in the retry queue",
		},
	)

	// RetryAttemptsTotal counts retry attempts by outcome
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_retry_attempts_total",
			Help: "Total number of retry attempts",
		},
		[]string{"outcome"},
	)

	// LedgerWritesTotal counts failed-tx ledger appends by kind and result
	LedgerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_ledger_writes_total",
			Help: "Total number of failed transaction ledger writes",
		},
		[]string{"kind", "result"},
	)

	// SafetyViolationsTotal counts validation gate violations by code
	SafetyViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_safety_violations_total",
			Help: "Total number of safety check violations",
		},
		[]string{"code"},
	)

	// AuditEventsTotal counts audit events by type and level
	AuditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_audit_events_total",
			Help: "Total number of audit events emitted",
		},
		[]string{"type", "level"},
	)

	// DBConnectionPoolUsage tracks the usage percentage of the DB connection pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txguard_db_connection_pool_usage_percent",
			Help: "Percentage of open database connections relative to the pool maximum",
		},
	)
)
