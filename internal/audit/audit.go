// Package audit provides the structured event sink every txguard component writes to.
//
// Each event is persisted as one record. Sinks are composable: the default wiring fans out to
// slog, an in-memory ring of recent events (served by the admin API) and a prometheus counter.
package audit

import (
	"time"
)

// Level is the severity of an audit event.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// IsError reports whether the level is error or critical.
func (l Level) IsError() bool {
	return l == LevelError || l == LevelCritical
}

// Type names an audit event category.
type Type string

const (
	// Circuit breaker
	BreakerTripped         Type = "breaker.tripped"
	BreakerTripIgnored     Type = "breaker.trip_ignored"
	BreakerReset           Type = "breaker.reset"
	BreakerAutoReset       Type = "breaker.auto_reset"
	BreakerFailureRecorded Type = "breaker.failure_recorded"

	// Balance monitor
	BalanceMonitorChecked   Type = "balance_monitor.checked"
	BalanceMonitorViolation Type = "balance_monitor.violation"

	// Capital safety
	CapitalSafetyPassed    Type = "capital_safety.passed"
	CapitalSafetyViolation Type = "capital_safety.violation"

	// Slippage
	SlippageMinOutComputed  Type = "slippage.min_out_computed"
	SlippageQuotePassed     Type = "slippage.quote_passed"
	SlippageExecutionPassed Type = "slippage.execution_passed"
	SlippageViolation       Type = "slippage.violation"

	// Fees
	FeeEstimated   Type = "fee.estimated"
	FeeCapOK       Type = "fee.cap_ok"
	FeeCapExceeded Type = "fee.cap_exceeded"

	// Atomic execution
	AtomicSequenceStart   Type = "atomic.sequence_start"
	AtomicStepSent        Type = "atomic.step_sent"
	AtomicStepConfirmed   Type = "atomic.step_confirmed"
	AtomicStepFailed      Type = "atomic.step_failed"
	AtomicRecoveryStart   Type = "atomic.recovery_start"
	AtomicRecoveryDone    Type = "atomic.recovery_done"
	AtomicSequenceSuccess Type = "atomic.sequence_success"
	AtomicSequenceFailed  Type = "atomic.sequence_failed"

	// Failed transaction ledger
	FailedTxRecorded     Type = "failed_tx.recorded"
	FailedTxPersistError Type = "failed_tx.persist_error"

	// Retry queue
	RetryEnqueued        Type = "retry.enqueued"
	RetryBackoff         Type = "retry.backoff"
	RetryAttempt         Type = "retry.attempt"
	RetrySucceeded       Type = "retry.succeeded"
	RetryFailedWillRetry Type = "retry.failed_will_retry"
	RetryExhausted       Type = "retry.exhausted"
	RetryWorkerCrash     Type = "retry.worker_crash"

	// Balance reconciliation
	BalanceReconcileChecked  Type = "balance_reconcile.checked"
	BalanceReconcileMismatch Type = "balance_reconcile.mismatch"
	BalanceReconcilePassed   Type = "balance_reconcile.passed"

	// Risk manager
	RiskPreTradePassed  Type = "risk.pre_trade_passed"
	RiskPostTradePassed Type = "risk.post_trade_passed"

	// System
	SystemStarted Type = "system.started"
	SystemStopped Type = "system.stopped"
)

// Event is one audit record.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Type      Type           `json:"type"`
	Message   string         `json:"message,omitempty"`
	TradeID   string         `json:"trade_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Log is a structured event sink.
type Log interface {
	Log(event Event)
}

// Alert is an operator-facing notification.
type Alert struct {
	Level   Level          `json:"level"`
	Type    Type           `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// AlertSink delivers alerts to operators.
type AlertSink interface {
	Alert(alert Alert)
}

// LogFunc adapts a function to Log.
type LogFunc func(Event)

func (f LogFunc) Log(e Event) { f(e) }

type nop struct{}

func (nop) Log(Event)   {}
func (nop) Alert(Alert) {}

// Nop discards every event.
var Nop = nop{}

// OrNop returns l, or Nop when l is nil.
func OrNop(l Log) Log {
	if l == nil {
		return Nop
	}
	return l
}

// Emit stamps and writes an event.
func Emit(l Log, level Level, typ Type, tradeID, message string, data map[string]any) {
	if l == nil {
		return
	}
	l.Log(Event{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Type:      typ,
		Message:   message,
		TradeID:   tradeID,
		Data:      data,
	})
}

// Multi fans an event out to several sinks in order.
type Multi []Log

func (m Multi) Log(e Event) {
	for _, l := range m {
		if l != nil {
			l.Log(e)
		}
	}
}
