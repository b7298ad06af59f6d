package breaker

import "time"

// Status is the breaker's position in its two-state machine.
type Status string

const (
	StatusHealthy Status = "healthy"
	StatusHalted  Status = "halted"
)

// State is a snapshot of the breaker. Halted implies TrippedAt is set.
type State struct {
	Halted              bool           `json:"halted"`
	TrippedAt           time.Time      `json:"tripped_at,omitzero"`
	Reason              string         `json:"reason,omitempty"`
	Data                map[string]any `json:"data,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
}

// Status returns the state machine position for the snapshot.
func (s State) Status() Status {
	if s.Halted {
		return StatusHalted
	}
	return StatusHealthy
}

// Transition represents a state change with metadata.
type Transition struct {
	From      Status
	To        Status
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to Status, reason string, at time.Time) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: at,
	}
}

// Trip reasons used across the system.
const (
	ReasonTooManyFailures  = "too_many_consecutive_failures"
	ReasonAtomicFailed     = "atomic_execution_failed"
	ReasonRecoveryFailed   = "recovery_failed"
	ReasonRetryExhausted   = "retry_exhausted"
	ReasonRetryWorkerCrash = "retry_worker_crash"
)
