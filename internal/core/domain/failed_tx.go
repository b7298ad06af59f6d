package domain

import "time"

// FailedTxKind distinguishes original failures from retry attempts in the ledger.
type FailedTxKind string

const (
	FailedTxKindFailure      FailedTxKind = "failure"
	FailedTxKindRetryAttempt FailedTxKind = "retry_attempt"
)

// FailedTxEntry is an append-only ledger record. Entries are never edited or deleted.
type FailedTxEntry struct {
	ID          string       `json:"id"          db:"id"`
	Timestamp   time.Time    `json:"timestamp"   db:"created_at"`
	Kind        FailedTxKind `json:"kind"        db:"kind"`
	TradeID     string       `json:"trade_id"    db:"trade_id"`
	Scope       string       `json:"scope"       db:"scope"`
	FailedTxID  string       `json:"failed_tx_id,omitempty" db:"failed_tx_id"`
	TxHash      string       `json:"tx_hash,omitempty"      db:"tx_hash"`
	Retryable   bool         `json:"retryable"   db:"retryable"`
	Attempt     int          `json:"attempt"     db:"attempt"`
	MaxAttempts int          `json:"max_attempts" db:"max_attempts"`
	Error       string       `json:"error,omitempty" db:"error_msg"`
}

// RetryTask lives only inside the retry queue. Attempt is incremented in place by the worker
// that claimed it.
type RetryTask struct {
	FailedTxID  string    `json:"failed_tx_id"`
	TradeID     string    `json:"trade_id"`
	Scope       string    `json:"scope"`
	Request     TxRequest `json:"request"`
	MaxAttempts int       `json:"max_attempts"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}
