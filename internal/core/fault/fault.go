// Package fault defines the error taxonomy shared by every txguard component.
//
// Three kinds of failure exist:
//   - SafetyCheckError: a validation gate rejected the trade. Never retried.
//   - CircuitBreakerTrippedError: the system is halted. Never retried automatically.
//   - RetryableTransactionError: a send or confirmation failed in a presumably transient way.
package fault

import (
	"errors"
	"fmt"
	"time"
)

// Code identifies a safety check violation.
type Code string

const (
	CodeBalanceBelowMinimum    Code = "BALANCE_BELOW_MINIMUM"
	CodeBalanceMismatch        Code = "BALANCE_MISMATCH"
	CodeInvalidTradeAmount     Code = "INVALID_TRADE_AMOUNT"
	CodeTradeAmountExceeds     Code = "TRADE_AMOUNT_EXCEEDS_LIMITS"
	CodeInsufficientFeeBalance Code = "INSUFFICIENT_FEE_BALANCE"
	CodeSlippageQuoteTooLow    Code = "SLIPPAGE_QUOTE_TOO_LOW"
	CodeSlippageExceeded       Code = "SLIPPAGE_EXCEEDED"
	CodeInvalidSlippageConfig  Code = "INVALID_SLIPPAGE_CONFIG"
	CodeFeeCapExceeded         Code = "FEE_CAP_EXCEEDED"
	CodeFeeEstimateFailed      Code = "FEE_ESTIMATE_FAILED"
	CodeWalletUnavailable      Code = "WALLET_UNAVAILABLE"
	CodeMissingExpectedOut     Code = "MISSING_EXPECTED_OUT"
)

// SafetyCheckError reports a policy violation detected by a validation gate.
type SafetyCheckError struct {
	Code    Code
	Message string
	Data    map[string]any
}

// NewSafetyCheck builds a SafetyCheckError. data may be nil.
func NewSafetyCheck(code Code, message string, data map[string]any) *SafetyCheckError {
	if data == nil {
		data = map[string]any{}
	}
	return &SafetyCheckError{Code: code, Message: message, Data: data}
}

func (e *SafetyCheckError) Error() string {
	return fmt.Sprintf("safety check failed [%s]: %s", e.Code, e.Message)
}

// CircuitBreakerTrippedError is returned by the breaker gate while the system is halted.
type CircuitBreakerTrippedError struct {
	Reason    string
	Data      map[string]any
	TrippedAt time.Time
	RetryAt   time.Time
}

func (e *CircuitBreakerTrippedError) Error() string {
	return fmt.Sprintf("circuit breaker tripped: %s (since %s)", e.Reason, e.TrippedAt.Format(time.RFC3339))
}

// RetryableTransactionError wraps a send/confirm failure presumed transient.
type RetryableTransactionError struct {
	Scope  string
	TxHash string
	Err    error
}

// NewRetryable wraps err as a RetryableTransactionError for scope.
func NewRetryable(scope, txHash string, err error) *RetryableTransactionError {
	return &RetryableTransactionError{Scope: scope, TxHash: txHash, Err: err}
}

func (e *RetryableTransactionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("transaction %s (%s) failed: %v", e.Scope, e.TxHash, e.Err)
	}
	return fmt.Sprintf("transaction %s failed: %v", e.Scope, e.Err)
}

func (e *RetryableTransactionError) Unwrap() error { return e.Err }

// ErrReceiptMissing is wrapped when the provider returns no receipt.
var ErrReceiptMissing = errors.New("receipt missing")

// ErrReceiptFailed is wrapped when the receipt status is not success.
var ErrReceiptFailed = errors.New("receipt status not success")

// IsRetryable reports whether err is a RetryableTransactionError.
func IsRetryable(err error) bool {
	var re *RetryableTransactionError
	return errors.As(err, &re)
}

// IsBreakerTripped reports whether err came from a halted breaker.
func IsBreakerTripped(err error) bool {
	var be *CircuitBreakerTrippedError
	return errors.As(err, &be)
}

// AsSafetyCheck extracts a SafetyCheckError from err.
func AsSafetyCheck(err error) (*SafetyCheckError, bool) {
	var se *SafetyCheckError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
