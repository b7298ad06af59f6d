package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassification(t *testing.T) {
	retryable := NewRetryable("swap", "0xabc", ErrReceiptFailed)
	wrapped := fmt.Errorf("step failed: %w", retryable)

	if !IsRetryable(wrapped) {
		t.Error("wrapped retryable error should be retryable")
	}
	if !errors.Is(wrapped, ErrReceiptFailed) {
		t.Error("retryable error should unwrap to its cause")
	}
	if IsBreakerTripped(wrapped) {
		t.Error("retryable error is not a breaker trip")
	}

	tripped := &CircuitBreakerTrippedError{Reason: "retry_exhausted"}
	if !IsBreakerTripped(fmt.Errorf("gate: %w", tripped)) {
		t.Error("expected breaker trip to be detected through wrapping")
	}

	safety := NewSafetyCheck(CodeFeeCapExceeded, "fee too high", nil)
	got, ok := AsSafetyCheck(fmt.Errorf("pre-trade: %w", safety))
	if !ok {
		t.Fatal("expected safety check error")
	}
	if got.Code != CodeFeeCapExceeded {
		t.Errorf("expected %s, got %s", CodeFeeCapExceeded, got.Code)
	}
	if got.Data == nil {
		t.Error("nil data should be replaced with an empty map")
	}
	if IsRetryable(safety) {
		t.Error("safety check errors are never retryable")
	}
}
