// Package atomic executes ordered transaction steps with fail-stop semantics.
//
// A sequence stops at the first failing step. Steps that were already confirmed stay
// confirmed: nothing is rolled back. Compensation, if any, is the job of the caller's
// recovery callback.
package atomic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/execution/retry"
	"github.com/vietddude/txguard/internal/infra/chain"
	"github.com/vietddude/txguard/internal/ledger"
	"github.com/vietddude/txguard/internal/metrics"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// RecoveryContext is handed to the recovery callback after a step fails.
type RecoveryContext struct {
	TradeID     string
	FailedScope string
	Completed   []domain.CompletedStep
	Err         error
}

// RecoveryFunc is the caller-supplied compensation hook.
type RecoveryFunc func(ctx context.Context, rc RecoveryContext) error

// Config wires the executor's collaborators. Provider and Breaker are required.
type Config struct {
	Provider chain.TransactionProvider
	Breaker  breaker.Gate
	Ledger   ledger.Recorder
	Retry    retry.Enqueuer
	Audit    audit.Log
}

// Executor runs atomic sequences.
type Executor struct {
	provider chain.TransactionProvider
	breaker  breaker.Gate
	ledger   ledger.Recorder
	retry    retry.Enqueuer
	audit    audit.Log
	log      *slog.Logger
}

// New validates cfg and returns an executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Provider == nil {
		return nil, errors.New("atomic executor requires a transaction provider")
	}
	if cfg.Breaker == nil {
		return nil, errors.New("atomic executor requires a circuit breaker")
	}
	return &Executor{
		provider: cfg.Provider,
		breaker:  cfg.Breaker,
		ledger:   cfg.Ledger,
		retry:    cfg.Retry,
		audit:    audit.OrNop(cfg.Audit),
		log:      slog.Default().With("component", "atomic"),
	}, nil
}

// ExecuteSequence runs steps in order and stops at the first failure. It never returns an
// error or panics: every outcome is described by the result.
func (e *Executor) ExecuteSequence(
	ctx context.Context,
	tradeID string,
	steps []domain.TransactionStep,
	recovery RecoveryFunc,
) (result domain.SequenceResult) {
	result = domain.SequenceResult{TradeID: tradeID, Completed: []domain.CompletedStep{}}
	current := ""

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic during step %q: %v", current, r)
			e.log.Error("Recovered panic in atomic sequence", "trade_id", tradeID, "scope", current, "panic", r)
			e.breaker.Trip(breaker.ReasonAtomicFailed, map[string]any{
				"trade_id": tradeID,
				"scope":    current,
				"error":    err.Error(),
			})
			result.OK = false
			result.FailedScope = current
			result.Err = err
			e.finish(tradeID, &result)
		}
	}()

	audit.Emit(e.audit, audit.LevelInfo, audit.AtomicSequenceStart, tradeID, "sequence started", map[string]any{
		"steps":  len(steps),
		"scopes": scopes(steps),
	})

	for i, step := range steps {
		current = step.Scope
		completed, err := e.runStep(ctx, tradeID, i, step)
		if err != nil {
			result.FailedScope = step.Scope
			result.Err = err
			e.handleFailure(ctx, tradeID, step, err, &result, recovery)
			e.finish(tradeID, &result)
			return result
		}
		result.Completed = append(result.Completed, completed)
	}

	result.OK = true
	e.finish(tradeID, &result)
	return result
}

func (e *Executor) runStep(ctx context.Context, tradeID string, index int, step domain.TransactionStep) (domain.CompletedStep, error) {
	if err := e.breaker.EnsureHealthy(); err != nil {
		return domain.CompletedStep{}, err
	}

	start := time.Now()
	defer func() {
		metrics.StepDuration.WithLabelValues(step.Scope).Observe(time.Since(start).Seconds())
	}()

	handle, err := e.provider.SendTransaction(ctx, step.Request)
	if err != nil {
		return domain.CompletedStep{}, fault.NewRetryable(step.Scope, "", err)
	}
	audit.Emit(e.audit, audit.LevelInfo, audit.AtomicStepSent, tradeID, "step sent", map[string]any{
		"index":   index,
		"scope":   step.Scope,
		"tx_hash": handle.Hash,
	})

	receipt, err := e.provider.WaitForReceipt(ctx, handle)
	switch {
	case err != nil:
		return domain.CompletedStep{}, fault.NewRetryable(step.Scope, handle.Hash, err)
	case receipt == nil:
		return domain.CompletedStep{}, fault.NewRetryable(step.Scope, handle.Hash, fault.ErrReceiptMissing)
	case !receipt.Succeeded():
		return domain.CompletedStep{}, fault.NewRetryable(step.Scope, handle.Hash,
			fmt.Errorf("%w: %s", fault.ErrReceiptFailed, receipt.Status))
	}

	e.breaker.RecordSuccess(step.Scope)
	audit.Emit(e.audit, audit.LevelInfo, audit.AtomicStepConfirmed, tradeID, "step confirmed", map[string]any{
		"index":        index,
		"scope":        step.Scope,
		"tx_hash":      handle.Hash,
		"block_number": receipt.BlockNumber,
	})
	return domain.CompletedStep{Scope: step.Scope, TxHash: handle.Hash, Receipt: receipt}, nil
}

func (e *Executor) handleFailure(
	ctx context.Context,
	tradeID string,
	step domain.TransactionStep,
	err error,
	result *domain.SequenceResult,
	recovery RecoveryFunc,
) {
	gated := fault.IsBreakerTripped(err)
	txHash := ""
	var re *fault.RetryableTransactionError
	if errors.As(err, &re) {
		txHash = re.TxHash
	}

	e.log.Warn("Step failed", "trade_id", tradeID, "scope", step.Scope, "retryable", step.Retryable, "error", err)
	audit.Emit(e.audit, audit.LevelError, audit.AtomicStepFailed, tradeID, "step failed", map[string]any{
		"scope":     step.Scope,
		"tx_hash":   txHash,
		"retryable": step.Retryable,
		"error":     err.Error(),
	})

	failedTxID := ""
	if e.ledger != nil {
		entry, lerr := e.ledger.RecordFailure(ctx, ledger.FailureRecord{
			TradeID:     tradeID,
			Scope:       step.Scope,
			TxHash:      txHash,
			Retryable:   step.Retryable,
			Attempt:     1,
			MaxAttempts: step.MaxAttempts,
			Err:         err,
		})
		if lerr != nil {
			e.log.Warn("Ledger write failed, continuing", "trade_id", tradeID, "error", lerr)
		}
		if entry != nil {
			failedTxID = entry.ID
		}
	}

	switch {
	case gated:
		// The breaker refused the step; it is already halted.
	case step.Retryable && e.retry != nil:
		task := e.retry.Enqueue(retry.EnqueueRequest{
			FailedTxID:  failedTxID,
			TradeID:     tradeID,
			Scope:       step.Scope,
			Request:     step.Request,
			MaxAttempts: step.MaxAttempts,
		})
		e.log.Info("Step failure is recoverable, handed to retry queue",
			"trade_id", tradeID, "scope", step.Scope, "max_attempts", task.MaxAttempts)
	default:
		e.breaker.Trip(breaker.ReasonAtomicFailed, map[string]any{
			"trade_id": tradeID,
			"scope":    step.Scope,
			"error":    err.Error(),
		})
	}

	// Counted after the trip; the first trip reason wins.
	if !gated {
		e.breaker.RecordFailure(step.Scope, err)
	}

	if recovery == nil {
		return
	}
	e.runRecovery(ctx, tradeID, step.Scope, err, result, recovery)
}

func (e *Executor) runRecovery(
	ctx context.Context,
	tradeID, scope string,
	cause error,
	result *domain.SequenceResult,
	recovery RecoveryFunc,
) {
	rc := RecoveryContext{
		TradeID:     tradeID,
		FailedScope: scope,
		Completed:   append([]domain.CompletedStep(nil), result.Completed...),
		Err:         cause,
	}
	audit.Emit(e.audit, audit.LevelWarn, audit.AtomicRecoveryStart, tradeID, "recovery started", map[string]any{
		"failed_scope": scope,
		"completed":    len(rc.Completed),
	})

	err := callRecovery(ctx, recovery, rc)
	if err != nil {
		e.log.Error("Recovery failed", "trade_id", tradeID, "scope", scope, "error", err)
		e.breaker.Trip(breaker.ReasonRecoveryFailed, map[string]any{
			"trade_id":       tradeID,
			"scope":          scope,
			"error":          err.Error(),
			"original_error": cause.Error(),
		})
	}

	data := map[string]any{"failed_scope": scope, "ok": err == nil}
	if err != nil {
		data["error"] = err.Error()
	}
	audit.Emit(e.audit, audit.LevelInfo, audit.AtomicRecoveryDone, tradeID, "recovery finished", data)
}

// callRecovery converts a panicking callback into an error.
func callRecovery(ctx context.Context, recovery RecoveryFunc, rc RecoveryContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery panicked: %v", r)
		}
	}()
	return recovery(ctx, rc)
}

func (e *Executor) finish(tradeID string, result *domain.SequenceResult) {
	if result.OK {
		metrics.SequencesTotal.WithLabelValues("success").Inc()
		audit.Emit(e.audit, audit.LevelInfo, audit.AtomicSequenceSuccess, tradeID, "sequence succeeded", map[string]any{
			"completed": len(result.Completed),
		})
		return
	}

	metrics.SequencesTotal.WithLabelValues("failed").Inc()
	errMsg := ""
	if result.Err != nil {
		errMsg = result.Err.Error()
	}
	audit.Emit(e.audit, audit.LevelError, audit.AtomicSequenceFailed, tradeID, "sequence failed", map[string]any{
		"completed":    len(result.Completed),
		"failed_scope": result.FailedScope,
		"error":        errMsg,
	})
}

func scopes(steps []domain.TransactionStep) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Scope
	}
	return out
}
