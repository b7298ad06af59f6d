// Package retry drains retryable transaction failures through a bounded worker pool with
// capped exponential backoff. Retries never bypass the circuit breaker.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/infra/chain"
	"github.com/vietddude/txguard/internal/ledger"
	"github.com/vietddude/txguard/internal/metrics"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// MaxConcurrency bounds the worker pool.
const MaxConcurrency = 25

// Config holds queue tuning.
type Config struct {
	Concurrency        int           `yaml:"concurrency"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	Jitter             time.Duration `yaml:"jitter"`
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	b := DefaultBackoff()
	return Config{
		Concurrency:        2,
		PollInterval:       250 * time.Millisecond,
		DefaultMaxAttempts: 3,
		BaseDelay:          b.BaseDelay,
		MaxDelay:           b.MaxDelay,
		Jitter:             b.Jitter,
	}
}

// EnqueueRequest describes a failed step handed to the queue.
type EnqueueRequest struct {
	FailedTxID  string
	TradeID     string
	Scope       string
	Request     domain.TxRequest
	MaxAttempts int
}

// Enqueuer is the producer side used by the atomic executor.
type Enqueuer interface {
	Enqueue(req EnqueueRequest) domain.RetryTask
}

// Queue is a FIFO of retry tasks drained by a pool of workers.
type Queue struct {
	cfg      Config
	backoff  Backoff
	provider chain.TransactionProvider
	breaker  breaker.Gate
	ledger   ledger.Recorder
	audit    audit.Log
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	log      *slog.Logger

	mu       sync.Mutex
	tasks    deque
	inFlight int
	cancel   context.CancelFunc
	group    *errgroup.Group
}

var _ Enqueuer = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue)

// WithLedger records every attempt in the failed transaction ledger.
func WithLedger(rec ledger.Recorder) Option {
	return func(q *Queue) { q.ledger = rec }
}

// WithBackoff overrides the backoff derived from Config.
func WithBackoff(b Backoff) Option {
	return func(q *Queue) { q.backoff = b }
}

// WithSleep replaces the backoff sleep. The function must honour ctx.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.sleep = fn }
}

// NewQueue creates a stopped queue.
func NewQueue(
	cfg Config,
	provider chain.TransactionProvider,
	gate breaker.Gate,
	auditLog audit.Log,
	opts ...Option,
) (*Queue, error) {
	if provider == nil {
		return nil, errors.New("retry queue requires a transaction provider")
	}
	if gate == nil {
		return nil, errors.New("retry queue requires a circuit breaker")
	}

	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Concurrency > MaxConcurrency {
		cfg.Concurrency = MaxConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = def.DefaultMaxAttempts
	}

	q := &Queue{
		cfg:      cfg,
		backoff:  Backoff{BaseDelay: cfg.BaseDelay, MaxDelay: cfg.MaxDelay, Jitter: cfg.Jitter},
		provider: provider,
		breaker:  gate,
		audit:    audit.OrNop(auditLog),
		sleep:    sleepCtx,
		now:      time.Now,
		log:      slog.Default().With("component", "retry"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue appends a task with attempt 0 to the tail of the queue.
func (q *Queue) Enqueue(req EnqueueRequest) domain.RetryTask {
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.DefaultMaxAttempts
	}
	task := &domain.RetryTask{
		FailedTxID:  req.FailedTxID,
		TradeID:     req.TradeID,
		Scope:       req.Scope,
		Request:     req.Request,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  q.now().UTC(),
	}

	q.mu.Lock()
	q.tasks.PushBack(task)
	depth := q.tasks.Len()
	q.mu.Unlock()

	metrics.RetryQueueDepth.Set(float64(depth))
	audit.Emit(q.audit, audit.LevelInfo, audit.RetryEnqueued, task.TradeID, "retry task enqueued", map[string]any{
		"failed_tx_id": task.FailedTxID,
		"scope":        task.Scope,
		"max_attempts": task.MaxAttempts,
		"depth":        depth,
	})
	return *task
}

// Len returns the number of tasks waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks.Len()
}

// InFlight returns the number of tasks currently claimed by workers.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// ComputeDelay exposes the backoff in use.
func (q *Queue) ComputeDelay(attempt int) time.Duration {
	return q.backoff.ComputeDelay(attempt)
}

// Start launches the worker pool. It returns an error if the queue is already running.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return errors.New("retry queue already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for id := range q.cfg.Concurrency {
		g.Go(func() error {
			q.runWorker(gctx, id)
			return nil
		})
	}
	q.cancel = cancel
	q.group = g

	q.log.Info("Retry queue started", "workers", q.cfg.Concurrency)
	return nil
}

// Stop stops new task pickup and waits for in-flight sends to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	cancel, g := q.cancel, q.group
	q.cancel, q.group = nil, nil
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	_ = g.Wait()
	q.log.Info("Retry queue stopped", "pending", q.Len())
}

func (q *Queue) runWorker(ctx context.Context, id int) {
	log := q.log.With("worker", id)
	log.Debug("Retry worker started")
	for ctx.Err() == nil {
		q.safeLoop(ctx, id, log)
	}
	log.Debug("Retry worker stopped")
}

// safeLoop runs the worker loop until ctx is done. A panic trips the breaker and returns so
// runWorker can restart the loop.
func (q *Queue) safeLoop(ctx context.Context, id int, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("retry worker %d panicked: %v", id, r)
			log.Error("Retry worker crashed", "panic", r)
			audit.Emit(q.audit, audit.LevelCritical, audit.RetryWorkerCrash, "", err.Error(), map[string]any{
				"worker": id,
			})
			q.breaker.Trip(breaker.ReasonRetryWorkerCrash, map[string]any{
				"worker": id,
				"error":  err.Error(),
			})
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := q.breaker.EnsureHealthy(); err != nil {
			q.idle(ctx)
			continue
		}

		task, ok := q.claim()
		if !ok {
			q.idle(ctx)
			continue
		}
		q.process(ctx, task)
	}
}

func (q *Queue) claim() (*domain.RetryTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks.PopFront()
	if !ok {
		return nil, false
	}
	q.inFlight++
	metrics.RetryQueueDepth.Set(float64(q.tasks.Len()))
	return task, true
}

func (q *Queue) release(task *domain.RetryTask, requeue, front bool) {
	q.mu.Lock()
	q.inFlight--
	if requeue {
		if front {
			q.tasks.PushFront(task)
		} else {
			q.tasks.PushBack(task)
		}
	}
	depth := q.tasks.Len()
	q.mu.Unlock()
	metrics.RetryQueueDepth.Set(float64(depth))
}

func (q *Queue) process(ctx context.Context, task *domain.RetryTask) {
	requeue, front, recorded := false, false, false
	defer func() {
		if r := recover(); r != nil {
			// Keep the attempt in the ledger and the task in the queue, then let safeLoop trip.
			if !recorded {
				q.recordAttempt(ctx, task, "", fmt.Errorf("retry worker panicked: %v", r))
			}
			q.release(task, task.Attempt < task.MaxAttempts, false)
			panic(r)
		}
		q.release(task, requeue, front)
	}()

	task.Attempt++
	if task.Attempt > 1 {
		delay := q.backoff.ComputeDelay(task.Attempt)
		audit.Emit(q.audit, audit.LevelDebug, audit.RetryBackoff, task.TradeID, "backing off before retry", map[string]any{
			"failed_tx_id": task.FailedTxID,
			"attempt":      task.Attempt,
			"delay_ms":     delay.Milliseconds(),
		})
		if err := q.sleep(ctx, delay); err != nil {
			// Stopped while waiting: nothing was sent, give the attempt back.
			task.Attempt--
			requeue, front = true, true
			return
		}
	}

	// The breaker may have tripped while this worker was backing off.
	if err := q.breaker.EnsureHealthy(); err != nil {
		q.log.Warn("Breaker halted before retry, requeueing", "trade_id", task.TradeID, "scope", task.Scope)
		task.Attempt--
		requeue, front = true, true
		return
	}

	audit.Emit(q.audit, audit.LevelInfo, audit.RetryAttempt, task.TradeID, "retrying transaction", map[string]any{
		"failed_tx_id": task.FailedTxID,
		"scope":        task.Scope,
		"attempt":      task.Attempt,
		"max_attempts": task.MaxAttempts,
	})

	// In-flight sends run to completion even if the queue is stopped.
	hash, err := q.send(context.WithoutCancel(ctx), task)
	recorded = true
	q.recordAttempt(ctx, task, hash, err)

	if err == nil {
		metrics.RetryAttemptsTotal.WithLabelValues("succeeded").Inc()
		q.breaker.RecordSuccess(task.Scope)
		audit.Emit(q.audit, audit.LevelInfo, audit.RetrySucceeded, task.TradeID, "retry succeeded", map[string]any{
			"failed_tx_id": task.FailedTxID,
			"scope":        task.Scope,
			"attempt":      task.Attempt,
			"tx_hash":      hash,
		})
		return
	}

	if task.Attempt >= task.MaxAttempts {
		metrics.RetryAttemptsTotal.WithLabelValues("exhausted").Inc()
		data := map[string]any{
			"failed_tx_id": task.FailedTxID,
			"trade_id":     task.TradeID,
			"scope":        task.Scope,
			"attempts":     task.Attempt,
			"error":        err.Error(),
		}
		q.log.Error("Retry exhausted", "trade_id", task.TradeID, "scope", task.Scope, "attempts", task.Attempt, "error", err)
		audit.Emit(q.audit, audit.LevelError, audit.RetryExhausted, task.TradeID, "retry attempts exhausted", data)
		q.breaker.Trip(breaker.ReasonRetryExhausted, data)
		return
	}

	metrics.RetryAttemptsTotal.WithLabelValues("failed").Inc()
	q.log.Warn("Retry failed, requeueing", "trade_id", task.TradeID, "scope", task.Scope, "attempt", task.Attempt, "error", err)
	audit.Emit(q.audit, audit.LevelWarn, audit.RetryFailedWillRetry, task.TradeID, "retry failed, requeued", map[string]any{
		"failed_tx_id": task.FailedTxID,
		"scope":        task.Scope,
		"attempt":      task.Attempt,
		"max_attempts": task.MaxAttempts,
		"error":        err.Error(),
	})
	requeue = true
}

// send submits the request and requires a successful receipt.
func (q *Queue) send(ctx context.Context, task *domain.RetryTask) (string, error) {
	handle, err := q.provider.SendTransaction(ctx, task.Request)
	if err != nil {
		return "", fault.NewRetryable(task.Scope, "", err)
	}
	receipt, err := q.provider.WaitForReceipt(ctx, handle)
	if err != nil {
		return handle.Hash, fault.NewRetryable(task.Scope, handle.Hash, err)
	}
	if receipt == nil {
		return handle.Hash, fault.NewRetryable(task.Scope, handle.Hash, fault.ErrReceiptMissing)
	}
	if !receipt.Succeeded() {
		return handle.Hash, fault.NewRetryable(task.Scope, handle.Hash, fault.ErrReceiptFailed)
	}
	return handle.Hash, nil
}

func (q *Queue) recordAttempt(ctx context.Context, task *domain.RetryTask, hash string, err error) {
	if q.ledger == nil {
		return
	}
	// Persistence errors are audited by the ledger itself.
	_, _ = q.ledger.RecordRetryAttempt(context.WithoutCancel(ctx), ledger.RetryAttemptRecord{
		FailedTxID:  task.FailedTxID,
		TradeID:     task.TradeID,
		Scope:       task.Scope,
		Attempt:     task.Attempt,
		MaxAttempts: task.MaxAttempts,
		TxHash:      hash,
		Err:         err,
	})
}

func (q *Queue) idle(ctx context.Context) {
	_ = sleepCtx(ctx, q.cfg.PollInterval)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
