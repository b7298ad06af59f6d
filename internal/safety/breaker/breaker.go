// Package breaker implements the health gate that halts all sensitive operations after repeated
// failures until it is reset manually or its cool-off period expires.
package breaker

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/metrics"
)

// Config holds breaker tuning.
type Config struct {
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	CoolOff                time.Duration `yaml:"cool_off"`
}

// DefaultConfig returns the default breaker configuration.
func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 3,
		CoolOff:                5 * time.Minute,
	}
}

// Gate is the read side of the breaker that collaborators depend on.
type Gate interface {
	EnsureHealthy() error
	IsHalted() bool
	Trip(reason string, data map[string]any)
	RecordSuccess(scope string)
	RecordFailure(scope string, err error)
}

// Breaker is the circuit breaker. All mutation happens under one mutex; audit writes,
// alerts and transition callbacks run after the lock is released.
type Breaker struct {
	cfg   Config
	audit audit.Log
	alert audit.AlertSink
	now   func() time.Time
	log   *slog.Logger

	mu        sync.Mutex
	state     State
	callbacks []func(Transition)
}

var _ Gate = (*Breaker)(nil)

// Option configures a Breaker.
type Option func(*Breaker)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// WithAlertSink routes trip alerts to sink.
func WithAlertSink(sink audit.AlertSink) Option {
	return func(b *Breaker) { b.alert = sink }
}

// New creates a healthy breaker.
func New(cfg Config, auditLog audit.Log, opts ...Option) *Breaker {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultConfig().MaxConsecutiveFailures
	}
	if cfg.CoolOff <= 0 {
		cfg.CoolOff = DefaultConfig().CoolOff
	}
	b := &Breaker{
		cfg:   cfg,
		audit: audit.OrNop(auditLog),
		alert: audit.Nop,
		now:   time.Now,
		log:   slog.Default().With("component", "breaker"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnTransition registers a callback invoked after every Healthy<->Halted change.
func (b *Breaker) OnTransition(fn func(Transition)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, fn)
}

// Snapshot returns a copy of the current state.
func (b *Breaker) Snapshot() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.state
	s.Data = maps.Clone(b.state.Data)
	return s
}

// IsHalted reports whether the breaker is halted. It does not perform the auto-reset.
func (b *Breaker) IsHalted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Halted
}

// EnsureHealthy fails while halted and inside the cool-off window. Once the window has
// elapsed the breaker resets itself and the call succeeds.
func (b *Breaker) EnsureHealthy() error {
	b.mu.Lock()
	if !b.state.Halted {
		b.mu.Unlock()
		return nil
	}

	now := b.now()
	retryAt := b.state.TrippedAt.Add(b.cfg.CoolOff)
	if now.Before(retryAt) {
		err := &fault.CircuitBreakerTrippedError{
			Reason:    b.state.Reason,
			Data:      maps.Clone(b.state.Data),
			TrippedAt: b.state.TrippedAt,
			RetryAt:   retryAt,
		}
		b.mu.Unlock()
		return err
	}

	prev := b.state
	b.state = State{}
	callbacks := b.callbacks
	b.mu.Unlock()

	b.log.Info("Breaker auto-reset after cool-off", "reason", prev.Reason, "tripped_at", prev.TrippedAt)
	audit.Emit(b.audit, audit.LevelInfo, audit.BreakerAutoReset, "", "cool-off elapsed", map[string]any{
		"previous_reason": prev.Reason,
		"tripped_at":      prev.TrippedAt,
		"cool_off":        b.cfg.CoolOff.String(),
	})
	b.notify(callbacks, NewTransition(StatusHalted, StatusHealthy, "auto_reset", now))
	return nil
}

// Trip halts the breaker. Tripping while already halted only logs: the first reason wins.
func (b *Breaker) Trip(reason string, data map[string]any) {
	b.mu.Lock()
	tripped, original, callbacks, at := b.tripLocked(reason, data)
	b.mu.Unlock()

	b.afterTrip(tripped, reason, original, data, callbacks, at)
}

// tripLocked performs the Healthy->Halted mutation. Caller holds b.mu.
func (b *Breaker) tripLocked(reason string, data map[string]any) (bool, string, []func(Transition), time.Time) {
	if b.state.Halted {
		return false, b.state.Reason, nil, time.Time{}
	}
	now := b.now()
	b.state.Halted = true
	b.state.TrippedAt = now
	b.state.Reason = reason
	b.state.Data = maps.Clone(data)
	return true, reason, b.callbacks, now
}

func (b *Breaker) afterTrip(
	tripped bool,
	reason, original string,
	data map[string]any,
	callbacks []func(Transition),
	at time.Time,
) {
	if !tripped {
		audit.Emit(b.audit, audit.LevelWarn, audit.BreakerTripIgnored, "", "breaker already halted", map[string]any{
			"reason":          reason,
			"original_reason": original,
			"data":            data,
		})
		return
	}

	metrics.BreakerTripsTotal.WithLabelValues(reason).Inc()
	b.log.Error("Breaker tripped", "reason", reason, "data", data)
	audit.Emit(b.audit, audit.LevelCritical, audit.BreakerTripped, "", reason, map[string]any{
		"reason": reason,
		"data":   data,
	})
	b.alert.Alert(audit.Alert{
		Level:   audit.LevelCritical,
		Type:    audit.BreakerTripped,
		Message: "circuit breaker tripped: " + reason,
		Data:    data,
	})
	b.notify(callbacks, NewTransition(StatusHealthy, StatusHalted, reason, at))
}

// Reset forces the breaker healthy and clears every counter.
func (b *Breaker) Reset(reason string) {
	b.mu.Lock()
	prev := b.state
	b.state = State{}
	callbacks := b.callbacks
	b.mu.Unlock()

	b.log.Info("Breaker reset", "reason", reason, "was_halted", prev.Halted)
	audit.Emit(b.audit, audit.LevelInfo, audit.BreakerReset, "", reason, map[string]any{
		"was_halted":      prev.Halted,
		"previous_reason": prev.Reason,
	})
	if prev.Halted {
		b.notify(callbacks, NewTransition(StatusHalted, StatusHealthy, reason, b.now()))
	}
}

// RecordSuccess clears the consecutive failure counter.
func (b *Breaker) RecordSuccess(scope string) {
	b.mu.Lock()
	b.state.ConsecutiveFailures = 0
	b.mu.Unlock()
}

// RecordFailure counts a failure and trips once MaxConsecutiveFailures is reached.
func (b *Breaker) RecordFailure(scope string, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	tripData := map[string]any{"scope": scope, "error": errMsg}

	b.mu.Lock()
	b.state.ConsecutiveFailures++
	count := b.state.ConsecutiveFailures
	tripData["consecutive_failures"] = count
	var (
		tripped   bool
		original  string
		callbacks []func(Transition)
		at        time.Time
		attempted = count >= b.cfg.MaxConsecutiveFailures
	)
	if attempted {
		tripped, original, callbacks, at = b.tripLocked(ReasonTooManyFailures, tripData)
	}
	b.mu.Unlock()

	audit.Emit(b.audit, audit.LevelWarn, audit.BreakerFailureRecorded, "", "failure recorded", map[string]any{
		"scope":                scope,
		"error":                errMsg,
		"consecutive_failures": count,
		"threshold":            b.cfg.MaxConsecutiveFailures,
	})
	if attempted {
		b.afterTrip(tripped, ReasonTooManyFailures, original, tripData, callbacks, at)
	}
}

func (b *Breaker) notify(callbacks []func(Transition), t Transition) {
	if t.To == StatusHalted {
		metrics.BreakerHalted.Set(1)
	} else {
		metrics.BreakerHalted.Set(0)
	}
	for _, fn := range callbacks {
		fn(t)
	}
}
