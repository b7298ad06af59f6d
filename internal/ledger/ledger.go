// Package ledger records every failed transaction and every retry attempt in an append-only
// store. Entries are written once and never edited.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
	"github.com/vietddude/txguard/internal/metrics"
)

// FailureRecord describes a step that failed inside an atomic sequence.
type FailureRecord struct {
	TradeID     string
	Scope       string
	TxHash      string
	Retryable   bool
	Attempt     int
	MaxAttempts int
	Err         error
}

// RetryAttemptRecord describes one attempt made by the retry queue.
type RetryAttemptRecord struct {
	FailedTxID  string
	TradeID     string
	Scope       string
	Attempt     int
	MaxAttempts int
	TxHash      string
	Err         error
}

// Recorder is the write side used by the executor and the retry queue.
type Recorder interface {
	RecordFailure(ctx context.Context, rec FailureRecord) (*domain.FailedTxEntry, error)
	RecordRetryAttempt(ctx context.Context, rec RetryAttemptRecord) (*domain.FailedTxEntry, error)
}

// Store is the failed transaction ledger.
type Store struct {
	repo  storage.FailedTxRepository
	audit audit.Log
	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

var _ Recorder = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source used for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator replaces the UUIDv4 generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// NewStore creates a ledger over repo.
func NewStore(repo storage.FailedTxRepository, auditLog audit.Log, opts ...Option) *Store {
	s := &Store{
		repo:  repo,
		audit: audit.OrNop(auditLog),
		now:   time.Now,
		newID: uuid.NewString,
		log:   slog.Default().With("component", "ledger"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordFailure appends a failure entry. A persistence error is returned and audited; the
// returned entry is still populated so callers can reference its ID.
func (s *Store) RecordFailure(ctx context.Context, rec FailureRecord) (*domain.FailedTxEntry, error) {
	entry := &domain.FailedTxEntry{
		ID:          s.newID(),
		Timestamp:   s.now().UTC(),
		Kind:        domain.FailedTxKindFailure,
		TradeID:     rec.TradeID,
		Scope:       rec.Scope,
		TxHash:      rec.TxHash,
		Retryable:   rec.Retryable,
		Attempt:     rec.Attempt,
		MaxAttempts: rec.MaxAttempts,
		Error:       errString(rec.Err),
	}
	return entry, s.append(ctx, entry)
}

// RecordRetryAttempt appends a retry attempt entry referencing the original failure.
func (s *Store) RecordRetryAttempt(ctx context.Context, rec RetryAttemptRecord) (*domain.FailedTxEntry, error) {
	entry := &domain.FailedTxEntry{
		ID:          s.newID(),
		Timestamp:   s.now().UTC(),
		Kind:        domain.FailedTxKindRetryAttempt,
		TradeID:     rec.TradeID,
		Scope:       rec.Scope,
		FailedTxID:  rec.FailedTxID,
		TxHash:      rec.TxHash,
		Retryable:   true,
		Attempt:     rec.Attempt,
		MaxAttempts: rec.MaxAttempts,
		Error:       errString(rec.Err),
	}
	return entry, s.append(ctx, entry)
}

func (s *Store) append(ctx context.Context, entry *domain.FailedTxEntry) error {
	data := map[string]any{
		"id":           entry.ID,
		"kind":         string(entry.Kind),
		"scope":        entry.Scope,
		"attempt":      entry.Attempt,
		"max_attempts": entry.MaxAttempts,
	}
	if entry.FailedTxID != "" {
		data["failed_tx_id"] = entry.FailedTxID
	}
	if entry.TxHash != "" {
		data["tx_hash"] = entry.TxHash
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		metrics.LedgerWritesTotal.WithLabelValues(string(entry.Kind), "error").Inc()
		s.log.Error("Failed to persist ledger entry", "id", entry.ID, "trade_id", entry.TradeID, "error", err)
		data["error"] = err.Error()
		audit.Emit(s.audit, audit.LevelError, audit.FailedTxPersistError, entry.TradeID,
			"failed to persist ledger entry", data)
		return fmt.Errorf("persist ledger entry %s: %w", entry.ID, err)
	}

	metrics.LedgerWritesTotal.WithLabelValues(string(entry.Kind), "ok").Inc()
	if entry.Error != "" {
		data["error"] = entry.Error
	}
	audit.Emit(s.audit, audit.LevelInfo, audit.FailedTxRecorded, entry.TradeID, "ledger entry recorded", data)
	return nil
}

// List returns ledger entries in append order.
func (s *Store) List(ctx context.Context, filter storage.Filter) ([]*domain.FailedTxEntry, error) {
	return s.repo.List(ctx, filter)
}

// Count returns the number of ledger entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
