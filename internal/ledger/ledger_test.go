package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
	"github.com/vietddude/txguard/internal/infra/storage/memory"
)

type failingRepo struct {
	mu    sync.Mutex
	calls int
}

func (r *failingRepo) Append(ctx context.Context, entry *domain.FailedTxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return errors.New("disk full")
}

func (r *failingRepo) List(ctx context.Context, filter storage.Filter) ([]*domain.FailedTxEntry, error) {
	return nil, nil
}

func (r *failingRepo) Count(ctx context.Context) (int, error) { return 0, nil }

func TestStore_RecordFailureAndRetryAttempt(t *testing.T) {
	ctx := context.Background()
	rec := &audit.Recorder{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	seq := 0
	store := NewStore(memory.NewFailedTxRepo(), rec,
		WithClock(func() time.Time { return fixed }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("id-%d", seq) }),
	)

	failure, err := store.RecordFailure(ctx, FailureRecord{
		TradeID:     "trade-1",
		Scope:       "swap",
		TxHash:      "0xabc",
		Retryable:   true,
		Attempt:     1,
		MaxAttempts: 3,
		Err:         errors.New("receipt status not success"),
	})
	if err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if failure.ID != "id-1" || failure.Kind != domain.FailedTxKindFailure || !failure.Timestamp.Equal(fixed) {
		t.Errorf("unexpected failure entry: %+v", failure)
	}

	attempt, err := store.RecordRetryAttempt(ctx, RetryAttemptRecord{
		FailedTxID:  failure.ID,
		TradeID:     "trade-1",
		Scope:       "swap",
		Attempt:     2,
		MaxAttempts: 3,
		TxHash:      "0xdef",
	})
	if err != nil {
		t.Fatalf("RecordRetryAttempt failed: %v", err)
	}
	if attempt.FailedTxID != "id-1" || attempt.Kind != domain.FailedTxKindRetryAttempt || attempt.Error != "" {
		t.Errorf("unexpected retry entry: %+v", attempt)
	}

	entries, _ := store.List(ctx, storage.Filter{FailedTxID: "id-1"})
	if len(entries) != 2 {
		t.Errorf("expected failure and its attempt, got %d entries", len(entries))
	}
	if n, _ := store.Count(ctx); n != 2 {
		t.Errorf("expected count 2, got %d", n)
	}
	if got := len(rec.OfType(audit.FailedTxRecorded)); got != 2 {
		t.Errorf("expected 2 recorded events, got %d", got)
	}
}

func TestStore_PersistErrorIsReturnedAndAudited(t *testing.T) {
	rec := &audit.Recorder{}
	repo := &failingRepo{}
	store := NewStore(repo, rec)

	entry, err := store.RecordFailure(context.Background(), FailureRecord{TradeID: "t", Scope: "approve"})
	if err == nil {
		t.Fatal("expected persistence error")
	}
	if entry == nil || entry.ID == "" {
		t.Error("expected entry to be populated even when persistence fails")
	}
	events := rec.OfType(audit.FailedTxPersistError)
	if len(events) != 1 {
		t.Fatalf("expected 1 persist_error event, got %d", len(events))
	}
	if events[0].Level != audit.LevelError {
		t.Errorf("expected error level, got %s", events[0].Level)
	}
}

func TestStore_UniqueIDsUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	store := NewStore(memory.NewFailedTxRepo(), nil)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.RecordFailure(ctx, FailureRecord{TradeID: "t", Scope: "s"})
		}()
	}
	wg.Wait()

	entries, _ := store.List(ctx, storage.Filter{})
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.ID] {
			t.Fatalf("duplicate id %s", e.ID)
		}
		seen[e.ID] = true
	}
	if len(seen) != 20 {
		t.Errorf("expected 20 entries, got %d", len(seen))
	}
}
