package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

func TestFailedTxRepo_AppendOnlyOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewFailedTxRepo()

	for i := range 5 {
		entry := &domain.FailedTxEntry{
			ID:      fmt.Sprintf("id-%d", i),
			Kind:    domain.FailedTxKindFailure,
			TradeID: "trade-1",
		}
		if i%2 == 1 {
			entry.Kind = domain.FailedTxKindRetryAttempt
			entry.TradeID = "trade-2"
		}
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	all, _ := repo.List(ctx, storage.Filter{})
	if len(all) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(all))
	}
	for i, e := range all {
		if e.ID != fmt.Sprintf("id-%d", i) {
			t.Errorf("entry %d out of order: %s", i, e.ID)
		}
	}

	retries, _ := repo.List(ctx, storage.Filter{Kind: domain.FailedTxKindRetryAttempt})
	if len(retries) != 2 {
		t.Errorf("expected 2 retry attempts, got %d", len(retries))
	}

	limited, _ := repo.List(ctx, storage.Filter{TradeID: "trade-1", Limit: 2})
	if len(limited) != 2 || limited[0].ID != "id-0" || limited[1].ID != "id-2" {
		t.Errorf("unexpected limited listing: %+v", limited)
	}
}

func TestFailedTxRepo_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewFailedTxRepo()
	entry := &domain.FailedTxEntry{ID: "a", Error: "boom"}
	_ = repo.Append(ctx, entry)

	entry.Error = "mutated by caller"
	got, _ := repo.List(ctx, storage.Filter{})
	got[0].Error = "mutated by reader"

	again, _ := repo.List(ctx, storage.Filter{})
	if again[0].Error != "boom" {
		t.Errorf("stored entry was edited: %q", again[0].Error)
	}
}

func TestFailedTxRepo_ConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	repo := NewFailedTxRepo()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = repo.Append(ctx, &domain.FailedTxEntry{ID: fmt.Sprintf("id-%d", i)})
		}(i)
	}
	wg.Wait()

	count, _ := repo.Count(ctx)
	if count != 50 {
		t.Errorf("expected 50 entries, got %d", count)
	}
}
