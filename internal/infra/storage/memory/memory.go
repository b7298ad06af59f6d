package memory

import (
	"context"
	"sync"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

// FailedTxRepo keeps the ledger in process memory. Entries are lost on restart.
type FailedTxRepo struct {
	entries []*domain.FailedTxEntry
	mu      sync.RWMutex
}

func NewFailedTxRepo() *FailedTxRepo {
	return &FailedTxRepo{}
}

func (r *FailedTxRepo) Append(ctx context.Context, entry *domain.FailedTxEntry) error {
	cp := *entry
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *FailedTxRepo) List(ctx context.Context, filter storage.Filter) ([]*domain.FailedTxEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.FailedTxEntry
	for _, e := range r.entries {
		if !filter.Matches(e) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *FailedTxRepo) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries), nil
}
