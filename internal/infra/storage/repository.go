package storage

import (
	"context"

	"github.com/vietddude/txguard/internal/core/domain"
)

// Filter narrows a ledger listing. Zero values match everything.
type Filter struct {
	TradeID    string
	FailedTxID string
	Kind       domain.FailedTxKind
	Limit      int
}

// Matches reports whether entry satisfies the filter (Limit is ignored).
func (f Filter) Matches(entry *domain.FailedTxEntry) bool {
	if f.TradeID != "" && entry.TradeID != f.TradeID {
		return false
	}
	if f.FailedTxID != "" && entry.ID != f.FailedTxID && entry.FailedTxID != f.FailedTxID {
		return false
	}
	if f.Kind != "" && entry.Kind != f.Kind {
		return false
	}
	return true
}

// FailedTxRepository is the append-only persistence of the failed transaction ledger.
// Implementations must be safe for concurrent Append calls and must never edit or delete
// an entry once written.
type FailedTxRepository interface {
	// Append persists a new entry
	Append(ctx context.Context, entry *domain.FailedTxEntry) error

	// List returns entries in append order
	List(ctx context.Context, filter Filter) ([]*domain.FailedTxEntry, error)

	// Count returns the number of entries
	Count(ctx context.Context) (int, error)
}
