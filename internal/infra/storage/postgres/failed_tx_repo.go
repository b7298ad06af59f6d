package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

// FailedTxRepo implements storage.FailedTxRepository using PostgreSQL.
// The table is insert-only.
type FailedTxRepo struct {
	db *DB
}

var _ storage.FailedTxRepository = (*FailedTxRepo)(nil)

// NewFailedTxRepo creates a new PostgreSQL failed transaction repository.
func NewFailedTxRepo(db *DB) *FailedTxRepo {
	return &FailedTxRepo{db: db}
}

const insertFailedTx = `
		INSERT INTO failed_transactions
			(id, created_at, kind, trade_id, scope, failed_tx_id, tx_hash, retryable, attempt, max_attempts, error_msg)
		VALUES
			(:id, :created_at, :kind, :trade_id, :scope, :failed_tx_id, :tx_hash, :retryable, :attempt, :max_attempts, :error_msg)
	`

// Append inserts a ledger entry.
func (r *FailedTxRepo) Append(ctx context.Context, entry *domain.FailedTxEntry) error {
	if _, err := r.db.NamedExecContext(ctx, insertFailedTx, entry); err != nil {
		return fmt.Errorf("failed to append failed tx %s: %w", entry.ID, err)
	}
	return nil
}

// List returns entries in insertion order.
func (r *FailedTxRepo) List(
	ctx context.Context,
	filter storage.Filter,
) ([]*domain.FailedTxEntry, error) {
	var (
		conds []string
		args  []any
	)
	if filter.TradeID != "" {
		args = append(args, filter.TradeID)
		conds = append(conds, fmt.Sprintf("trade_id = $%d", len(args)))
	}
	if filter.FailedTxID != "" {
		args = append(args, filter.FailedTxID)
		conds = append(conds, fmt.Sprintf("(id::text = $%d OR failed_tx_id = $%d)", len(args), len(args)))
	}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `
		SELECT id::text AS id, created_at, kind, trade_id, scope, failed_tx_id, tx_hash, retryable, attempt, max_attempts, error_msg
		FROM failed_transactions`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY seq ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\n\t\tLIMIT $%d", len(args))
	}

	var rows []*domain.FailedTxEntry
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list failed txs: %w", err)
	}
	return rows, nil
}

// Count returns the number of ledger entries.
func (r *FailedTxRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM failed_transactions`); err != nil {
		return 0, fmt.Errorf("failed to count failed txs: %w", err)
	}
	return count, nil
}
