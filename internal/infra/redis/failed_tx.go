package redis

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/infra/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const entryField = "entry"

// FailedTxRepo stores the ledger as a Redis stream. Stream entries are only ever added,
// and no TTL or MAXLEN is applied.
type FailedTxRepo struct {
	rdb *redis.Client
	key string
}

// NewFailedTxRepo creates a new Redis-backed failed transaction repository.
func NewFailedTxRepo(client *Client) *FailedTxRepo {
	return &FailedTxRepo{
		rdb: client.rdb,
		key: client.ledgerKey(),
	}
}

func (r *FailedTxRepo) Append(ctx context.Context, entry *domain.FailedTxEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}

	if err := r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.key,
		Values: map[string]any{entryField: data},
	}).Err(); err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (r *FailedTxRepo) List(ctx context.Context, filter storage.Filter) ([]*domain.FailedTxEntry, error) {
	msgs, err := r.rdb.XRange(ctx, r.key, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger stream: %w", err)
	}

	out := make([]*domain.FailedTxEntry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[entryField].(string)
		if !ok {
			continue
		}
		var entry domain.FailedTxEntry
		if err := json.UnmarshalFromString(raw, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode ledger entry %s: %w", msg.ID, err)
		}
		if !filter.Matches(&entry) {
			continue
		}
		out = append(out, &entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *FailedTxRepo) Count(ctx context.Context) (int, error) {
	n, err := r.rdb.XLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger stream: %w", err)
	}
	return int(n), nil
}
