package cost

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisLedger stores call records in a Redis sorted set keyed by Unix
// timestamp, giving every Artemis process sharing one daily/monthly
// budget a consistent view of spend — the multi-process alternative
// SPEC_FULL.md calls for to cost_tracker.py's single-process JSON file.
type RedisLedger struct {
	rdb *goredis.Client
	key string
}

// NewRedisLedger dials addr and returns a ledger storing entries under key.
func NewRedisLedger(addr, key string) (*RedisLedger, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cost: redis ping: %w", err)
	}

	return &RedisLedger{rdb: rdb, key: key}, nil
}

// Append implements Ledger.
func (l *RedisLedger) Append(call Call) error {
	body, err := json.Marshal(call)
	if err != nil {
		return fmt.Errorf("cost: marshal call: %w", err)
	}
	ctx := context.Background()
	return l.rdb.ZAdd(ctx, l.key, goredis.Z{
		Score:  float64(call.Timestamp.Unix()),
		Member: string(body),
	}).Err()
}

// All implements Ledger.
func (l *RedisLedger) All() ([]Call, error) {
	ctx := context.Background()
	members, err := l.rdb.ZRange(ctx, l.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cost: redis zrange: %w", err)
	}

	calls := make([]Call, 0, len(members))
	for _, m := range members {
		var c Call
		if err := json.Unmarshal([]byte(m), &c); err != nil {
			continue
		}
		calls = append(calls, c)
	}
	return calls, nil
}

// Prune implements Ledger, dropping every entry scored before cutoff.
func (l *RedisLedger) Prune(cutoff time.Time) error {
	ctx := context.Background()
	return l.rdb.ZRemRangeByScore(ctx, l.key, "-inf", fmt.Sprintf("(%d", cutoff.Unix())).Err()
}

// Close releases the underlying Redis connection.
func (l *RedisLedger) Close() error {
	return l.rdb.Close()
}
