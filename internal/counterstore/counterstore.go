// Package counterstore implements the per-partition counter store (spec
// §4.2) as a Redis sorted set, keyed "<topic>_n_transactions" with
// partition index as member and count as score — the same shape
// original_source's db/redis.py uses, backed here by
// github.com/redis/go-redis/v9 instead of aioredis.
package counterstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store is the counter store contract required by the bus producer and
// consumer (spec §4.2): atomic per-partition increment/decrement, total
// backlog, and the least-loaded partition.
type Store interface {
	IncrBy(ctx context.Context, partition int, n int64) error
	Decr(ctx context.Context, partition int) error
	Total(ctx context.Context) (int64, error)
	ArgminPartition(ctx context.Context) (partition int, ok bool, err error)
}

// redisStore is the production Store, one sorted set per topic.
type redisStore struct {
	client *redis.Client
	key    string
}

// New returns a Store backed by the Redis sorted set
// "<topic>_n_transactions".
func New(client *redis.Client, topic string) Store {
	return &redisStore{client: client, key: fmt.Sprintf("%s_n_transactions", topic)}
}

// Dial connects to counterURL (a redis:// URL) and wraps it in a Store
// for topic.
func Dial(counterURL, topic string) (Store, error) {
	opts, err := redis.ParseURL(counterURL)
	if err != nil {
		return nil, fmt.Errorf("parse counter store url: %w", err)
	}
	return New(redis.NewClient(opts), topic), nil
}

func (s *redisStore) IncrBy(ctx context.Context, partition int, n int64) error {
	member := fmt.Sprintf("%d", partition)
	if err := s.client.ZIncrBy(ctx, s.key, float64(n), member).Err(); err != nil {
		return fmt.Errorf("counterstore: incrby partition %d: %w", partition, err)
	}
	return nil
}

func (s *redisStore) Decr(ctx context.Context, partition int) error {
	return s.IncrBy(ctx, partition, -1)
}

// Total sums the score of every partition currently tracked. The score
// may go transiently negative (spec §4.2); Total simply reflects that.
func (s *redisStore) Total(ctx context.Context) (int64, error) {
	pairs, err := s.client.ZRangeWithScores(ctx, s.key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("counterstore: total: %w", err)
	}
	var total int64
	for _, p := range pairs {
		total += int64(p.Score)
	}
	return total, nil
}

// ArgminPartition returns the partition with the lowest score, or
// ok=false if the sorted set is empty.
func (s *redisStore) ArgminPartition(ctx context.Context) (int, bool, error) {
	pairs, err := s.client.ZRangeWithScores(ctx, s.key, 0, 0).Result()
	if err != nil {
		return 0, false, fmt.Errorf("counterstore: argmin: %w", err)
	}
	if len(pairs) == 0 {
		return 0, false, nil
	}
	var partition int
	if _, err := fmt.Sscanf(pairs[0].Member.(string), "%d", &partition); err != nil {
		return 0, false, fmt.Errorf("counterstore: argmin: malformed member %q: %w", pairs[0].Member, err)
	}
	return partition, true, nil
}
