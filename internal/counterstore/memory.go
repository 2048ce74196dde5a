package counterstore

import (
	"context"
	"sync"
)

// memoryStore is an in-process Store used by tests across the pipeline
// (bus, walker, consumerrole) that need a counter store without a live
// Redis instance.
type memoryStore struct {
	mu     sync.Mutex
	scores map[int]int64
}

// NewMemory returns a Store backed by an in-process map, for tests.
func NewMemory() Store {
	return &memoryStore{scores: make(map[int]int64)}
}

func (m *memoryStore) IncrBy(_ context.Context, partition int, n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[partition] += n
	return nil
}

func (m *memoryStore) Decr(ctx context.Context, partition int) error {
	return m.IncrBy(ctx, partition, -1)
}

func (m *memoryStore) Total(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, v := range m.scores {
		total += v
	}
	return total, nil
}

func (m *memoryStore) ArgminPartition(_ context.Context) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.scores) == 0 {
		return 0, false, nil
	}
	best, bestScore := 0, int64(0)
	first := true
	// Deterministic within a call: iterate partitions in ascending
	// numeric order so ties break the same way every time (spec §4.2).
	keys := make([]int, 0, len(m.scores))
	for k := range m.scores {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		if first || m.scores[k] < bestScore {
			best, bestScore, first = k, m.scores[k], false
		}
	}
	return best, true, nil
}
