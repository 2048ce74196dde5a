package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog/log"

	"github.com/example/chain-collector/internal/counterstore"
)

const (
	// MaxBatchSize is the largest sub-batch handed to a single bus send
	// (spec §4.3).
	MaxBatchSize = 1024
	// MaxPerPartition is the backpressure ceiling on average per-partition
	// backlog (spec §4.3).
	MaxPerPartition = 1000
	// stallLogThreshold is how long the capacity gate must be stalled
	// before it starts logging about it (spec §4.3).
	stallLogThreshold = 60 * time.Second
	capacityPollDelay = 1 * time.Second
)

// Writer is the subset of *kafka.Writer the producer depends on, so
// tests can substitute a fake without a live broker.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ExplicitPartitionBalancer is a kafka.Balancer that sends every message
// to the partition already set on it by the caller. nextPartition (spec
// §4.3's round-robin-then-argmin cursor) picks the partition before the
// message reaches the *kafka.Writer; a size- or hash-based Balancer
// (kafka.LeastBytes, kafka.Hash, the zero-value round robin, ...) would
// silently recompute and overwrite that choice, so any *kafka.Writer
// passed to NewProducer must be configured with this balancer instead.
type ExplicitPartitionBalancer struct{}

func (ExplicitPartitionBalancer) Balance(msg kafka.Message, _ ...int) int {
	return msg.Partition
}

// Producer sends "<mode>:<hash>" messages to a partitioned topic,
// implementing spec §4.3's partition-selection, batching, and
// capacity-gating rules.
type Producer struct {
	w              Writer
	counters       counterstore.Store
	numPartitions  int
	mu             sync.Mutex
	cursor         int // round-robin seed cursor; switches to min-score once exhausted
	stallStartedAt time.Time
	sleeper        func(ctx context.Context, d time.Duration) error
}

// NewProducer wraps w (typically a *kafka.Writer configured for the
// topic) with the partition-selection and backpressure policy from spec
// §4.3.
func NewProducer(w Writer, counters counterstore.Store, numPartitions int) *Producer {
	return newProducer(w, counters, numPartitions)
}

func newProducer(w Writer, counters counterstore.Store, numPartitions int) *Producer {
	return &Producer{
		w:             w,
		counters:      counters,
		numPartitions: numPartitions,
		sleeper:       defaultSleeper,
	}
}

func defaultSleeper(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// nextPartition implements spec §4.3's selection policy: seed every
// partition once via a round-robin cursor, then switch to
// argmin-partition (fallback 0).
func (p *Producer) nextPartition(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cursor < p.numPartitions {
		partition := p.cursor
		p.cursor++
		return partition, nil
	}

	partition, ok, err := p.counters.ArgminPartition(ctx)
	if err != nil {
		return 0, fmt.Errorf("bus: select partition: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return partition, nil
}

// awaitCapacity blocks until total backlog is within budget, sleeping 1s
// between checks and logging about stalls past 60s, per spec §4.3.
func (p *Producer) awaitCapacity(ctx context.Context) error {
	for {
		total, err := p.counters.Total(ctx)
		if err != nil {
			return fmt.Errorf("bus: capacity check: %w", err)
		}
		limit := int64(MaxPerPartition * p.numPartitions)
		if total <= limit {
			if !p.stallStartedAt.IsZero() {
				stalled := time.Since(p.stallStartedAt)
				if stalled >= stallLogThreshold {
					log.Info().Dur("stalled_for", stalled).Msg("bus producer resumed after backlog drained")
				}
				p.stallStartedAt = time.Time{}
			}
			return nil
		}

		if total == 0 {
			// Unreachable given total > limit >= 0, kept for clarity with
			// spec's "if total()==0 and no prior stall, proceed
			// immediately" rule, which this loop already satisfies by
			// never entering when total<=limit.
			return nil
		}

		if p.stallStartedAt.IsZero() {
			p.stallStartedAt = time.Now()
		} else if stalled := time.Since(p.stallStartedAt); stalled >= stallLogThreshold {
			log.Warn().Dur("stalled_for", stalled).Int64("backlog", total).Msg("bus producer stalled on backpressure")
		}

		if err := p.sleeper(ctx, capacityPollDelay); err != nil {
			return fmt.Errorf("bus: capacity wait canceled: %w", err)
		}
	}
}

// SendOne sends a single message, applying the same capacity gate and
// partition selection as SendBatch.
func (p *Producer) SendOne(ctx context.Context, msg string) error {
	return p.SendBatch(ctx, []string{msg})
}

// SendBatch splits msgs into sub-batches of at most MaxBatchSize, each
// submitted to one selected partition after the capacity gate clears
// (spec §4.3).
func (p *Producer) SendBatch(ctx context.Context, msgs []string) error {
	for start := 0; start < len(msgs); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		sub := msgs[start:end]

		if err := p.awaitCapacity(ctx); err != nil {
			return err
		}
		partition, err := p.nextPartition(ctx)
		if err != nil {
			return err
		}
		if err := p.sendSubBatch(ctx, partition, sub); err != nil {
			return err
		}
	}
	return nil
}

func (p *Producer) sendSubBatch(ctx context.Context, partition int, sub []string) error {
	kmsgs := make([]kafka.Message, len(sub))
	for i, m := range sub {
		kmsgs[i] = kafka.Message{Partition: partition, Value: []byte(m)}
	}

	err := p.w.WriteMessages(ctx, kmsgs...)
	appended := len(sub)
	if err != nil {
		if isTimedOutDeliveryUnknown(err) {
			// At-least-once is acceptable; consumers dedupe via PKs
			// (spec §7). We still credit the counter store for the
			// whole sub-batch since kafka-go's WriteMessages either
			// appends all records or none per partition in this
			// failure mode.
			log.Warn().Err(err).Int("messages", appended).Msg("bus send timed out; delivery unknown")
		} else {
			return fmt.Errorf("bus: send batch to partition %d: %w", partition, err)
		}
	}

	if err := p.counters.IncrBy(ctx, partition, int64(appended)); err != nil {
		return fmt.Errorf("bus: post-send bookkeeping: %w", err)
	}
	return nil
}

func isTimedOutDeliveryUnknown(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "timed out")
}
