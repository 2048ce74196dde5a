// Package consumerrole implements the bus consumer (spec.md §4.8, C9):
// decode a "<mode>:<hash>" message, fetch the transaction and receipt via
// C1, run it through the mode's Processor, and report the outcome.
package consumerrole

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/example/chain-collector/internal/bus"
	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/counterstore"
	"github.com/example/chain-collector/internal/metrics"
	"github.com/example/chain-collector/internal/processor"
	"github.com/example/chain-collector/internal/rpcclient"
)

// Runner drives a single bus.Consumer loop, dispatching each decoded
// message to the processor registered for its mode. Each Runner in a
// fanned-out pool carries its own id so log lines from concurrent
// runners on the same topic can be told apart.
type Runner struct {
	id         string
	topic      string
	consumer   *bus.Consumer
	rpc        rpcclient.Client
	processors map[chainmodel.Mode]processor.Processor
	counters   counterstore.Store
	metrics    *metrics.Metrics
}

// New builds a Runner over an already-constructed bus.Consumer.
func New(topic string, consumer *bus.Consumer, rpc rpcclient.Client, processors map[chainmodel.Mode]processor.Processor, counters counterstore.Store, m *metrics.Metrics) *Runner {
	return &Runner{id: uuid.NewString(), topic: topic, consumer: consumer, rpc: rpc, processors: processors, counters: counters, metrics: m}
}

// Run drives the consumer loop until bus.ErrPartitionsIdle (reported by
// bus.Consumer.Run as a nil return, per spec.md §4.8) or an unrecoverable
// error.
func (r *Runner) Run(ctx context.Context) error {
	return r.consumer.Run(ctx, r.handle)
}

func (r *Runner) handle(ctx context.Context, msg kafka.Message) error {
	r.metrics.TransactionsConsumed.WithLabelValues(r.topic).Inc()

	mode, hash, err := bus.DecodeMessage(string(msg.Value))
	if err != nil {
		log.Warn().Err(err).Str("runner", r.id).Str("raw", string(msg.Value)).Msg("malformed bus message, dropping")
		return nil
	}

	proc, ok := r.processors[mode]
	if !ok {
		log.Warn().Str("runner", r.id).Str("mode", string(mode)).Str("tx_hash", hash.Hex()).Msg("unrecognized mode, defaulting to full")
		proc = r.processors[chainmodel.ModeFull]
	}

	tx, err := r.rpc.GetTransaction(ctx, hash)
	if err != nil {
		return fmt.Errorf("consumerrole: fetch transaction %s: %w", hash, err)
	}
	receipt, err := r.rpc.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return fmt.Errorf("consumerrole: fetch receipt %s: %w", hash, err)
	}

	r.metrics.TransactionsProcessed.WithLabelValues(r.topic, string(mode)).Inc()

	saved, err := proc.Process(ctx, *tx, *receipt)
	if err != nil {
		return fmt.Errorf("consumerrole: process %s: %w", hash, err)
	}
	if saved {
		r.metrics.TransactionsSaved.WithLabelValues(r.topic, string(mode)).Inc()
	}

	if err := r.counters.Decr(ctx, msg.Partition); err != nil {
		return fmt.Errorf("consumerrole: decrement backlog counter for partition %d: %w", msg.Partition, err)
	}
	return nil
}

// RunFanout runs fanout independent Runner instances concurrently,
// coordinated with errgroup.Group the way walker.StartProducingData
// fans its DataCollectionSpecs out (spec.md §4.8: "at least
// consumer_fanout consumer tasks run in parallel per process").
func RunFanout(ctx context.Context, runners []*Runner) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		r := r
		g.Go(func() error {
			return r.Run(ctx)
		})
	}
	return g.Wait()
}
