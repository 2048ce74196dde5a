// Package walker implements the block-walking producer (spec §4.6): for
// each configured DataCollectionSpec, resolve bounds via internal/resolver,
// walk blocks fetching and persisting them, and enqueue each transaction
// hash onto internal/bus for the consumer pool to pick up.
package walker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/example/chain-collector/internal/bus"
	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/config"
	"github.com/example/chain-collector/internal/counterstore"
	"github.com/example/chain-collector/internal/resolver"
	"github.com/example/chain-collector/internal/rpcclient"
	"github.com/example/chain-collector/internal/store"
)

// ErrNotImplemented is returned immediately for LOG_FILTER
// DataCollectionSpecs: spec §4.6 says the producer side of LOG_FILTER is
// deliberately unimplemented.
var ErrNotImplemented = errors.New("walker: mode not implemented")

// ProgressLogFrequency is how often (in blocks) the walker emits a
// progress line, per spec §4.6.
const ProgressLogFrequency = 1000

// ewmaAlpha smooths the per-block wall-clock time used for ETA
// estimation; 0.2 weights the most recent block heavily enough to react
// to changing RPC latency without being noisy block-to-block.
const ewmaAlpha = 0.2

// Walker drives one DataCollectionSpec's block walk.
type Walker struct {
	rpc      rpcclient.Client
	store    store.Store
	producer *bus.Producer
	counters counterstore.Store
}

// New builds a Walker from its collaborators.
func New(rpc rpcclient.Client, st store.Store, producer *bus.Producer, counters counterstore.Store) *Walker {
	return &Walker{rpc: rpc, store: st, producer: producer, counters: counters}
}

// Run executes spec.Mode's block walk from resolver.ResolveStart through
// either spec.EndBlock or rpcclient.ErrBlockNotFound, whichever comes
// first.
func (w *Walker) Run(ctx context.Context, spec config.DataCollectionSpec) error {
	if spec.Mode == chainmodel.ModeLogFilter {
		return fmt.Errorf("%w: LOG_FILTER producer", ErrNotImplemented)
	}

	start, err := resolver.ResolveStart(ctx, spec, w.store, w.rpc)
	if err != nil {
		return fmt.Errorf("walker: resolve start: %w", err)
	}
	end, bounded := resolver.ResolveEnd(spec)

	var ewma float64
	haveEWMA := false

	for i := start; !bounded || i <= end; i++ {
		blockStart := time.Now()

		block, txHashes, err := w.rpc.GetBlock(ctx, rpcclient.AtNumber(i))
		if err != nil {
			if errors.Is(err, rpcclient.ErrBlockNotFound) {
				return nil
			}
			return fmt.Errorf("walker: get block %d: %w", i, err)
		}

		if spec.Mode == chainmodel.ModeFull {
			reward, err := w.rpc.GetBlockReward(ctx, rpcclient.AtNumber(i))
			if err != nil {
				return fmt.Errorf("walker: get block reward %d: %w", i, err)
			}
			block.BlockReward = reward
		}

		if err := w.store.InsertBlock(ctx, *block); err != nil {
			return fmt.Errorf("walker: insert block %d: %w", i, err)
		}

		if len(txHashes) > 0 {
			msgs := make([]string, len(txHashes))
			for j, h := range txHashes {
				msgs[j] = bus.EncodeMessage(spec.Mode, h)
			}
			if err := w.producer.SendBatch(ctx, msgs); err != nil {
				return fmt.Errorf("walker: send batch for block %d: %w", i, err)
			}
		}

		elapsed := time.Since(blockStart).Seconds()
		if !haveEWMA {
			ewma, haveEWMA = elapsed, true
		} else {
			ewma = ewmaAlpha*elapsed + (1-ewmaAlpha)*ewma
		}

		if (i-start+1)%ProgressLogFrequency == 0 {
			w.logProgress(ctx, i, start, end, bounded, ewma)
		}
	}
	return nil
}

func (w *Walker) logProgress(ctx context.Context, current, start, end uint64, bounded bool, ewmaSeconds float64) {
	evt := log.Info().Uint64("block", current)
	if bounded && end > start {
		percent := float64(current-start+1) / float64(end-start+1) * 100
		remaining := end - current
		eta := time.Duration(float64(remaining)*ewmaSeconds) * time.Second
		evt = evt.Float64("percent", percent).Dur("eta", eta)
	}
	if backlog, err := w.counters.Total(ctx); err == nil {
		evt = evt.Int64("backlog", backlog)
	}
	evt.Msg("block walk progress")
}

// StartProducingData fans every configured DataCollectionSpec out to its
// own Walker, coordinated with an errgroup.Group (generalizing
// minis/22-worker-pool-with-backpressure's fan-out/fan-in idiom to N
// concurrent tasks), and returns the first non-nil error from any of
// them.
func StartProducingData(ctx context.Context, specs []config.DataCollectionSpec, newWalker func(config.DataCollectionSpec) *Walker) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			return newWalker(spec).Run(gctx, spec)
		})
	}
	return g.Wait()
}
