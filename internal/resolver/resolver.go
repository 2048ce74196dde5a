// Package resolver computes the [start_block, end_block] exploration
// bounds (both ends inclusive) for one DataCollectionSpec (spec §4.5): configuration takes
// priority, then persisted state re-verified against the node, falling
// back to genesis.
package resolver

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/config"
	"github.com/example/chain-collector/internal/rpcclient"
)

// Store is the subset of internal/store.Store the resolver needs.
type Store interface {
	LatestBlock(ctx context.Context) (*chainmodel.Block, error)
	TransactionHashesForBlock(ctx context.Context, number uint64) ([]common.Hash, error)
}

// ResolveStart implements spec §4.5's start_block algorithm:
//  1. cfg.StartBlock if set.
//  2. Else, if a latest block L is persisted, fetch its transaction set
//     from RPC and compare to what's persisted for L. Equal -> start at
//     L+1. Otherwise the prior run crashed mid-block -> re-ingest from L.
//  3. Else start at genesis (0).
func ResolveStart(ctx context.Context, spec config.DataCollectionSpec, store Store, rpc rpcclient.Client) (uint64, error) {
	if spec.StartBlock != nil {
		return *spec.StartBlock, nil
	}

	latest, err := store.LatestBlock(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolver: latest block: %w", err)
	}
	if latest == nil {
		return 0, nil
	}

	persisted, err := store.TransactionHashesForBlock(ctx, latest.Number)
	if err != nil {
		return 0, fmt.Errorf("resolver: persisted transactions for block %d: %w", latest.Number, err)
	}
	_, liveHashes, err := rpc.GetBlock(ctx, rpcclient.AtNumber(latest.Number))
	if err != nil {
		return 0, fmt.Errorf("resolver: fetch block %d for verification: %w", latest.Number, err)
	}

	if sameHashSet(persisted, liveHashes) {
		return latest.Number + 1, nil
	}
	// Transaction sets disagree: the prior run crashed mid-block. Re-ingest
	// from L so its transactions (and any it missed) are reprocessed;
	// idempotent inserts make this safe.
	return latest.Number, nil
}

// ResolveEnd returns spec.EndBlock and whether the walk is bounded. When
// unbounded, the walker terminates only on rpcclient.ErrBlockNotFound.
func ResolveEnd(spec config.DataCollectionSpec) (end uint64, bounded bool) {
	if spec.EndBlock == nil {
		return 0, false
	}
	return *spec.EndBlock, true
}

func sameHashSet(a, b []common.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[common.Hash]struct{}, len(a))
	for _, h := range a {
		set[h] = struct{}{}
	}
	for _, h := range b {
		if _, ok := set[h]; !ok {
			return false
		}
	}
	return true
}
