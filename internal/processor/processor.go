// Package processor implements the transaction processor (spec §4.7):
// mode-specific decision and persistence logic that decides whether an
// incoming transaction is saved and, if so, which logs and derived rows
// go with it.
package processor

import (
	"context"

	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/registry"
	"github.com/example/chain-collector/internal/rpcclient"
	"github.com/example/chain-collector/internal/store"
)

// Processor decides whether to persist a transaction and does so if so,
// returning whether it was saved.
type Processor interface {
	Process(ctx context.Context, tx chainmodel.TxData, receipt chainmodel.ReceiptData) (saved bool, err error)
}

// ByMode builds the map[Mode]Processor dispatch table used by
// internal/consumerrole, one Processor per mode rather than a class
// hierarchy (REDESIGN FLAGS §9).
func ByMode(st store.Store, reg *registry.Registry, rpc rpcclient.Client) map[chainmodel.Mode]Processor {
	noop := &logFilterProcessor{}
	return map[chainmodel.Mode]Processor{
		chainmodel.ModeFull:      &fullProcessor{store: st, rpc: rpc},
		chainmodel.ModePartial:   &partialProcessor{store: st, registry: reg, rpc: rpc},
		chainmodel.ModeLogFilter: noop,
		// GET_LOGS has no defined consumer semantics in the source this
		// pipeline was distilled from; treated identically to LOG_FILTER
		// rather than inventing behavior (see DESIGN.md).
		chainmodel.ModeGetLogs: noop,
	}
}
