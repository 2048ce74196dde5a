package processor

import (
	"context"

	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/rpcclient"
	"github.com/example/chain-collector/internal/store"
)

// fullProcessor always persists: the transaction row, every receipt log,
// and every internal transaction (spec.md §4.7 Mode FULL).
type fullProcessor struct {
	store store.Store
	rpc   rpcclient.Client
}

func (p *fullProcessor) Process(ctx context.Context, tx chainmodel.TxData, receipt chainmodel.ReceiptData) (bool, error) {
	keep := make(map[uint]struct{}, len(receipt.Logs))
	for _, lg := range receipt.Logs {
		keep[lg.LogIndex] = struct{}{}
	}
	if err := persistTransaction(ctx, p.store, p.rpc, tx, receipt, keep, false); err != nil {
		return false, err
	}
	return true, nil
}
