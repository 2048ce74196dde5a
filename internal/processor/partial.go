package processor

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/registry"
	"github.com/example/chain-collector/internal/rpcclient"
	"github.com/example/chain-collector/internal/store"
)

// partialProcessor implements spec.md §4.7's tri-case decision tree:
// direct interaction with a registered contract, event-only matches
// against logs emitted by registered contracts, or contract creation.
type partialProcessor struct {
	store    store.Store
	registry *registry.Registry
	rpc      rpcclient.Client
}

func (p *partialProcessor) Process(ctx context.Context, tx chainmodel.TxData, receipt chainmodel.ReceiptData) (bool, error) {
	var (
		byAddr map[common.Address]eventOutcome
		saveTx bool
		err    error
	)

	switch {
	case tx.To != nil:
		byAddr, saveTx, err = p.direct(ctx, tx, receipt, *tx.To)
	case receipt.ContractAddress != nil:
		byAddr, saveTx, err = p.creation(ctx, tx, receipt, *receipt.ContractAddress)
	default:
		saveTx = false
	}
	if err != nil {
		return false, err
	}
	if !saveTx {
		return false, nil
	}

	keep := make(map[uint]struct{})
	for _, out := range byAddr {
		for idx := range out.indices {
			keep[idx] = struct{}{}
		}
	}
	if err := persistTransaction(ctx, p.store, p.rpc, tx, receipt, keep, true); err != nil {
		return false, err
	}
	for addr, out := range byAddr {
		if err := persistDeltas(ctx, p.store, addr, tx.Hash, out); err != nil {
			return false, err
		}
	}
	return true, nil
}

// direct handles Case 1 (tx.To is a registered contract). Falls through
// to Case 3 (event-only) when tx.To is unrecognized.
func (p *partialProcessor) direct(ctx context.Context, tx chainmodel.TxData, receipt chainmodel.ReceiptData, to common.Address) (map[common.Address]eventOutcome, bool, error) {
	cat, ok := p.registry.CategoryOf(to)
	if !ok {
		return p.eventOnly(ctx, tx, receipt)
	}

	handle, err := p.registry.ContractHandle(to, cat)
	if err != nil {
		return nil, false, err
	}
	out, err := handleEvents(ctx, p.store, p.registry, handle, tx, receipt.Logs)
	if err != nil {
		return nil, false, err
	}
	return map[common.Address]eventOutcome{to: out}, true, nil
}

// eventOnly implements Case 3: tx.To is unrecognized, but its receipt
// logs may still touch one or more registered contracts. save_tx is true
// only if at least one log index matched (spec.md §4.7).
func (p *partialProcessor) eventOnly(ctx context.Context, tx chainmodel.TxData, receipt chainmodel.ReceiptData) (map[common.Address]eventOutcome, bool, error) {
	byAddr := make(map[common.Address]eventOutcome)
	anyMatched := false
	for _, addr := range uniqueLogAddresses(receipt.Logs) {
		cat, ok := p.registry.CategoryOf(addr)
		if !ok {
			continue
		}
		handle, err := p.registry.ContractHandle(addr, cat)
		if err != nil {
			return nil, false, err
		}
		out, err := handleEvents(ctx, p.store, p.registry, handle, tx, receipt.Logs)
		if err != nil {
			return nil, false, err
		}
		if len(out.indices) > 0 {
			anyMatched = true
		}
		byAddr[addr] = out
	}
	return byAddr, anyMatched, nil
}

// creation handles Case 2: tx.To is nil (contract creation). Unrecognized
// contract addresses are not saved.
func (p *partialProcessor) creation(ctx context.Context, tx chainmodel.TxData, receipt chainmodel.ReceiptData, contractAddr common.Address) (map[common.Address]eventOutcome, bool, error) {
	cat, ok := p.registry.CategoryOf(contractAddr)
	if !ok {
		return nil, false, nil
	}

	handle, err := p.registry.ContractHandle(contractAddr, cat)
	if err != nil {
		return nil, false, err
	}
	if err := handleContractCreation(ctx, p.store, p.rpc, handle, tx.Hash); err != nil {
		return nil, false, err
	}
	out, err := handleEvents(ctx, p.store, p.registry, handle, tx, receipt.Logs)
	if err != nil {
		return nil, false, err
	}
	return map[common.Address]eventOutcome{contractAddr: out}, true, nil
}

// uniqueLogAddresses returns the distinct contract addresses that
// emitted at least one of logs, in first-seen order.
func uniqueLogAddresses(logs []chainmodel.TransactionLog) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, lg := range logs {
		if _, ok := seen[lg.Address]; ok {
			continue
		}
		seen[lg.Address] = struct{}{}
		out = append(out, lg.Address)
	}
	return out
}
