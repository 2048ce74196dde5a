package processor

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/registry"
	"github.com/example/chain-collector/internal/rpcclient"
	"github.com/example/chain-collector/internal/store"
)

// eventOutcome is handleEvents' accumulated verdict for one transaction:
// which log indices to keep and the aggregated supply/liquidity deltas
// (spec §4.7 handle_events).
type eventOutcome struct {
	indices     map[uint]struct{}
	supplyDelta *big.Int
	pair0       *big.Int
	pair1       *big.Int
}

func newEventOutcome() eventOutcome {
	return eventOutcome{
		indices:     make(map[uint]struct{}),
		supplyDelta: big.NewInt(0),
		pair0:       big.NewInt(0),
		pair1:       big.NewInt(0),
	}
}

// toTypesLog rebuilds the go-ethereum wire shape the registry decoder
// expects from the normalized chainmodel.TransactionLog the store and
// RPC layers use everywhere else.
func toTypesLog(l chainmodel.TransactionLog) types.Log {
	return types.Log{
		Address: l.Address,
		Topics:  l.Topics,
		Data:    l.Data,
		Index:   l.LogIndex,
		TxHash:  l.TransactionHash,
		Removed: l.Removed,
	}
}

// handleEvents decodes every log on h's address, keeps only events whose
// kind is whitelisted for h.Address, and folds matched events into an
// eventOutcome (spec §4.7). NftTransfer rows are persisted immediately,
// per spec, rather than batched with the rest of the aggregation.
func handleEvents(ctx context.Context, st store.Store, reg *registry.Registry, h *registry.Handle, tx chainmodel.TxData, logs []chainmodel.TransactionLog) (eventOutcome, error) {
	out := newEventOutcome()

	allowed, ok := reg.AllowedEvents(h.Address)
	if !ok {
		return out, nil
	}

	for _, raw := range logs {
		if raw.Address != h.Address {
			continue
		}
		for _, ev := range registry.Decode(h, toTypesLog(raw)) {
			if ev.Address != h.Address {
				continue
			}
			if _, ok := allowed[ev.Kind]; !ok {
				continue
			}

			out.indices[ev.LogIndex] = struct{}{}

			switch ev.Kind {
			case chainmodel.EventMintFungible:
				out.supplyDelta.Add(out.supplyDelta, ev.Value)
			case chainmodel.EventBurnFungible:
				out.supplyDelta.Sub(out.supplyDelta, ev.Value)
			case chainmodel.EventMintPair:
				out.pair0.Add(out.pair0, ev.Amount0)
				out.pair1.Add(out.pair1, ev.Amount1)
			case chainmodel.EventBurnPair:
				out.pair0.Sub(out.pair0, ev.Amount0)
				out.pair1.Sub(out.pair1, ev.Amount1)
			case chainmodel.EventSwapPair:
				out.pair0.Add(out.pair0, new(big.Int).Sub(ev.In0, ev.Out0))
				out.pair1.Add(out.pair1, new(big.Int).Sub(ev.In1, ev.Out1))
			case chainmodel.EventTransferNonFungible:
				nft := chainmodel.NftTransfer{
					TransactionHash: tx.Hash,
					LogIndex:        ev.LogIndex,
					Address:         ev.Address,
					From:            ev.Src,
					To:              ev.Dst,
					TokenID:         ev.TokenID,
				}
				if err := st.InsertNftTransfer(ctx, nft); err != nil {
					return out, fmt.Errorf("processor: insert nft transfer: %w", err)
				}
			}
		}
	}
	return out, nil
}

// persistDeltas writes at most one ContractSupplyChange and one
// PairLiquidityChange row for addr/tx, skipping either whose delta is
// all-zero (spec §4.7: "if supply_delta != 0 ... if (pair0,pair1) != (0,0)").
func persistDeltas(ctx context.Context, st store.Store, addr common.Address, txHash common.Hash, out eventOutcome) error {
	if out.supplyDelta.Sign() != 0 {
		err := st.InsertContractSupplyChange(ctx, chainmodel.ContractSupplyChange{
			Address:         addr,
			TransactionHash: txHash,
			AmountChanged:   out.supplyDelta,
		})
		if err != nil {
			return fmt.Errorf("processor: insert contract supply change: %w", err)
		}
	}
	if out.pair0.Sign() != 0 || out.pair1.Sign() != 0 {
		err := st.InsertPairLiquidityChange(ctx, chainmodel.PairLiquidityChange{
			Address:         addr,
			TransactionHash: txHash,
			Amount0:         out.pair0,
			Amount1:         out.pair1,
		})
		if err != nil {
			return fmt.Errorf("processor: insert pair liquidity change: %w", err)
		}
	}
	return nil
}

// persistTransaction computes transaction_fee, inserts the transaction
// row, the receipt logs whose index is in keepIndices, and the internal
// transactions, each inside their own store transaction per spec §4.7.
func persistTransaction(ctx context.Context, st store.Store, rpc rpcclient.Client, tx chainmodel.TxData, receipt chainmodel.ReceiptData, keepIndices map[uint]struct{}, isTokenTx bool) error {
	fee := new(big.Int).Mul(tx.GasPrice, new(big.Int).SetUint64(receipt.GasUsed))
	row := chainmodel.Transaction{
		Hash:           tx.Hash,
		BlockNumber:    tx.BlockNumber,
		From:           tx.From,
		To:             tx.To,
		Value:          tx.Value,
		GasPrice:       tx.GasPrice,
		GasLimit:       tx.GasLimit,
		GasUsed:        receipt.GasUsed,
		TransactionFee: fee,
		IsTokenTx:      isTokenTx,
		InputData:      tx.InputData,
	}
	if err := st.InsertTransaction(ctx, row); err != nil {
		return fmt.Errorf("processor: insert transaction: %w", err)
	}

	var kept []chainmodel.TransactionLog
	for _, lg := range receipt.Logs {
		if _, ok := keepIndices[lg.LogIndex]; ok {
			kept = append(kept, lg)
		}
	}
	if len(kept) > 0 {
		if err := st.InsertTransactionLogs(ctx, kept); err != nil {
			return fmt.Errorf("processor: insert transaction logs: %w", err)
		}
	}

	itxs, err := rpc.GetInternalTransactions(ctx, tx.Hash)
	if err != nil {
		return fmt.Errorf("processor: fetch internal transactions: %w", err)
	}
	if len(itxs) > 0 {
		if err := st.InsertInternalTransactions(ctx, itxs); err != nil {
			return fmt.Errorf("processor: insert internal transactions: %w", err)
		}
	}
	return nil
}

// handleContractCreation fetches token or pair metadata for a freshly
// created contract via read-only eth_calls bound to h's ABI first (so a
// failed RPC call never opens a store transaction), then writes the
// Contract row together with its TokenContract/PairContract metadata row
// inside a single store.Store.Atomic call, so a contract is never
// persisted without its metadata row (spec §4.7 handle_contract_creation).
func handleContractCreation(ctx context.Context, st store.Store, rpc rpcclient.Client, h *registry.Handle, txHash common.Hash) error {
	contractRow := chainmodel.Contract{
		Address:         h.Address,
		TransactionHash: txHash,
		IsPairContract:  h.Category.IsPair(),
	}

	if h.Category.IsPair() {
		pc, err := fetchPairMetadata(ctx, rpc, h)
		if err != nil {
			log.Warn().Err(err).Str("address", h.Address.Hex()).Msg("contract creation: pair metadata fetch failed")
			return nil
		}
		return st.Atomic(ctx, func(tx store.Store) error {
			if err := tx.InsertContract(ctx, contractRow); err != nil {
				return fmt.Errorf("processor: insert contract: %w", err)
			}
			if err := tx.InsertPairContract(ctx, pc); err != nil {
				return fmt.Errorf("processor: insert pair contract: %w", err)
			}
			return nil
		})
	}

	tc, err := fetchTokenMetadata(ctx, rpc, h)
	if err != nil {
		log.Warn().Err(err).Str("address", h.Address.Hex()).Msg("contract creation: token metadata fetch failed")
		return nil
	}
	return st.Atomic(ctx, func(tx store.Store) error {
		if err := tx.InsertContract(ctx, contractRow); err != nil {
			return fmt.Errorf("processor: insert contract: %w", err)
		}
		if err := tx.InsertTokenContract(ctx, tc); err != nil {
			return fmt.Errorf("processor: insert token contract: %w", err)
		}
		return nil
	})
}

func fetchTokenMetadata(ctx context.Context, rpc rpcclient.Client, h *registry.Handle) (chainmodel.TokenContract, error) {
	symbol, err := callString(ctx, rpc, h, "symbol")
	if err != nil {
		return chainmodel.TokenContract{}, err
	}
	name, err := callString(ctx, rpc, h, "name")
	if err != nil {
		return chainmodel.TokenContract{}, err
	}
	decimals, err := callUint8(ctx, rpc, h, "decimals")
	if err != nil {
		// Not every fungible-like category (e.g. ERC721/1155) exposes
		// decimals(); default to 0 rather than failing the whole fetch.
		decimals = 0
	}
	totalSupply, err := callBigInt(ctx, rpc, h, "totalSupply")
	if err != nil {
		return chainmodel.TokenContract{}, err
	}

	return chainmodel.TokenContract{
		Address:       h.Address,
		Symbol:        symbol,
		Name:          name,
		Decimals:      decimals,
		TotalSupply:   totalSupply,
		TokenCategory: h.Category,
	}, nil
}

func fetchPairMetadata(ctx context.Context, rpc rpcclient.Client, h *registry.Handle) (chainmodel.PairContract, error) {
	token0, err := callAddress(ctx, rpc, h, "token0")
	if err != nil {
		return chainmodel.PairContract{}, err
	}
	token1, err := callAddress(ctx, rpc, h, "token1")
	if err != nil {
		return chainmodel.PairContract{}, err
	}
	factory, err := callAddress(ctx, rpc, h, "factory")
	if err != nil {
		return chainmodel.PairContract{}, err
	}
	reserve0, reserve1, err := callReserves(ctx, rpc, h)
	if err != nil {
		return chainmodel.PairContract{}, err
	}

	return chainmodel.PairContract{
		Address:  h.Address,
		Token0:   token0,
		Token1:   token1,
		Reserve0: reserve0,
		Reserve1: reserve1,
		Factory:  factory,
	}, nil
}

func callMethod(ctx context.Context, rpc rpcclient.Client, h *registry.Handle, method string, args ...interface{}) ([]interface{}, error) {
	m, ok := h.ABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("processor: method %q not in ABI for %s", method, h.Address)
	}
	data, err := h.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("processor: pack %s: %w", method, err)
	}
	out, err := rpc.Call(ctx, h.Address, data)
	if err != nil {
		return nil, fmt.Errorf("processor: call %s: %w", method, err)
	}
	values, err := m.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("processor: unpack %s: %w", method, err)
	}
	return values, nil
}

func callString(ctx context.Context, rpc rpcclient.Client, h *registry.Handle, method string) (string, error) {
	values, err := callMethod(ctx, rpc, h, method)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", fmt.Errorf("processor: %s returned no values", method)
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("processor: %s did not return a string", method)
	}
	return s, nil
}

func callUint8(ctx context.Context, rpc rpcclient.Client, h *registry.Handle, method string) (uint8, error) {
	values, err := callMethod(ctx, rpc, h, method)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("processor: %s returned no values", method)
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("processor: %s did not return uint8", method)
	}
	return d, nil
}

func callBigInt(ctx context.Context, rpc rpcclient.Client, h *registry.Handle, method string) (*big.Int, error) {
	values, err := callMethod(ctx, rpc, h, method)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("processor: %s returned no values", method)
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("processor: %s did not return *big.Int", method)
	}
	return v, nil
}

func callAddress(ctx context.Context, rpc rpcclient.Client, h *registry.Handle, method string) (common.Address, error) {
	values, err := callMethod(ctx, rpc, h, method)
	if err != nil {
		return common.Address{}, err
	}
	if len(values) == 0 {
		return common.Address{}, fmt.Errorf("processor: %s returned no values", method)
	}
	a, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("processor: %s did not return an address", method)
	}
	return a, nil
}

func callReserves(ctx context.Context, rpc rpcclient.Client, h *registry.Handle) (*big.Int, *big.Int, error) {
	values, err := callMethod(ctx, rpc, h, "getReserves")
	if err != nil {
		return nil, nil, err
	}
	if len(values) < 2 {
		return nil, nil, fmt.Errorf("processor: getReserves returned %d values", len(values))
	}
	r0, ok0 := asBigInt(values[0])
	r1, ok1 := asBigInt(values[1])
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("processor: getReserves returned unexpected types")
	}
	return r0, r1, nil
}

func asBigInt(v interface{}) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		return n, true
	case uint64:
		return new(big.Int).SetUint64(n), true
	default:
		return nil, false
	}
}
