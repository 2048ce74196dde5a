// Package rpcclient wraps an EVM JSON-RPC endpoint behind a small
// interface built from exactly the go-ethereum client calls the rest of
// the pipeline needs (spec §4.1), with a retry middleware layered on top
// (retry.go) the way geth/02-rpc-basics layers a retry loop over a
// single client call.
package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/example/chain-collector/internal/chainmodel"
)

// ErrBlockNotFound is the producer's terminal signal: the RPC node has no
// block at the requested height (spec §4.1/§4.6/§7).
var ErrBlockNotFound = errors.New("rpcclient: block not found")

// BlockID selects a block either by number or as "latest".
type BlockID struct {
	Number *big.Int
	Latest bool
}

// AtNumber builds a BlockID for a specific height.
func AtNumber(n uint64) BlockID {
	return BlockID{Number: new(big.Int).SetUint64(n)}
}

// Latest is the BlockID for the chain tip.
var Latest = BlockID{Latest: true}

func (b BlockID) rpcArg() *big.Int {
	if b.Latest {
		return nil
	}
	return b.Number
}

// Client is the RPC surface the rest of the pipeline depends on.
type Client interface {
	GetBlock(ctx context.Context, id BlockID) (*chainmodel.Block, []common.Hash, error)
	GetTransaction(ctx context.Context, hash common.Hash) (*chainmodel.TxData, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chainmodel.ReceiptData, error)
	GetInternalTransactions(ctx context.Context, hash common.Hash) ([]chainmodel.InternalTransaction, error)
	GetBlockReward(ctx context.Context, id BlockID) (*big.Int, error)
	// Call performs a read-only eth_call against a contract, used by the
	// processor's contract-creation metadata fetch (spec §4.7
	// handle_contract_creation).
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// ethClient is the concrete Client backed by go-ethereum's ethclient and
// raw rpc.Client (for the non-standard trace_* methods).
type ethClient struct {
	eth *ethclient.Client
	rpc *gethrpc.Client
}

// Dial connects to nodeURL and returns a Client with no retry or rate
// limiting attached; wrap the result with WithRetry (and WithRateLimit,
// if configured) before use.
func Dial(ctx context.Context, nodeURL string) (Client, error) {
	rc, err := gethrpc.DialContext(ctx, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", nodeURL, err)
	}
	return &ethClient{eth: ethclient.NewClient(rc), rpc: rc}, nil
}

func (c *ethClient) GetBlock(ctx context.Context, id BlockID) (*chainmodel.Block, []common.Hash, error) {
	block, err := c.eth.BlockByNumber(ctx, id.rpcArg())
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, nil, ErrBlockNotFound
		}
		return nil, nil, err
	}
	if block == nil {
		return nil, nil, ErrBlockNotFound
	}

	header := block.Header()
	out := &chainmodel.Block{
		Number:     header.Number.Uint64(),
		Hash:       block.Hash(),
		Nonce:      header.Nonce.Uint64(),
		Difficulty: new(big.Int).Set(header.Difficulty),
		GasLimit:   header.GasLimit,
		GasUsed:    header.GasUsed,
		Timestamp:  header.Time,
		Miner:      header.Coinbase,
		ParentHash: header.ParentHash,
	}

	hashes := make([]common.Hash, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		hashes = append(hashes, tx.Hash())
	}
	return out, hashes, nil
}

func (c *ethClient) GetTransaction(ctx context.Context, hash common.Hash) (*chainmodel.TxData, error) {
	tx, isPending, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", hash, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("get transaction %s: nil response", hash)
	}

	from, err := senderOf(tx)
	if err != nil {
		return nil, fmt.Errorf("recover sender for %s: %w", hash, err)
	}

	var blockNumber uint64
	if !isPending {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			blockNumber = receipt.BlockNumber.Uint64()
		}
	}

	return &chainmodel.TxData{
		Hash:        tx.Hash(),
		BlockNumber: blockNumber,
		From:        from,
		To:          tx.To(),
		Value:       new(big.Int).Set(tx.Value()),
		GasPrice:    new(big.Int).Set(tx.GasPrice()),
		GasLimit:    tx.Gas(),
		InputData:   tx.Data(),
	}, nil
}

func (c *ethClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chainmodel.ReceiptData, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", hash, err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("get receipt %s: nil response", hash)
	}

	logs := make([]chainmodel.TransactionLog, 0, len(receipt.Logs))
	for _, lg := range receipt.Logs {
		if lg == nil {
			continue
		}
		logs = append(logs, chainmodel.TransactionLog{
			TransactionHash: lg.TxHash,
			LogIndex:        lg.Index,
			Address:         lg.Address,
			Data:            lg.Data,
			Removed:         lg.Removed,
			Topics:          lg.Topics,
		})
	}

	var contractAddr *common.Address
	if receipt.ContractAddress != (common.Address{}) {
		addr := receipt.ContractAddress
		contractAddr = &addr
	}

	return &chainmodel.ReceiptData{
		TransactionHash: hash,
		GasUsed:         receipt.GasUsed,
		ContractAddress: contractAddr,
		Logs:            logs,
	}, nil
}

// traceAction mirrors the subset of trace_replayTransaction /
// trace_block's JSON shape the pipeline needs: an internal-call action
// plus, for trace_block, a reward entry. Numeric fields arrive as 0x-hex
// strings per spec §4.1/§9 Open Question 2.
type traceAction struct {
	Type   string `json:"type"`
	Action struct {
		From     common.Address `json:"from"`
		To       common.Address `json:"to"`
		Value    string         `json:"value"`
		Gas      string         `json:"gas"`
		Input    string         `json:"input"`
		CallType string         `json:"callType"`
	} `json:"action"`
	Result struct {
		GasUsed string `json:"gasUsed"`
	} `json:"result"`
}

func (c *ethClient) GetInternalTransactions(ctx context.Context, hash common.Hash) ([]chainmodel.InternalTransaction, error) {
	var traces []traceAction
	if err := c.rpc.CallContext(ctx, &traces, "trace_replayTransaction", hash, []string{"trace"}); err != nil {
		return nil, fmt.Errorf("trace_replayTransaction %s: %w", hash, err)
	}

	out := make([]chainmodel.InternalTransaction, 0, len(traces))
	for _, t := range traces {
		if t.Type != "call" && t.Type != "create" && t.Type != "suicide" {
			continue
		}
		value, err := hexutil.DecodeBig(orZeroHex(t.Action.Value))
		if err != nil {
			return nil, fmt.Errorf("trace_replayTransaction %s: decode value: %w", hash, err)
		}
		gasLimit, err := hexutil.DecodeUint64(orZeroHex(t.Action.Gas))
		if err != nil {
			return nil, fmt.Errorf("trace_replayTransaction %s: decode gas: %w", hash, err)
		}
		gasUsed, err := hexutil.DecodeUint64(orZeroHex(t.Result.GasUsed))
		if err != nil {
			gasUsed = 0
		}
		input, err := hexutil.Decode(orZeroHex(t.Action.Input))
		if err != nil {
			input = nil
		}

		out = append(out, chainmodel.InternalTransaction{
			TransactionHash: hash,
			From:            t.Action.From,
			To:              t.Action.To,
			Value:           value,
			GasLimit:        gasLimit,
			GasUsed:         gasUsed,
			InputData:       input,
			CallType:        t.Action.CallType,
		})
	}
	return out, nil
}

func (c *ethClient) GetBlockReward(ctx context.Context, id BlockID) (*big.Int, error) {
	var blockArg string
	if id.Latest {
		blockArg = "latest"
	} else {
		blockArg = hexutil.EncodeBig(id.Number)
	}

	var traces []traceAction
	if err := c.rpc.CallContext(ctx, &traces, "trace_block", blockArg); err != nil {
		return nil, fmt.Errorf("trace_block %s: %w", blockArg, err)
	}

	total := new(big.Int)
	for _, t := range traces {
		if t.Type != "reward" {
			continue
		}
		v, err := hexutil.DecodeBig(orZeroHex(t.Action.Value))
		if err != nil {
			return nil, fmt.Errorf("trace_block %s: decode reward value: %w", blockArg, err)
		}
		total.Add(total, v)
	}
	return total, nil
}

func (c *ethClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", to, err)
	}
	return out, nil
}

func orZeroHex(s string) string {
	if s == "" {
		return "0x0"
	}
	return s
}

func senderOf(tx *types.Transaction) (common.Address, error) {
	signer := types.LatestSignerForChainID(tx.ChainId())
	return types.Sender(signer, tx)
}
