package processor

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/config"
	"github.com/example/chain-collector/internal/registry"
	"github.com/example/chain-collector/internal/rpcclient"
	"github.com/example/chain-collector/internal/store"
)

const erc20ABIJSON = `[
  {"type":"event","name":"Transfer","inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}
  ]}
]`

const univ2PairABIJSON = `[
  {"type":"event","name":"Swap","inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"amount0In","type":"uint256","indexed":false},
    {"name":"amount1In","type":"uint256","indexed":false},
    {"name":"amount0Out","type":"uint256","indexed":false},
    {"name":"amount1Out","type":"uint256","indexed":false},
    {"name":"to","type":"address","indexed":true}
  ]},
  {"type":"event","name":"Burn","inputs":[
    {"name":"sender","type":"address","indexed":true},
    {"name":"amount0","type":"uint256","indexed":false},
    {"name":"amount1","type":"uint256","indexed":false},
    {"name":"to","type":"address","indexed":true}
  ]}
]`

func mustParseABI(t *testing.T, j string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(j))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	return parsed
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

func packUint256Words(vals ...*big.Int) []byte {
	var out []byte
	for _, v := range vals {
		out = append(out, common.LeftPadBytes(v.Bytes(), 32)...)
	}
	return out
}

type fakeRPC struct{}

func (fakeRPC) GetBlock(context.Context, rpcclient.BlockID) (*chainmodel.Block, []common.Hash, error) {
	return nil, nil, nil
}
func (fakeRPC) GetTransaction(context.Context, common.Hash) (*chainmodel.TxData, error) {
	return nil, nil
}
func (fakeRPC) GetTransactionReceipt(context.Context, common.Hash) (*chainmodel.ReceiptData, error) {
	return nil, nil
}
func (fakeRPC) GetInternalTransactions(context.Context, common.Hash) ([]chainmodel.InternalTransaction, error) {
	return nil, nil
}
func (fakeRPC) GetBlockReward(context.Context, rpcclient.BlockID) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (fakeRPC) Call(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, nil
}

func TestPartialProcessorERC20TransferToDeadAddressRecordsSupplyChange(t *testing.T) {
	contractABI := mustParseABI(t, erc20ABIJSON)
	tokenAddr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	from := common.HexToAddress("0xBABA000000000000000000000000000000BABA")
	dead := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	txHash := common.HexToHash("0x01")

	reg := registry.New([]config.DataCollectionSpec{{
		Mode: chainmodel.ModePartial,
		Contracts: []config.ContractSpec{{
			Address:  tokenAddr,
			Category: chainmodel.CategoryERC20,
			Events:   []chainmodel.EventKind{chainmodel.EventTransferFungible, chainmodel.EventBurnFungible},
		}},
	}}, map[chainmodel.Category]abi.ABI{chainmodel.CategoryERC20: contractABI})

	st := store.NewMemory()
	p := &partialProcessor{store: st, registry: reg, rpc: fakeRPC{}}

	tx := chainmodel.TxData{Hash: txHash, To: &tokenAddr, GasPrice: big.NewInt(1), GasLimit: 21000}
	receipt := chainmodel.ReceiptData{
		TransactionHash: txHash,
		GasUsed:         21000,
		Logs: []chainmodel.TransactionLog{{
			TransactionHash: txHash,
			LogIndex:        7,
			Address:         tokenAddr,
			Topics:          []common.Hash{contractABI.Events["Transfer"].ID, addressTopic(from), addressTopic(dead)},
			Data:            packUint256Words(big.NewInt(42)),
		}},
	}

	saved, err := p.Process(context.Background(), tx, receipt)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !saved {
		t.Fatalf("expected transaction to be saved")
	}

	logs := st.TransactionLogsSaved()
	if len(logs) != 1 || logs[0].LogIndex != 7 {
		t.Fatalf("expected exactly one saved log at index 7, got %+v", logs)
	}

	changes := st.SupplyChanges()
	if len(changes) != 1 {
		t.Fatalf("expected exactly one supply change, got %+v", changes)
	}
	if changes[0].Address != tokenAddr || changes[0].AmountChanged.Cmp(big.NewInt(-42)) != 0 {
		t.Fatalf("expected ContractSupplyChange(%s, -42), got %+v", tokenAddr, changes[0])
	}
	if len(st.LiquidityChanges()) != 0 {
		t.Fatalf("expected no liquidity changes, got %+v", st.LiquidityChanges())
	}
}

func TestPartialProcessorSwapAndBurnAggregateLiquidityDelta(t *testing.T) {
	pairABI := mustParseABI(t, univ2PairABIJSON)
	pairAddr := common.HexToAddress("0xCCCC000000000000000000000000000000CCCC")
	sender := common.HexToAddress("0xDDDD000000000000000000000000000000DDDD")
	to := common.HexToAddress("0xEEEE000000000000000000000000000000EEEE")
	txHash := common.HexToHash("0x02")

	reg := registry.New([]config.DataCollectionSpec{{
		Mode: chainmodel.ModePartial,
		Contracts: []config.ContractSpec{{
			Address:  pairAddr,
			Category: chainmodel.CategoryUniV2Pair,
			Events:   []chainmodel.EventKind{chainmodel.EventSwapPair, chainmodel.EventBurnPair},
		}},
	}}, map[chainmodel.Category]abi.ABI{chainmodel.CategoryUniV2Pair: pairABI})

	st := store.NewMemory()
	p := &partialProcessor{store: st, registry: reg, rpc: fakeRPC{}}

	tx := chainmodel.TxData{Hash: txHash, To: &pairAddr, GasPrice: big.NewInt(1), GasLimit: 21000}
	receipt := chainmodel.ReceiptData{
		TransactionHash: txHash,
		GasUsed:         21000,
		Logs: []chainmodel.TransactionLog{
			{
				TransactionHash: txHash,
				LogIndex:        3,
				Address:         pairAddr,
				Topics:          []common.Hash{pairABI.Events["Swap"].ID, addressTopic(sender), addressTopic(to)},
				Data:            packUint256Words(big.NewInt(1200), big.NewInt(1500), big.NewInt(1000), big.NewInt(900)),
			},
			{
				TransactionHash: txHash,
				LogIndex:        5,
				Address:         pairAddr,
				Topics:          []common.Hash{pairABI.Events["Burn"].ID, addressTopic(sender), addressTopic(to)},
				Data:            packUint256Words(big.NewInt(500), big.NewInt(400)),
			},
		},
	}

	saved, err := p.Process(context.Background(), tx, receipt)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !saved {
		t.Fatalf("expected transaction to be saved")
	}

	logs := st.TransactionLogsSaved()
	if len(logs) != 2 {
		t.Fatalf("expected 2 saved logs (indices 3 and 5), got %+v", logs)
	}

	changes := st.LiquidityChanges()
	if len(changes) != 1 {
		t.Fatalf("expected exactly one liquidity change, got %+v", changes)
	}
	if changes[0].Amount0.Cmp(big.NewInt(-300)) != 0 {
		t.Fatalf("expected amount0 delta -300, got %s", changes[0].Amount0)
	}
	if changes[0].Amount1.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected amount1 delta 200, got %s", changes[0].Amount1)
	}
}

func TestPartialProcessorEventOnlySavesOnlyMatchingLog(t *testing.T) {
	contractABI := mustParseABI(t, erc20ABIJSON)
	tokenAddr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	unrelatedTo := common.HexToAddress("0x9999000000000000000000000000000000999A")
	from := common.HexToAddress("0xBABA000000000000000000000000000000BABA")
	to := common.HexToAddress("0xFEED000000000000000000000000000000FEED")
	txHash := common.HexToHash("0x03")

	reg := registry.New([]config.DataCollectionSpec{{
		Mode: chainmodel.ModePartial,
		Contracts: []config.ContractSpec{{
			Address:  tokenAddr,
			Category: chainmodel.CategoryERC20,
			Events:   []chainmodel.EventKind{chainmodel.EventTransferFungible},
		}},
	}}, map[chainmodel.Category]abi.ABI{chainmodel.CategoryERC20: contractABI})

	st := store.NewMemory()
	p := &partialProcessor{store: st, registry: reg, rpc: fakeRPC{}}

	tx := chainmodel.TxData{Hash: txHash, To: &unrelatedTo, GasPrice: big.NewInt(1), GasLimit: 21000}
	receipt := chainmodel.ReceiptData{
		TransactionHash: txHash,
		GasUsed:         21000,
		Logs: []chainmodel.TransactionLog{
			{
				TransactionHash: txHash,
				LogIndex:        0,
				Address:         tokenAddr,
				Topics:          []common.Hash{contractABI.Events["Transfer"].ID, addressTopic(from), addressTopic(to)},
				Data:            packUint256Words(big.NewInt(5)),
			},
			{
				// a log from an address not in the registry must be ignored
				TransactionHash: txHash,
				LogIndex:        1,
				Address:         common.HexToAddress("0xBEEF000000000000000000000000000000BEEF"),
				Topics:          []common.Hash{common.HexToHash("0xdead")},
			},
		},
	}

	saved, err := p.Process(context.Background(), tx, receipt)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !saved {
		t.Fatalf("expected transaction to be saved because one log matched a registered contract")
	}

	logs := st.TransactionLogsSaved()
	if len(logs) != 1 || logs[0].LogIndex != 0 {
		t.Fatalf("expected only the 0xAAAA log (index 0) to be saved, got %+v", logs)
	}
}

func TestPartialProcessorUnknownContractCreationIsNotSaved(t *testing.T) {
	reg := registry.New(nil, map[chainmodel.Category]abi.ABI{})
	st := store.NewMemory()
	p := &partialProcessor{store: st, registry: reg, rpc: fakeRPC{}}

	contractAddr := common.HexToAddress("0x13370000000000000000000000000000001337")
	txHash := common.HexToHash("0x04")
	tx := chainmodel.TxData{Hash: txHash, To: nil, GasPrice: big.NewInt(1), GasLimit: 21000}
	receipt := chainmodel.ReceiptData{
		TransactionHash: txHash,
		GasUsed:         21000,
		ContractAddress: &contractAddr,
	}

	saved, err := p.Process(context.Background(), tx, receipt)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if saved {
		t.Fatalf("expected unregistered contract creation not to be saved")
	}
	if len(st.TransactionLogsSaved()) != 0 {
		t.Fatalf("expected no rows written for unrecognized contract creation")
	}
}

const erc20MetadataABIJSON = `[
  {"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"Transfer","inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}
  ]}
]`

// metadataRPC answers eth_calls against h's ABI with canned ERC20
// metadata, keyed by the call's 4-byte method selector.
type metadataRPC struct {
	fakeRPC
	abi abi.ABI
}

func (r metadataRPC) Call(_ context.Context, _ common.Address, data []byte) ([]byte, error) {
	method, err := r.abi.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "symbol":
		return method.Outputs.Pack("TOK")
	case "name":
		return method.Outputs.Pack("Token")
	case "decimals":
		return method.Outputs.Pack(uint8(18))
	case "totalSupply":
		return method.Outputs.Pack(big.NewInt(1_000_000))
	default:
		return nil, errors.New("metadataRPC: unexpected method " + method.Name)
	}
}

// TestPartialProcessorRegisteredContractCreationSavesContractAndMetadataTogether
// checks that a registered contract creation writes both the Contract row
// and its TokenContract metadata row. MemoryStore.Atomic runs its callback
// directly, so this test does not tell an Atomic call apart from two
// independent Insert calls.
func TestPartialProcessorRegisteredContractCreationSavesContractAndMetadataTogether(t *testing.T) {
	contractAddr := common.HexToAddress("0x13370000000000000000000000000000001337")
	metadataABI := mustParseABI(t, erc20MetadataABIJSON)

	specs := []config.DataCollectionSpec{
		{
			Mode: chainmodel.ModePartial,
			Contracts: []config.ContractSpec{
				{Address: contractAddr, Category: chainmodel.CategoryERC20},
			},
		},
	}
	reg := registry.New(specs, map[chainmodel.Category]abi.ABI{chainmodel.CategoryERC20: metadataABI})
	st := store.NewMemory()
	p := &partialProcessor{store: st, registry: reg, rpc: metadataRPC{abi: metadataABI}}

	txHash := common.HexToHash("0x05")
	tx := chainmodel.TxData{Hash: txHash, To: nil, GasPrice: big.NewInt(1), GasLimit: 21000}
	receipt := chainmodel.ReceiptData{
		TransactionHash: txHash,
		GasUsed:         21000,
		ContractAddress: &contractAddr,
	}

	saved, err := p.Process(context.Background(), tx, receipt)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !saved {
		t.Fatalf("expected registered contract creation to be saved")
	}

	contractRow, ok := st.ContractSaved(contractAddr)
	if !ok {
		t.Fatalf("expected a Contract row for %s", contractAddr)
	}
	if contractRow.IsPairContract {
		t.Fatalf("expected ERC20 creation to mark is_pair_contract=false")
	}
	tc, ok := st.TokenContractSaved(contractAddr)
	if !ok {
		t.Fatalf("expected a TokenContract row for %s alongside its Contract row", contractAddr)
	}
	if tc.Symbol != "TOK" || tc.TotalSupply.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected token metadata from the fetched eth_calls, got %+v", tc)
	}
}

func TestFullProcessorAlwaysSavesAllLogs(t *testing.T) {
	st := store.NewMemory()
	p := &fullProcessor{store: st, rpc: fakeRPC{}}

	txHash := common.HexToHash("0x05")
	to := common.HexToAddress("0x12340000000000000000000000000000001234")
	tx := chainmodel.TxData{Hash: txHash, To: &to, GasPrice: big.NewInt(2), GasLimit: 21000}
	receipt := chainmodel.ReceiptData{
		TransactionHash: txHash,
		GasUsed:         21000,
		Logs: []chainmodel.TransactionLog{
			{TransactionHash: txHash, LogIndex: 0, Address: to},
			{TransactionHash: txHash, LogIndex: 1, Address: common.HexToAddress("0x9999000000000000000000000000000000999A")},
		},
	}

	saved, err := p.Process(context.Background(), tx, receipt)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !saved {
		t.Fatalf("expected FULL mode to always save")
	}
	if len(st.TransactionLogsSaved()) != 2 {
		t.Fatalf("expected all receipt logs saved in FULL mode, got %+v", st.TransactionLogsSaved())
	}
}

func TestLogFilterProcessorNeverSaves(t *testing.T) {
	p := &logFilterProcessor{}
	saved, err := p.Process(context.Background(), chainmodel.TxData{}, chainmodel.ReceiptData{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if saved {
		t.Fatalf("expected log filter processor to never save")
	}
}
