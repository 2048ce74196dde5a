// Package chainmodel holds the canonical, normalized data types shared by
// every stage of the pipeline: the RPC client produces them, the
// transaction processor derives them from decoded events, and the
// relational store persists them.
package chainmodel

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Mode is the processing policy assigned to a DataCollectionSpec and
// encoded as the prefix of every bus message.
type Mode string

const (
	ModeFull      Mode = "full"
	ModePartial   Mode = "partial"
	ModeLogFilter Mode = "log_filter"
	ModeGetLogs   Mode = "get_logs"
)

// ParseMode maps a bus-message prefix to a Mode, defaulting to ModeFull
// for anything it doesn't recognize (callers decide whether that's an
// error; the consumer treats it as a malformed-message warning).
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeFull, ModePartial, ModeLogFilter, ModeGetLogs:
		return Mode(s), true
	default:
		return ModeFull, false
	}
}

// Category classifies a contract for decoding and metadata purposes.
type Category string

const (
	CategoryERC20        Category = "ERC20"
	CategoryERC721       Category = "ERC721"
	CategoryERC1155      Category = "ERC1155"
	CategoryUniV2Factory Category = "UniV2Factory"
	CategoryUniV2Pair    Category = "UniV2Pair"
	CategoryUnknown      Category = "Unknown"
)

// IsFungibleLike reports whether the category is an ERC-family token
// category (ERC20, ERC721, ERC1155).
func (c Category) IsFungibleLike() bool {
	switch c {
	case CategoryERC20, CategoryERC721, CategoryERC1155:
		return true
	default:
		return false
	}
}

// IsPair reports whether the category is a UniswapV2-style pair contract.
func (c Category) IsPair() bool {
	return c == CategoryUniV2Pair
}

// NormalizeAddress lowercases a hex address string for registry and
// receipt comparisons; spec mandates case-insensitive address matching
// throughout.
func NormalizeAddress(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// Block is the canonical row persisted once per block, idempotently, on
// first sight.
type Block struct {
	Number      uint64
	Hash        common.Hash
	Nonce       uint64
	Difficulty  *big.Int
	GasLimit    uint64
	GasUsed     uint64
	Timestamp   uint64
	Miner       common.Address
	ParentHash  common.Hash
	BlockReward *big.Int // nil when not fetched (non-FULL specs)
}

// TxData is the subset of transaction fields the processor needs,
// independent of how the RPC client fetched them.
type TxData struct {
	Hash            common.Hash
	BlockNumber     uint64
	From            common.Address
	To              *common.Address // nil => contract creation
	Value           *big.Int
	GasPrice        *big.Int
	GasLimit        uint64
	InputData       []byte
}

// ReceiptData is the subset of receipt fields the processor needs.
type ReceiptData struct {
	TransactionHash common.Hash
	GasUsed         uint64
	ContractAddress *common.Address // non-nil on contract creation
	Logs            []TransactionLog
}

// Transaction is the canonical row persisted for a saved transaction.
type Transaction struct {
	Hash            common.Hash
	BlockNumber     uint64
	From            common.Address
	To              *common.Address
	Value           *big.Int
	GasPrice        *big.Int
	GasLimit        uint64
	GasUsed         uint64
	TransactionFee  *big.Int
	IsTokenTx       bool
	InputData       []byte
}

// InternalTransaction is produced by a trace_replayTransaction call;
// numeric fields arrive from the node as hex strings and must already be
// parsed into big.Int/uint64 by the RPC client by the time this type is
// populated.
type InternalTransaction struct {
	TransactionHash common.Hash
	From            common.Address
	To              common.Address
	Value           *big.Int
	GasLimit        uint64
	GasUsed         uint64
	InputData       []byte
	CallType        string
}

// TransactionLog is a single receipt log, keyed by (tx hash, log index).
type TransactionLog struct {
	TransactionHash common.Hash
	LogIndex        uint
	Address         common.Address
	Data            []byte
	Removed         bool
	Topics          []common.Hash
}

// Contract is the base row for any contract we've classified and recorded,
// keyed by address.
type Contract struct {
	Address         common.Address
	TransactionHash common.Hash
	IsPairContract  bool
}

// TokenContract carries ERC20/721/1155 metadata, one row per Contract of
// a fungible-like category.
type TokenContract struct {
	Address       common.Address
	Symbol        string
	Name          string
	Decimals      uint8
	TotalSupply   *big.Int
	TokenCategory Category
}

// PairContract carries UniswapV2 pair metadata.
type PairContract struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
	Factory  common.Address
}

// ContractSupplyChange aggregates all mint/burn fungible events for one
// contract within one transaction into a single signed delta.
type ContractSupplyChange struct {
	Address         common.Address
	TransactionHash common.Hash
	AmountChanged   *big.Int
}

// PairLiquidityChange aggregates all mint/burn/swap pair events for one
// pair within one transaction into a single signed (amount0, amount1)
// delta.
type PairLiquidityChange struct {
	Address         common.Address
	TransactionHash common.Hash
	Amount0         *big.Int
	Amount1         *big.Int
}

// NftTransfer records a single ERC721/1155-style transfer, persisted
// immediately as it's matched (unlike the other derived rows, which
// aggregate over the whole transaction).
type NftTransfer struct {
	TransactionHash common.Hash
	LogIndex        uint
	Address         common.Address
	From            common.Address
	To              common.Address
	TokenID         *big.Int
}
