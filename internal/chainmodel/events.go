package chainmodel

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind is the discriminant of the Event sum type. Config validation
// rejects any ContractSpec.Events entry that doesn't parse to a known
// EventKind (see internal/config), replacing the source's dynamic
// class-name filtering with a closed, checkable set.
type EventKind string

const (
	EventMintFungible      EventKind = "MintFungibleEvent"
	EventBurnFungible      EventKind = "BurnFungibleEvent"
	EventTransferFungible  EventKind = "TransferFungibleEvent"
	EventMintNonFungible   EventKind = "MintNonFungibleEvent"
	EventBurnNonFungible   EventKind = "BurnNonFungibleEvent"
	EventTransferNonFungible EventKind = "TransferNonFungibleEvent"
	EventMintPair          EventKind = "MintPairEvent"
	EventBurnPair          EventKind = "BurnPairEvent"
	EventSwapPair          EventKind = "SwapPairEvent"
	EventPairCreated       EventKind = "PairCreatedEvent"
)

// AllEventKinds lists every recognized discriminant, used by config
// validation to reject typos in a ContractSpec's event whitelist.
var AllEventKinds = map[EventKind]struct{}{
	EventMintFungible:        {},
	EventBurnFungible:        {},
	EventTransferFungible:    {},
	EventMintNonFungible:     {},
	EventBurnNonFungible:     {},
	EventTransferNonFungible: {},
	EventMintPair:            {},
	EventBurnPair:            {},
	EventSwapPair:            {},
	EventPairCreated:         {},
}

// Event is a single decoded contract event. Only the fields relevant to
// Kind are populated; this mirrors the source's class hierarchy
// (MintFungible{value,account}, SwapPair{src,dst,in0,in1,out0,out1}, …)
// as one sum type instead, per the decoder re-architecture in spec §9.
type Event struct {
	Kind     EventKind
	Address  common.Address
	LogIndex uint

	// Fungible (ERC20-like): MintFungible, BurnFungible, TransferFungible
	Value   *big.Int
	Account *common.Address // optional, MintFungible/BurnFungible only
	Src     common.Address  // TransferFungible/TransferNonFungible/BurnPair/SwapPair
	Dst     common.Address  // TransferFungible/TransferNonFungible/BurnPair/SwapPair

	// Non-fungible (ERC721-like): MintNonFungible, BurnNonFungible, TransferNonFungible
	TokenID *big.Int

	// UniswapV2 pair: MintPair, BurnPair, SwapPair
	Sender  common.Address
	Amount0 *big.Int
	Amount1 *big.Int
	In0     *big.Int
	In1     *big.Int
	Out0    *big.Int
	Out1    *big.Int

	// UniswapV2 factory: PairCreated
	PairAddress common.Address
	Token0      common.Address
	Token1      common.Address
}
