package registry

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/example/chain-collector/internal/chainmodel"
)

// Decoder extracts zero or more typed events from a single raw log for a
// contract handle. It's a pure function rather than an entry in a
// process-wide registration map — category extractors are looked up
// through decodersByCategory at startup instead.
type Decoder func(h *Handle, log types.Log) ([]chainmodel.Event, bool)

// DeadAddresses are the sentinel addresses for ERC20/721 Transfer
// reclassification (spec §4.4): a Transfer to one also yields a Burn, a
// Transfer from one also yields a Mint, and the Transfer event itself is
// always emitted.
var DeadAddresses = map[common.Address]struct{}{
	common.Address{}: {},
	common.HexToAddress("0x000000000000000000000000000000000000dEaD"): {},
}

// decodersByCategory is built once; Decode walks every decoder registered
// for a handle's category and concatenates whatever each yields.
var decodersByCategory = map[chainmodel.Category][]Decoder{
	chainmodel.CategoryERC20:        {decodeERC20Transfer, decodeERC20Issue, decodeERC20Redeem},
	chainmodel.CategoryERC721:       {decodeERC721Transfer},
	chainmodel.CategoryERC1155:      {}, // no extractor defined upstream; recognized, never emits
	chainmodel.CategoryUniV2Factory: {decodeUniV2PairCreated},
	chainmodel.CategoryUniV2Pair:    {decodeUniV2Mint, decodeUniV2Burn, decodeUniV2Swap},
}

// Decode runs every extractor registered for h.Category against log,
// discarding logs that no extractor recognizes rather than failing the
// transaction (spec §4.4).
func Decode(h *Handle, log types.Log) []chainmodel.Event {
	var out []chainmodel.Event
	for _, d := range decodersByCategory[h.Category] {
		if events, ok := d(h, log); ok {
			out = append(out, events...)
		}
	}
	return out
}

func unpackEvent(contractABI *abi.ABI, name string, log types.Log) (map[string]interface{}, bool) {
	ev, ok := contractABI.Events[name]
	if !ok || len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return nil, false
	}
	values := make(map[string]interface{})
	if err := contractABI.UnpackIntoMap(values, name, log.Data); err != nil {
		return nil, false
	}
	idx := 1
	for _, input := range ev.Inputs {
		if !input.Indexed {
			continue
		}
		if idx >= len(log.Topics) {
			return nil, false
		}
		values[input.Name] = topicToValue(input.Type, log.Topics[idx])
		idx++
	}
	return values, true
}

func topicToValue(t abi.Type, topic common.Hash) interface{} {
	switch t.T {
	case abi.AddressTy:
		return common.BytesToAddress(topic.Bytes()[12:])
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic.Bytes())
	default:
		return topic
	}
}

func addressArg(values map[string]interface{}, key string) common.Address {
	if a, ok := values[key].(common.Address); ok {
		return a
	}
	return common.Address{}
}

func bigArg(values map[string]interface{}, key string) *big.Int {
	if v, ok := values[key].(*big.Int); ok {
		return v
	}
	return big.NewInt(0)
}

func isDead(addr common.Address) bool {
	_, ok := DeadAddresses[addr]
	return ok
}

func decodeERC20Transfer(h *Handle, log types.Log) ([]chainmodel.Event, bool) {
	values, ok := unpackEvent(h.ABI, "Transfer", log)
	if !ok {
		return nil, false
	}
	from := addressArg(values, "from")
	to := addressArg(values, "to")
	value := bigArg(values, "value")

	events := []chainmodel.Event{
		{Kind: chainmodel.EventTransferFungible, Address: h.Address, LogIndex: log.Index, Src: from, Dst: to, Value: value},
	}
	switch {
	case isDead(to) && isDead(from):
		// both ends dead: transfer only, no mint or burn (spec §4.4)
	case isDead(to):
		events = append(events, chainmodel.Event{Kind: chainmodel.EventBurnFungible, Address: h.Address, LogIndex: log.Index, Value: value, Account: &from})
	case isDead(from):
		events = append(events, chainmodel.Event{Kind: chainmodel.EventMintFungible, Address: h.Address, LogIndex: log.Index, Value: value, Account: &to})
	}
	return events, true
}

func decodeERC20Issue(h *Handle, log types.Log) ([]chainmodel.Event, bool) {
	values, ok := unpackEvent(h.ABI, "Issue", log)
	if !ok {
		return nil, false
	}
	amount := bigArg(values, "amount")
	return []chainmodel.Event{
		{Kind: chainmodel.EventMintFungible, Address: h.Address, LogIndex: log.Index, Value: amount},
	}, true
}

func decodeERC20Redeem(h *Handle, log types.Log) ([]chainmodel.Event, bool) {
	values, ok := unpackEvent(h.ABI, "Redeem", log)
	if !ok {
		return nil, false
	}
	amount := bigArg(values, "amount")
	return []chainmodel.Event{
		{Kind: chainmodel.EventBurnFungible, Address: h.Address, LogIndex: log.Index, Value: amount},
	}, true
}

func decodeERC721Transfer(h *Handle, log types.Log) ([]chainmodel.Event, bool) {
	values, ok := unpackEvent(h.ABI, "Transfer", log)
	if !ok {
		return nil, false
	}
	from := addressArg(values, "from")
	to := addressArg(values, "to")
	tokenID := bigArg(values, "tokenId")

	events := []chainmodel.Event{
		{Kind: chainmodel.EventTransferNonFungible, Address: h.Address, LogIndex: log.Index, Src: from, Dst: to, TokenID: tokenID},
	}
	switch {
	case isDead(to) && isDead(from):
	case isDead(to):
		events = append(events, chainmodel.Event{Kind: chainmodel.EventBurnNonFungible, Address: h.Address, LogIndex: log.Index, TokenID: tokenID})
	case isDead(from):
		events = append(events, chainmodel.Event{Kind: chainmodel.EventMintNonFungible, Address: h.Address, LogIndex: log.Index, TokenID: tokenID})
	}
	return events, true
}

func decodeUniV2PairCreated(h *Handle, log types.Log) ([]chainmodel.Event, bool) {
	values, ok := unpackEvent(h.ABI, "PairCreated", log)
	if !ok {
		return nil, false
	}
	return []chainmodel.Event{{
		Kind:        chainmodel.EventPairCreated,
		Address:     h.Address,
		LogIndex:    log.Index,
		PairAddress: addressArg(values, "pair"),
		Token0:      addressArg(values, "token0"),
		Token1:      addressArg(values, "token1"),
	}}, true
}

func decodeUniV2Mint(h *Handle, log types.Log) ([]chainmodel.Event, bool) {
	values, ok := unpackEvent(h.ABI, "Mint", log)
	if !ok {
		return nil, false
	}
	return []chainmodel.Event{{
		Kind:     chainmodel.EventMintPair,
		Address:  h.Address,
		LogIndex: log.Index,
		Sender:   addressArg(values, "sender"),
		Amount0:  bigArg(values, "amount0"),
		Amount1:  bigArg(values, "amount1"),
	}}, true
}

func decodeUniV2Burn(h *Handle, log types.Log) ([]chainmodel.Event, bool) {
	values, ok := unpackEvent(h.ABI, "Burn", log)
	if !ok {
		return nil, false
	}
	return []chainmodel.Event{{
		Kind:     chainmodel.EventBurnPair,
		Address:  h.Address,
		LogIndex: log.Index,
		Src:      addressArg(values, "sender"),
		Dst:      addressArg(values, "to"),
		Amount0:  bigArg(values, "amount0"),
		Amount1:  bigArg(values, "amount1"),
	}}, true
}

func decodeUniV2Swap(h *Handle, log types.Log) ([]chainmodel.Event, bool) {
	values, ok := unpackEvent(h.ABI, "Swap", log)
	if !ok {
		return nil, false
	}
	return []chainmodel.Event{{
		Kind:     chainmodel.EventSwapPair,
		Address:  h.Address,
		LogIndex: log.Index,
		Src:      addressArg(values, "sender"),
		Dst:      addressArg(values, "to"),
		In0:      bigArg(values, "amount0In"),
		In1:      bigArg(values, "amount1In"),
		Out0:     bigArg(values, "amount0Out"),
		Out1:     bigArg(values, "amount1Out"),
	}}, true
}
