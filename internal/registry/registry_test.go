package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/config"
)

func testABIs(t *testing.T) map[chainmodel.Category]abi.ABI {
	t.Helper()
	erc20 := mustParseABI(t, erc20ABIJSON)
	pair := mustParseABI(t, univ2PairABIJSON)
	return map[chainmodel.Category]abi.ABI{
		chainmodel.CategoryERC20:     erc20,
		chainmodel.CategoryUniV2Pair: pair,
	}
}

func TestRegistryCategoryOfIsCaseInsensitive(t *testing.T) {
	addr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	specs := []config.DataCollectionSpec{
		{
			Mode: chainmodel.ModePartial,
			Contracts: []config.ContractSpec{
				{Address: addr, Category: chainmodel.CategoryERC20, Events: []chainmodel.EventKind{chainmodel.EventTransferFungible}},
			},
		},
	}
	r := New(specs, testABIs(t))

	lower := common.HexToAddress(strings.ToLower(addr.Hex()))
	cat, ok := r.CategoryOf(lower)
	if !ok || cat != chainmodel.CategoryERC20 {
		t.Fatalf("expected ERC20 category, got %v ok=%v", cat, ok)
	}

	if _, ok := r.CategoryOf(common.HexToAddress("0xffff000000000000000000000000000000ffff")); ok {
		t.Fatalf("expected unregistered address to be unrecognized")
	}
}

func TestRegistryMergesEventsAcrossDataCollectionSpecs(t *testing.T) {
	addr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	specs := []config.DataCollectionSpec{
		{
			Mode: chainmodel.ModePartial,
			Contracts: []config.ContractSpec{
				{Address: addr, Category: chainmodel.CategoryERC20, Events: []chainmodel.EventKind{chainmodel.EventTransferFungible}},
			},
		},
		{
			Mode: chainmodel.ModePartial,
			Contracts: []config.ContractSpec{
				{Address: addr, Category: chainmodel.CategoryERC20, Events: []chainmodel.EventKind{chainmodel.EventMintFungible}},
			},
		},
	}
	r := New(specs, testABIs(t))

	allowed, ok := r.AllowedEvents(addr)
	if !ok {
		t.Fatalf("expected address to be recognized")
	}
	if _, ok := allowed[chainmodel.EventTransferFungible]; !ok {
		t.Fatalf("expected transfer event from first spec to survive merge")
	}
	if _, ok := allowed[chainmodel.EventMintFungible]; !ok {
		t.Fatalf("expected mint event from second spec to survive merge")
	}
}

func TestRegistryContractHandleIsCachedAndABIBound(t *testing.T) {
	addr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	specs := []config.DataCollectionSpec{
		{
			Mode: chainmodel.ModePartial,
			Contracts: []config.ContractSpec{
				{Address: addr, Category: chainmodel.CategoryERC20, Events: []chainmodel.EventKind{chainmodel.EventTransferFungible}},
			},
		},
	}
	r := New(specs, testABIs(t))

	h1, err := r.ContractHandle(addr, chainmodel.CategoryERC20)
	if err != nil {
		t.Fatalf("contract handle: %v", err)
	}
	h2, err := r.ContractHandle(addr, chainmodel.CategoryERC20)
	if err != nil {
		t.Fatalf("contract handle: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected cached handle to be reused across calls")
	}
	if h1.ABI == nil || h1.ABI.Events["Transfer"].Name != "Transfer" {
		t.Fatalf("expected handle to carry the ERC20 ABI")
	}
}

func TestRegistryContractHandleErrorsWithoutLoadedABI(t *testing.T) {
	addr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	r := New(nil, map[chainmodel.Category]abi.ABI{})

	if _, err := r.ContractHandle(addr, chainmodel.CategoryUniV2Factory); err == nil {
		t.Fatalf("expected error when no ABI loaded for category")
	}
}

// TestLoadABIsTranslatesDocumentedKeysToCategories exercises LoadABIs with
// the exact key spelling spec §6 documents for the --abi-file ("erc20",
// "UniSwapV2Pair", ...), which does not match the chainmodel.Category
// constant spelling ("ERC20", "UniV2Pair", ...) that ContractHandle and
// decodersByCategory key off of. A contract registered under a category
// whose ABI failed to translate must not resolve a handle.
func TestLoadABIsTranslatesDocumentedKeysToCategories(t *testing.T) {
	doc := "{\"erc20\":" + erc20ABIJSON + ",\"UniSwapV2Pair\":" + univ2PairABIJSON + "}"
	path := filepath.Join(t.TempDir(), "abis.json")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write abi file: %v", err)
	}

	abis, err := LoadABIs(path)
	if err != nil {
		t.Fatalf("LoadABIs: %v", err)
	}

	addr := common.HexToAddress("0xAAAA000000000000000000000000000000AAAA")
	r := New(nil, abis)

	h, err := r.ContractHandle(addr, chainmodel.CategoryERC20)
	if err != nil {
		t.Fatalf("expected erc20 abi file key to resolve CategoryERC20, got error: %v", err)
	}
	if h.ABI.Events["Transfer"].Name != "Transfer" {
		t.Fatalf("expected ERC20 ABI to be bound to the handle")
	}

	pairAddr := common.HexToAddress("0xBBBB000000000000000000000000000000BBBB")
	if _, err := r.ContractHandle(pairAddr, chainmodel.CategoryUniV2Pair); err != nil {
		t.Fatalf("expected UniSwapV2Pair abi file key to resolve CategoryUniV2Pair, got error: %v", err)
	}
}

func TestLoadABIsRejectsUnrecognizedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "abis.json")
	doc := "{\"not_a_real_category\":" + erc20ABIJSON + "}"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write abi file: %v", err)
	}

	if _, err := LoadABIs(path); err == nil {
		t.Fatalf("expected an unrecognized abi file key to error")
	}
}
