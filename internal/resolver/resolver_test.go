package resolver

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
	"github.com/example/chain-collector/internal/config"
	"github.com/example/chain-collector/internal/rpcclient"
)

type fakeStore struct {
	latest       *chainmodel.Block
	blockTxs     map[uint64][]common.Hash
}

func (f *fakeStore) LatestBlock(context.Context) (*chainmodel.Block, error) { return f.latest, nil }
func (f *fakeStore) TransactionHashesForBlock(_ context.Context, number uint64) ([]common.Hash, error) {
	return f.blockTxs[number], nil
}

type fakeRPC struct {
	blockHashes map[uint64][]common.Hash
}

func (f *fakeRPC) GetBlock(_ context.Context, id rpcclient.BlockID) (*chainmodel.Block, []common.Hash, error) {
	return &chainmodel.Block{Number: id.Number.Uint64()}, f.blockHashes[id.Number.Uint64()], nil
}
func (f *fakeRPC) GetTransaction(context.Context, common.Hash) (*chainmodel.TxData, error) {
	return nil, nil
}
func (f *fakeRPC) GetTransactionReceipt(context.Context, common.Hash) (*chainmodel.ReceiptData, error) {
	return nil, nil
}
func (f *fakeRPC) GetInternalTransactions(context.Context, common.Hash) ([]chainmodel.InternalTransaction, error) {
	return nil, nil
}
func (f *fakeRPC) GetBlockReward(context.Context, rpcclient.BlockID) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeRPC) Call(context.Context, common.Address, []byte) ([]byte, error) {
	return nil, nil
}

func TestResolveStartUsesConfiguredStartBlock(t *testing.T) {
	start := uint64(500)
	spec := config.DataCollectionSpec{StartBlock: &start}
	n, err := ResolveStart(context.Background(), spec, &fakeStore{}, &fakeRPC{})
	if err != nil {
		t.Fatalf("resolve start: %v", err)
	}
	if n != 500 {
		t.Fatalf("expected 500, got %d", n)
	}
}

func TestResolveStartGenesisWhenNothingPersisted(t *testing.T) {
	spec := config.DataCollectionSpec{}
	n, err := ResolveStart(context.Background(), spec, &fakeStore{}, &fakeRPC{})
	if err != nil {
		t.Fatalf("resolve start: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected genesis 0, got %d", n)
	}
}

func TestResolveStartAdvancesWhenTxSetsMatch(t *testing.T) {
	hashes := []common.Hash{common.HexToHash("0x1"), common.HexToHash("0x2")}
	st := &fakeStore{
		latest:   &chainmodel.Block{Number: 100},
		blockTxs: map[uint64][]common.Hash{100: hashes},
	}
	rpc := &fakeRPC{blockHashes: map[uint64][]common.Hash{100: hashes}}

	n, err := ResolveStart(context.Background(), config.DataCollectionSpec{}, st, rpc)
	if err != nil {
		t.Fatalf("resolve start: %v", err)
	}
	if n != 101 {
		t.Fatalf("expected 101 when tx sets match, got %d", n)
	}
}

func TestResolveStartReingestsWhenTxSetsDisagree(t *testing.T) {
	st := &fakeStore{
		latest:   &chainmodel.Block{Number: 100},
		blockTxs: map[uint64][]common.Hash{100: {common.HexToHash("0x1")}},
	}
	rpc := &fakeRPC{blockHashes: map[uint64][]common.Hash{100: {common.HexToHash("0x1"), common.HexToHash("0x2")}}}

	n, err := ResolveStart(context.Background(), config.DataCollectionSpec{}, st, rpc)
	if err != nil {
		t.Fatalf("resolve start: %v", err)
	}
	if n != 100 {
		t.Fatalf("expected re-ingest from 100 when tx sets disagree, got %d", n)
	}
}

func TestResolveEndUnboundedWhenNotConfigured(t *testing.T) {
	_, bounded := ResolveEnd(config.DataCollectionSpec{})
	if bounded {
		t.Fatalf("expected unbounded when EndBlock unset")
	}
}

func TestResolveEndBoundedWhenConfigured(t *testing.T) {
	end := uint64(999)
	n, bounded := ResolveEnd(config.DataCollectionSpec{EndBlock: &end})
	if !bounded || n != 999 {
		t.Fatalf("expected bounded 999, got n=%d bounded=%v", n, bounded)
	}
}
