package store

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
)

// MemoryStore is an in-process Store used across the pipeline's test
// suites (resolver, walker, processor) without a live sqlite file.
// InsertTransactionLogs, InsertInternalTransactions,
// InsertContractSupplyChange, InsertPairLiquidityChange and
// InsertNftTransfer append on every call, so unlike the sqlite store they
// are not idempotent; the block, transaction and contract inserts are.
type MemoryStore struct {
	mu sync.Mutex

	blocks               map[uint64]chainmodel.Block
	transactions         map[common.Hash]chainmodel.Transaction
	transactionsByBlock  map[uint64][]common.Hash
	logs                 []chainmodel.TransactionLog
	internalTransactions []chainmodel.InternalTransaction
	contracts            map[common.Address]chainmodel.Contract
	tokenContracts       map[common.Address]chainmodel.TokenContract
	pairContracts        map[common.Address]chainmodel.PairContract
	supplyChanges        []chainmodel.ContractSupplyChange
	liquidityChanges     []chainmodel.PairLiquidityChange
	nftTransfers         []chainmodel.NftTransfer
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		blocks:              make(map[uint64]chainmodel.Block),
		transactions:        make(map[common.Hash]chainmodel.Transaction),
		transactionsByBlock: make(map[uint64][]common.Hash),
		contracts:           make(map[common.Address]chainmodel.Contract),
		tokenContracts:      make(map[common.Address]chainmodel.TokenContract),
		pairContracts:       make(map[common.Address]chainmodel.PairContract),
	}
}

func (m *MemoryStore) Close() error { return nil }

// Atomic just runs fn against m: each MemoryStore write takes m.mu only
// for its own duration, so the writes fn makes are not grouped, and an
// error from fn does not undo the writes made before it.
func (m *MemoryStore) Atomic(_ context.Context, fn func(Store) error) error {
	return fn(m)
}

func (m *MemoryStore) LatestBlock(_ context.Context) (*chainmodel.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *chainmodel.Block
	for n, b := range m.blocks {
		if best == nil || n > best.Number {
			bb := b
			best = &bb
		}
	}
	return best, nil
}

func (m *MemoryStore) TransactionHashesForBlock(_ context.Context, number uint64) ([]common.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.Hash, len(m.transactionsByBlock[number]))
	copy(out, m.transactionsByBlock[number])
	return out, nil
}

func (m *MemoryStore) InsertBlock(_ context.Context, b chainmodel.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.blocks[b.Number]; exists {
		return nil
	}
	m.blocks[b.Number] = b
	return nil
}

func (m *MemoryStore) InsertTransaction(_ context.Context, tx chainmodel.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transactions[tx.Hash]; exists {
		return nil
	}
	m.transactions[tx.Hash] = tx
	m.transactionsByBlock[tx.BlockNumber] = append(m.transactionsByBlock[tx.BlockNumber], tx.Hash)
	return nil
}

func (m *MemoryStore) InsertTransactionLogs(_ context.Context, logs []chainmodel.TransactionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, logs...)
	return nil
}

func (m *MemoryStore) InsertInternalTransactions(_ context.Context, itxs []chainmodel.InternalTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.internalTransactions = append(m.internalTransactions, itxs...)
	return nil
}

func (m *MemoryStore) InsertContract(_ context.Context, c chainmodel.Contract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.contracts[c.Address]; exists {
		return nil
	}
	m.contracts[c.Address] = c
	return nil
}

func (m *MemoryStore) InsertTokenContract(_ context.Context, tc chainmodel.TokenContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokenContracts[tc.Address]; exists {
		return nil
	}
	m.tokenContracts[tc.Address] = tc
	return nil
}

func (m *MemoryStore) InsertPairContract(_ context.Context, pc chainmodel.PairContract) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pairContracts[pc.Address]; exists {
		return nil
	}
	m.pairContracts[pc.Address] = pc
	return nil
}

func (m *MemoryStore) InsertContractSupplyChange(_ context.Context, c chainmodel.ContractSupplyChange) error {
	if c.AmountChanged == nil || c.AmountChanged.Sign() == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supplyChanges = append(m.supplyChanges, c)
	return nil
}

func (m *MemoryStore) InsertPairLiquidityChange(_ context.Context, p chainmodel.PairLiquidityChange) error {
	if (p.Amount0 == nil || p.Amount0.Sign() == 0) && (p.Amount1 == nil || p.Amount1.Sign() == 0) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liquidityChanges = append(m.liquidityChanges, p)
	return nil
}

func (m *MemoryStore) InsertNftTransfer(_ context.Context, n chainmodel.NftTransfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nftTransfers = append(m.nftTransfers, n)
	return nil
}

// SupplyChanges returns a snapshot of every inserted ContractSupplyChange,
// for test assertions.
func (m *MemoryStore) SupplyChanges() []chainmodel.ContractSupplyChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chainmodel.ContractSupplyChange, len(m.supplyChanges))
	copy(out, m.supplyChanges)
	return out
}

// LiquidityChanges returns a snapshot of every inserted PairLiquidityChange.
func (m *MemoryStore) LiquidityChanges() []chainmodel.PairLiquidityChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chainmodel.PairLiquidityChange, len(m.liquidityChanges))
	copy(out, m.liquidityChanges)
	return out
}

// NftTransfers returns a snapshot of every inserted NftTransfer.
func (m *MemoryStore) NftTransfers() []chainmodel.NftTransfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chainmodel.NftTransfer, len(m.nftTransfers))
	copy(out, m.nftTransfers)
	return out
}

// TransactionLogsSaved returns every TransactionLog persisted so far.
func (m *MemoryStore) TransactionLogsSaved() []chainmodel.TransactionLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chainmodel.TransactionLog, len(m.logs))
	copy(out, m.logs)
	return out
}

// ContractSaved reports whether addr has a persisted Contract row.
func (m *MemoryStore) ContractSaved(addr common.Address) (chainmodel.Contract, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[addr]
	return c, ok
}

// TokenContractSaved reports whether addr has a persisted TokenContract row.
func (m *MemoryStore) TokenContractSaved(addr common.Address) (chainmodel.TokenContract, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.tokenContracts[addr]
	return tc, ok
}

// PairContractSaved reports whether addr has a persisted PairContract row.
func (m *MemoryStore) PairContractSaved(addr common.Address) (chainmodel.PairContract, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.pairContracts[addr]
	return pc, ok
}

var _ Store = (*MemoryStore)(nil)
