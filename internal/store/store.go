// Package store persists the normalized block/transaction/event model
// (spec §3/§6) to a relational database, using modernc.org/sqlite —
// carried in go.mod but left unwired by any of the curriculum exercises
// — behind plain database/sql.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"

	"github.com/example/chain-collector/internal/chainmodel"
)

// Store is the relational persistence surface the walker and processor
// depend on. Every Insert* method is idempotent (spec §3: "a transaction
// is persisted at most once; re-ingestion is a no-op").
type Store interface {
	LatestBlock(ctx context.Context) (*chainmodel.Block, error)
	TransactionHashesForBlock(ctx context.Context, number uint64) ([]common.Hash, error)

	InsertBlock(ctx context.Context, b chainmodel.Block) error
	InsertTransaction(ctx context.Context, tx chainmodel.Transaction) error
	InsertTransactionLogs(ctx context.Context, logs []chainmodel.TransactionLog) error
	InsertInternalTransactions(ctx context.Context, itxs []chainmodel.InternalTransaction) error
	InsertContract(ctx context.Context, c chainmodel.Contract) error
	InsertTokenContract(ctx context.Context, tc chainmodel.TokenContract) error
	InsertPairContract(ctx context.Context, pc chainmodel.PairContract) error
	InsertContractSupplyChange(ctx context.Context, c chainmodel.ContractSupplyChange) error
	InsertPairLiquidityChange(ctx context.Context, p chainmodel.PairLiquidityChange) error
	InsertNftTransfer(ctx context.Context, n chainmodel.NftTransfer) error

	// Atomic runs fn against a Store whose writes commit or roll back
	// together (spec §4.7 handle_contract_creation: the Contract row and
	// its TokenContract/PairContract metadata row must land as one unit,
	// not two independent writes that can leave the Contract row
	// orphaned on a metadata-insert failure).
	Atomic(ctx context.Context, fn func(Store) error) error

	Close() error
}

// dbTx is the subset of *sql.DB / *sql.Tx every Insert/Select method
// runs against, so Atomic can hand those methods a transaction instead
// of the pooled connection without duplicating their SQL.
type dbTx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqlStore is the modernc.org/sqlite-backed Store. Every table is
// prefixed "<topic>_" per spec §6.
type sqlStore struct {
	db     *sql.DB
	conn   dbTx // equals db, except inside Atomic where it's the open *sql.Tx
	topic  string
	tables tableNames
}

type tableNames struct {
	block, transaction, transactionLogs, internalTransaction             string
	contract, tokenContract, pairContract                                string
	contractSupplyChange, pairLiquidityChange, nftTransfer                string
}

func newTableNames(topic string) tableNames {
	return tableNames{
		block:                topic + "_block",
		transaction:          topic + "_transaction",
		transactionLogs:      topic + "_transaction_logs",
		internalTransaction:  topic + "_internal_transaction",
		contract:             topic + "_contract",
		tokenContract:        topic + "_token_contract",
		pairContract:         topic + "_pair_contract",
		contractSupplyChange: topic + "_contract_supply_change",
		pairLiquidityChange:  topic + "_pair_liquidity_change",
		nftTransfer:          topic + "_nft_transfer",
	}
}

// Open connects to dsn (a modernc.org/sqlite DSN) and ensures the
// topic-prefixed schema exists.
func Open(ctx context.Context, dsn, topic string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dsn, err)
	}
	s := &sqlStore{db: db, conn: db, topic: topic, tables: newTableNames(topic)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// Atomic begins a *sql.Tx and hands fn a sqlStore bound to it; a nil
// return commits, any other return rolls back.
func (s *sqlStore) Atomic(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: atomic: begin: %w", err)
	}
	txStore := &sqlStore{db: s.db, conn: tx, topic: s.topic, tables: s.tables}
	if err := fn(txStore); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) migrate(ctx context.Context) error {
	t := s.tables
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			number INTEGER PRIMARY KEY,
			hash TEXT NOT NULL,
			nonce INTEGER NOT NULL,
			difficulty TEXT NOT NULL,
			gas_limit INTEGER NOT NULL,
			gas_used INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			miner TEXT NOT NULL,
			parent_hash TEXT NOT NULL,
			block_reward TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, t.block),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			hash TEXT PRIMARY KEY,
			block_number INTEGER NOT NULL,
			from_address TEXT NOT NULL,
			to_address TEXT,
			value TEXT NOT NULL,
			gas_price TEXT NOT NULL,
			gas_limit INTEGER NOT NULL,
			gas_used INTEGER NOT NULL,
			transaction_fee TEXT NOT NULL,
			is_token_tx INTEGER NOT NULL,
			input_data BLOB,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, t.transaction),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			transaction_hash TEXT NOT NULL,
			log_index INTEGER NOT NULL,
			address TEXT NOT NULL,
			data BLOB,
			removed INTEGER NOT NULL,
			topics TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (transaction_hash, log_index)
		)`, t.transactionLogs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			transaction_hash TEXT NOT NULL,
			idx INTEGER NOT NULL,
			from_address TEXT NOT NULL,
			to_address TEXT NOT NULL,
			value TEXT NOT NULL,
			gas_limit INTEGER NOT NULL,
			gas_used INTEGER NOT NULL,
			input_data BLOB,
			call_type TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (transaction_hash, idx)
		)`, t.internalTransaction),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			address TEXT PRIMARY KEY,
			transaction_hash TEXT NOT NULL,
			is_pair_contract INTEGER NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, t.contract),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			address TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			name TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			total_supply TEXT NOT NULL,
			token_category TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, t.tokenContract),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			address TEXT PRIMARY KEY,
			token0 TEXT NOT NULL,
			token1 TEXT NOT NULL,
			reserve0 TEXT NOT NULL,
			reserve1 TEXT NOT NULL,
			factory TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`, t.pairContract),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			address TEXT NOT NULL,
			transaction_hash TEXT NOT NULL,
			amount_changed TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (address, transaction_hash)
		)`, t.contractSupplyChange),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			address TEXT NOT NULL,
			transaction_hash TEXT NOT NULL,
			amount0 TEXT NOT NULL,
			amount1 TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (address, transaction_hash)
		)`, t.pairLiquidityChange),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			transaction_hash TEXT NOT NULL,
			log_index INTEGER NOT NULL,
			address TEXT NOT NULL,
			from_address TEXT NOT NULL,
			to_address TEXT NOT NULL,
			token_id TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (transaction_hash, log_index)
		)`, t.nftTransfer),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
