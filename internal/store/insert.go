package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
)

func (s *sqlStore) LatestBlock(ctx context.Context) (*chainmodel.Block, error) {
	row := s.conn.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT number, hash, nonce, difficulty, gas_limit, gas_used, timestamp, miner, parent_hash, block_reward
		 FROM %s ORDER BY number DESC LIMIT 1`, s.tables.block))

	var (
		number, nonce, gasLimit, gasUsed, timestamp   uint64
		hash, difficulty, miner, parentHash            string
		blockReward                                    sql.NullString
	)
	if err := row.Scan(&number, &hash, &nonce, &difficulty, &gasLimit, &gasUsed, &timestamp, &miner, &parentHash, &blockReward); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("store: latest block: %w", err)
	}

	diff, ok := new(big.Int).SetString(difficulty, 10)
	if !ok {
		diff = big.NewInt(0)
	}
	b := &chainmodel.Block{
		Number:     number,
		Hash:       common.HexToHash(hash),
		Nonce:      nonce,
		Difficulty: diff,
		GasLimit:   gasLimit,
		GasUsed:    gasUsed,
		Timestamp:  timestamp,
		Miner:      common.HexToAddress(miner),
		ParentHash: common.HexToHash(parentHash),
	}
	if blockReward.Valid {
		if r, ok := new(big.Int).SetString(blockReward.String, 10); ok {
			b.BlockReward = r
		}
	}
	return b, nil
}

func (s *sqlStore) TransactionHashesForBlock(ctx context.Context, number uint64) ([]common.Hash, error) {
	rows, err := s.conn.QueryContext(ctx, fmt.Sprintf(
		`SELECT hash FROM %s WHERE block_number = ?`, s.tables.transaction), number)
	if err != nil {
		return nil, fmt.Errorf("store: transaction hashes for block %d: %w", number, err)
	}
	defer rows.Close()

	var out []common.Hash
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("store: transaction hashes for block %d: %w", number, err)
		}
		out = append(out, common.HexToHash(h))
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertBlock(ctx context.Context, b chainmodel.Block) error {
	var reward sql.NullString
	if b.BlockReward != nil {
		reward = sql.NullString{String: b.BlockReward.String(), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (number, hash, nonce, difficulty, gas_limit, gas_used, timestamp, miner, parent_hash, block_reward)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(number) DO NOTHING`, s.tables.block),
		b.Number, b.Hash.Hex(), b.Nonce, b.Difficulty.String(), b.GasLimit, b.GasUsed, b.Timestamp, b.Miner.Hex(), b.ParentHash.Hex(), reward)
	if err != nil {
		return fmt.Errorf("store: insert block %d: %w", b.Number, err)
	}
	return nil
}

func (s *sqlStore) InsertTransaction(ctx context.Context, tx chainmodel.Transaction) error {
	var to sql.NullString
	if tx.To != nil {
		to = sql.NullString{String: tx.To.Hex(), Valid: true}
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (hash, block_number, from_address, to_address, value, gas_price, gas_limit, gas_used, transaction_fee, is_token_tx, input_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`, s.tables.transaction),
		tx.Hash.Hex(), tx.BlockNumber, tx.From.Hex(), to, tx.Value.String(), tx.GasPrice.String(), tx.GasLimit, tx.GasUsed, tx.TransactionFee.String(), boolToInt(tx.IsTokenTx), tx.InputData)
	if err != nil {
		return fmt.Errorf("store: insert transaction %s: %w", tx.Hash, err)
	}
	return nil
}

// InsertTransactionLogs opens its own multi-row transaction against the
// pooled *sql.DB rather than s.conn: unlike the single-statement Insert*
// methods, it is never called from inside Atomic, so there is no outer
// transaction to nest under.
func (s *sqlStore) InsertTransactionLogs(ctx context.Context, logs []chainmodel.TransactionLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert transaction logs: begin: %w", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(
		`INSERT INTO %s (transaction_hash, log_index, address, data, removed, topics)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(transaction_hash, log_index) DO NOTHING`, s.tables.transactionLogs)
	for _, l := range logs {
		if _, err := tx.ExecContext(ctx, stmt, l.TransactionHash.Hex(), l.LogIndex, l.Address.Hex(), l.Data, boolToInt(l.Removed), joinTopics(l.Topics)); err != nil {
			return fmt.Errorf("store: insert transaction log %s/%d: %w", l.TransactionHash, l.LogIndex, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) InsertInternalTransactions(ctx context.Context, itxs []chainmodel.InternalTransaction) error {
	if len(itxs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert internal transactions: begin: %w", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(
		`INSERT INTO %s (transaction_hash, idx, from_address, to_address, value, gas_limit, gas_used, input_data, call_type)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(transaction_hash, idx) DO NOTHING`, s.tables.internalTransaction)
	for i, it := range itxs {
		if _, err := tx.ExecContext(ctx, stmt, it.TransactionHash.Hex(), i, it.From.Hex(), it.To.Hex(), it.Value.String(), it.GasLimit, it.GasUsed, it.InputData, it.CallType); err != nil {
			return fmt.Errorf("store: insert internal transaction %s[%d]: %w", it.TransactionHash, i, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) InsertContract(ctx context.Context, c chainmodel.Contract) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (address, transaction_hash, is_pair_contract)
		 VALUES (?, ?, ?)
		 ON CONFLICT(address) DO NOTHING`, s.tables.contract),
		c.Address.Hex(), c.TransactionHash.Hex(), boolToInt(c.IsPairContract))
	if err != nil {
		return fmt.Errorf("store: insert contract %s: %w", c.Address, err)
	}
	return nil
}

func (s *sqlStore) InsertTokenContract(ctx context.Context, tc chainmodel.TokenContract) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (address, symbol, name, decimals, total_supply, token_category)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO NOTHING`, s.tables.tokenContract),
		tc.Address.Hex(), tc.Symbol, tc.Name, tc.Decimals, tc.TotalSupply.String(), string(tc.TokenCategory))
	if err != nil {
		return fmt.Errorf("store: insert token contract %s: %w", tc.Address, err)
	}
	return nil
}

func (s *sqlStore) InsertPairContract(ctx context.Context, pc chainmodel.PairContract) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (address, token0, token1, reserve0, reserve1, factory)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(address) DO NOTHING`, s.tables.pairContract),
		pc.Address.Hex(), pc.Token0.Hex(), pc.Token1.Hex(), pc.Reserve0.String(), pc.Reserve1.String(), pc.Factory.Hex())
	if err != nil {
		return fmt.Errorf("store: insert pair contract %s: %w", pc.Address, err)
	}
	return nil
}

func (s *sqlStore) InsertContractSupplyChange(ctx context.Context, c chainmodel.ContractSupplyChange) error {
	if c.AmountChanged == nil || c.AmountChanged.Sign() == 0 {
		return nil
	}
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (address, transaction_hash, amount_changed)
		 VALUES (?, ?, ?)
		 ON CONFLICT(address, transaction_hash) DO NOTHING`, s.tables.contractSupplyChange),
		c.Address.Hex(), c.TransactionHash.Hex(), c.AmountChanged.String())
	if err != nil {
		return fmt.Errorf("store: insert contract supply change %s/%s: %w", c.Address, c.TransactionHash, err)
	}
	return nil
}

func (s *sqlStore) InsertPairLiquidityChange(ctx context.Context, p chainmodel.PairLiquidityChange) error {
	if (p.Amount0 == nil || p.Amount0.Sign() == 0) && (p.Amount1 == nil || p.Amount1.Sign() == 0) {
		return nil
	}
	a0, a1 := zeroIfNil(p.Amount0), zeroIfNil(p.Amount1)
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (address, transaction_hash, amount0, amount1)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(address, transaction_hash) DO NOTHING`, s.tables.pairLiquidityChange),
		p.Address.Hex(), p.TransactionHash.Hex(), a0.String(), a1.String())
	if err != nil {
		return fmt.Errorf("store: insert pair liquidity change %s/%s: %w", p.Address, p.TransactionHash, err)
	}
	return nil
}

func (s *sqlStore) InsertNftTransfer(ctx context.Context, n chainmodel.NftTransfer) error {
	_, err := s.conn.ExecContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (transaction_hash, log_index, address, from_address, to_address, token_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(transaction_hash, log_index) DO NOTHING`, s.tables.nftTransfer),
		n.TransactionHash.Hex(), n.LogIndex, n.Address.Hex(), n.From.Hex(), n.To.Hex(), n.TokenID.String())
	if err != nil {
		return fmt.Errorf("store: insert nft transfer %s/%d: %w", n.TransactionHash, n.LogIndex, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func joinTopics(topics []common.Hash) string {
	parts := make([]string, len(topics))
	for i, t := range topics {
		parts[i] = t.Hex()
	}
	return strings.Join(parts, ",")
}
