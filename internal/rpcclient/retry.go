package rpcclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/example/chain-collector/internal/chainmodel"
)

// RetryConfig controls the retry middleware (spec §4.1).
type RetryConfig struct {
	Retries    int
	RetryDelay time.Duration
	// OnRetry, if set, is called once per transient error before the
	// retry delay (ambient addition: lets cmd/producer and cmd/consumer
	// wire a Prometheus counter without the middleware importing
	// internal/metrics itself).
	OnRetry func()
}

// retrying wraps a Client and retries transient errors up to
// cfg.Retries times with a fixed delay, per spec §4.1: "on
// connection-reset / timeout / DNS errors, retry up to rpc_retries times
// with a fixed delay of rpc_retry_delay_s. Non-connection errors
// propagate immediately."
type retrying struct {
	next Client
	cfg  RetryConfig
}

// WithRetry layers the retry middleware over an existing Client.
func WithRetry(next Client, cfg RetryConfig) Client {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	return &retrying{next: next, cfg: cfg}
}

func (r *retrying) GetBlock(ctx context.Context, id BlockID) (*chainmodel.Block, []common.Hash, error) {
	var block *chainmodel.Block
	var hashes []common.Hash
	err := r.do(ctx, func() error {
		var innerErr error
		block, hashes, innerErr = r.next.GetBlock(ctx, id)
		return innerErr
	})
	return block, hashes, err
}

func (r *retrying) GetTransaction(ctx context.Context, hash common.Hash) (*chainmodel.TxData, error) {
	var tx *chainmodel.TxData
	err := r.do(ctx, func() error {
		var innerErr error
		tx, innerErr = r.next.GetTransaction(ctx, hash)
		return innerErr
	})
	return tx, err
}

func (r *retrying) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chainmodel.ReceiptData, error) {
	var receipt *chainmodel.ReceiptData
	err := r.do(ctx, func() error {
		var innerErr error
		receipt, innerErr = r.next.GetTransactionReceipt(ctx, hash)
		return innerErr
	})
	return receipt, err
}

func (r *retrying) GetInternalTransactions(ctx context.Context, hash common.Hash) ([]chainmodel.InternalTransaction, error) {
	var txs []chainmodel.InternalTransaction
	err := r.do(ctx, func() error {
		var innerErr error
		txs, innerErr = r.next.GetInternalTransactions(ctx, hash)
		return innerErr
	})
	return txs, err
}

func (r *retrying) GetBlockReward(ctx context.Context, id BlockID) (*big.Int, error) {
	var reward *big.Int
	err := r.do(ctx, func() error {
		var innerErr error
		reward, innerErr = r.next.GetBlockReward(ctx, id)
		return innerErr
	})
	return reward, err
}

func (r *retrying) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := r.do(ctx, func() error {
		var innerErr error
		out, innerErr = r.next.Call(ctx, to, data)
		return innerErr
	})
	return out, err
}

// do runs fn, retrying on a transient error up to r.cfg.Retries times.
// ErrBlockNotFound and any other non-transient error propagate on the
// first attempt (spec §4.1, §7).
func (r *retrying) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrBlockNotFound) {
			return lastErr
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == r.cfg.Retries {
			break
		}
		log.Warn().Err(lastErr).Int("attempt", attempt+1).Msg("rpc call failed, retrying")
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry()
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("context canceled while retrying rpc call: %w", ctx.Err())
		case <-time.After(r.cfg.RetryDelay):
		}
	}
	return fmt.Errorf("rpc call failed after %d attempts: %w", r.cfg.Retries+1, lastErr)
}

// isTransient classifies an error as retryable: connection resets,
// timeouts, and DNS failures, per spec §4.1/§7.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return false
}

// rateLimited wraps a Client with a client-side QPS cap, acquired before
// every underlying call; layered under WithRetry, each retry attempt
// waits on the limiter again (SPEC_FULL §4.1 domain-stack addition).
type rateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// WithRateLimit layers a token-bucket rate limiter over next. qps <= 0
// disables limiting and returns next unchanged.
func WithRateLimit(next Client, qps float64) Client {
	if qps <= 0 {
		return next
	}
	burst := int(qps)
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(qps), burst)}
}

func (r *rateLimited) GetBlock(ctx context.Context, id BlockID) (*chainmodel.Block, []common.Hash, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, nil, err
	}
	return r.next.GetBlock(ctx, id)
}

func (r *rateLimited) GetTransaction(ctx context.Context, hash common.Hash) (*chainmodel.TxData, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetTransaction(ctx, hash)
}

func (r *rateLimited) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chainmodel.ReceiptData, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetTransactionReceipt(ctx, hash)
}

func (r *rateLimited) GetInternalTransactions(ctx context.Context, hash common.Hash) ([]chainmodel.InternalTransaction, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetInternalTransactions(ctx, hash)
}

func (r *rateLimited) GetBlockReward(ctx context.Context, id BlockID) (*big.Int, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.GetBlockReward(ctx, id)
}

func (r *rateLimited) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Call(ctx, to, data)
}
