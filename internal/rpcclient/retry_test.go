package rpcclient

import (
	"context"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/example/chain-collector/internal/chainmodel"
)

// fakeClient lets tests script a sequence of errors before success.
type fakeClient struct {
	errs  []error
	calls int
}

func (f *fakeClient) nextErr() error {
	if f.calls >= len(f.errs) {
		return nil
	}
	err := f.errs[f.calls]
	f.calls++
	return err
}

func (f *fakeClient) GetBlock(ctx context.Context, id BlockID) (*chainmodel.Block, []common.Hash, error) {
	if err := f.nextErr(); err != nil {
		return nil, nil, err
	}
	return &chainmodel.Block{Number: 1}, nil, nil
}
func (f *fakeClient) GetTransaction(ctx context.Context, hash common.Hash) (*chainmodel.TxData, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &chainmodel.TxData{Hash: hash}, nil
}
func (f *fakeClient) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chainmodel.ReceiptData, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return &chainmodel.ReceiptData{TransactionHash: hash}, nil
}
func (f *fakeClient) GetInternalTransactions(ctx context.Context, hash common.Hash) ([]chainmodel.InternalTransaction, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return nil, nil
}
func (f *fakeClient) GetBlockReward(ctx context.Context, id BlockID) (*big.Int, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return big.NewInt(0), nil
}
func (f *fakeClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := f.nextErr(); err != nil {
		return nil, err
	}
	return nil, nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestRetrySucceedsAfterTransientErrors(t *testing.T) {
	fake := &fakeClient{errs: []error{timeoutErr{}, timeoutErr{}}}
	client := WithRetry(fake, RetryConfig{Retries: 3, RetryDelay: time.Millisecond})

	block, _, err := client.GetBlock(context.Background(), Latest)
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	if block.Number != 1 {
		t.Fatalf("unexpected block: %+v", block)
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.calls)
	}
}

func TestRetryExhaustsAndSurfacesLastError(t *testing.T) {
	fake := &fakeClient{errs: []error{timeoutErr{}, timeoutErr{}, timeoutErr{}}}
	client := WithRetry(fake, RetryConfig{Retries: 2, RetryDelay: time.Millisecond})

	_, _, err := client.GetBlock(context.Background(), Latest)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if fake.calls != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", fake.calls)
	}
}

func TestRetryDoesNotRetryNonTransientErrors(t *testing.T) {
	permanent := errors.New("invalid argument")
	fake := &fakeClient{errs: []error{permanent}}
	client := WithRetry(fake, RetryConfig{Retries: 5, RetryDelay: time.Millisecond})

	_, _, err := client.GetBlock(context.Background(), Latest)
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error surfaced directly, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected exactly 1 attempt for non-transient error, got %d", fake.calls)
	}
}

func TestRetryPropagatesBlockNotFoundImmediately(t *testing.T) {
	fake := &fakeClient{errs: []error{ErrBlockNotFound}}
	client := WithRetry(fake, RetryConfig{Retries: 5, RetryDelay: time.Millisecond})

	_, _, err := client.GetBlock(context.Background(), Latest)
	if !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
	if fake.calls != 1 {
		t.Fatalf("expected no retries for block-not-found, got %d calls", fake.calls)
	}
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	fake := &fakeClient{errs: []error{timeoutErr{}, timeoutErr{}, timeoutErr{}}}
	client := WithRetry(fake, RetryConfig{Retries: 5, RetryDelay: 50 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, _, err := client.GetBlock(ctx, Latest)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestRateLimitDisabledWhenQPSNonPositive(t *testing.T) {
	fake := &fakeClient{}
	client := WithRateLimit(fake, 0)
	if client != Client(fake) {
		t.Fatal("expected WithRateLimit(0) to return the underlying client unchanged")
	}
}
