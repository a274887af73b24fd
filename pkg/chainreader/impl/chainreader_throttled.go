package impl

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"github.com/textileio/go-walletsync/pkg/chainreader"
)

const throttleKey = "chainreader"

// ThrottledChainReader limits the rate of calls made to the node.
// Calls over the limit wait for the next interval instead of failing.
type ThrottledChainReader struct {
	reader  chainreader.NodeReader
	limiter limiter.Store
}

var _ chainreader.NodeReader = (*ThrottledChainReader)(nil)

// NewThrottledChainReader allows at most maxCalls calls to reader per interval.
func NewThrottledChainReader(
	reader chainreader.NodeReader, maxCalls uint64, interval time.Duration,
) (*ThrottledChainReader, error) {
	store, err := memorystore.New(&memorystore.Config{
		Tokens:   maxCalls,
		Interval: interval,
	})
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %s", err)
	}

	return &ThrottledChainReader{
		reader:  reader,
		limiter: store,
	}, nil
}

// CurrentBlockHeight returns the number of the latest block.
func (t *ThrottledChainReader) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	return t.reader.CurrentBlockHeight(ctx)
}

// GetBlock returns the block with the provided number.
func (t *ThrottledChainReader) GetBlock(
	ctx context.Context, number uint64, includeTransactions bool,
) (*chainreader.Block, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.reader.GetBlock(ctx, number, includeTransactions)
}

// GetBalance returns the balance of address.
func (t *ThrottledChainReader) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.reader.GetBalance(ctx, address)
}

// IsListening returns true if the node is listening.
func (t *ThrottledChainReader) IsListening(ctx context.Context) (bool, error) {
	if err := t.wait(ctx); err != nil {
		return false, err
	}
	return t.reader.IsListening(ctx)
}

// SyncProgress returns the sync progress of the node.
func (t *ThrottledChainReader) SyncProgress(ctx context.Context) (*chainreader.SyncProgress, error) {
	if err := t.wait(ctx); err != nil {
		return nil, err
	}
	return t.reader.SyncProgress(ctx)
}

// PeerCount returns the number of peers of the node.
func (t *ThrottledChainReader) PeerCount(ctx context.Context) (uint64, error) {
	if err := t.wait(ctx); err != nil {
		return 0, err
	}
	return t.reader.PeerCount(ctx)
}

// Close releases the limiter resources.
func (t *ThrottledChainReader) Close(ctx context.Context) error {
	return t.limiter.Close(ctx)
}

func (t *ThrottledChainReader) wait(ctx context.Context) error {
	for {
		_, _, reset, ok, err := t.limiter.Take(ctx, throttleKey)
		if err != nil {
			return fmt.Errorf("taking limiter token: %s", err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(time.Unix(0, int64(reset)))):
		}
	}
}
