package tests

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/textileio/go-walletsync/pkg/chainreader"
	"github.com/textileio/go-walletsync/pkg/txn"
)

// FakeChain is an in-memory chainreader.NodeReader. Blocks 0..head exist and have no transactions
// unless added. Block n has timestamp 1_600_000_000 + n seconds.
type FakeChain struct {
	mu        sync.Mutex
	head      uint64
	blocks    map[uint64]*chainreader.Block
	failing   map[uint64]error
	balances  map[string]*big.Int
	listening bool
	listenErr error
	syncing   *chainreader.SyncProgress
	peers     uint64
	hook      func(number uint64)
	calls     int
}

var _ chainreader.NodeReader = (*FakeChain)(nil)

// NewFakeChain returns a listening fake chain with the provided head.
func NewFakeChain(head uint64) *FakeChain {
	c := &FakeChain{
		blocks:    make(map[uint64]*chainreader.Block),
		failing:   make(map[uint64]error),
		balances:  make(map[string]*big.Int),
		listening: true,
		peers:     5,
	}
	c.SetHead(head)
	return c
}

// SetHead moves the head of the chain, creating the missing blocks.
func (c *FakeChain) SetHead(head uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n := uint64(0); n <= head; n++ {
		if _, ok := c.blocks[n]; !ok {
			c.blocks[n] = &chainreader.Block{
				Number:    n,
				Hash:      fmt.Sprintf("0x%064x", n+1),
				Timestamp: 1_600_000_000 + n,
			}
		}
	}
	c.head = head
}

// AddTransaction includes a transaction in block n. The hash is derived from id.
func (c *FakeChain) AddTransaction(n uint64, id int, from, to string, value int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := fmt.Sprintf("0x%064x", 0xabc000+id)
	c.blocks[n].Transactions = append(c.blocks[n].Transactions, chainreader.Transaction{
		Hash:     hash,
		From:     from,
		To:       to,
		Value:    big.NewInt(value),
		Nonce:    uint64(id),
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
		Input:    "0x",
	})
	return hash
}

// SetBalance sets the balance in wei of address.
func (c *FakeChain) SetBalance(address string, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[txn.NormalizeAddress(address)] = wei
}

// SetListening sets the answer and error of IsListening.
func (c *FakeChain) SetListening(listening bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening, c.listenErr = listening, err
}

// SetNodeStatus sets the sync progress and peer count reported by the node.
func (c *FakeChain) SetNodeStatus(syncing *chainreader.SyncProgress, peers uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncing, c.peers = syncing, peers
}

// FailBlock makes fetching block n fail with err. A nil err clears the failure.
func (c *FakeChain) FailBlock(n uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failing, n)
		return
	}
	c.failing[n] = err
}

// SetBlockHook sets a func called at the start of every block fetch, out of the chain lock.
func (c *FakeChain) SetBlockHook(hook func(number uint64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = hook
}

// BlockCalls returns how many blocks were fetched.
func (c *FakeChain) BlockCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// CurrentBlockHeight implements chainreader.ChainReader.
func (c *FakeChain) CurrentBlockHeight(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

// GetBlock implements chainreader.ChainReader.
func (c *FakeChain) GetBlock(_ context.Context, number uint64, includeTransactions bool) (*chainreader.Block, error) {
	c.mu.Lock()
	hook := c.hook
	c.calls++
	c.mu.Unlock()
	if hook != nil {
		hook(number)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.failing[number]; ok {
		return nil, err
	}
	b, ok := c.blocks[number]
	if !ok || number > c.head {
		return nil, nil
	}
	block := *b
	if includeTransactions {
		block.Transactions = append([]chainreader.Transaction(nil), b.Transactions...)
	} else {
		block.Transactions = nil
	}
	return &block, nil
}

// GetBalance implements chainreader.ChainReader.
func (c *FakeChain) GetBalance(_ context.Context, address string) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.balances[txn.NormalizeAddress(address)]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// IsListening implements chainreader.ChainReader.
func (c *FakeChain) IsListening(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening, c.listenErr
}

// SyncProgress implements chainreader.NodeInfo.
func (c *FakeChain) SyncProgress(_ context.Context) (*chainreader.SyncProgress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncing, nil
}

// PeerCount implements chainreader.NodeInfo.
func (c *FakeChain) PeerCount(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peers, nil
}
