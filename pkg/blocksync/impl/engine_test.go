package impl

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/textileio/go-walletsync/pkg/blocksync"
	"github.com/textileio/go-walletsync/pkg/chainreader"
	chainreaderimpl "github.com/textileio/go-walletsync/pkg/chainreader/impl"
	"github.com/textileio/go-walletsync/pkg/database"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
	txstoreimpl "github.com/textileio/go-walletsync/pkg/txstore/impl"
	"github.com/textileio/go-walletsync/tests"
)

const (
	alice = "0x2a891118cf3a8fdebb00109ea3ed4e33b82d960f"
	bob   = "0x04a8f2c8c8c6d3fd4b5e4d3d9e4b3c2a1b0c9d8e"
	carol = "0x0000000000000000000000000000000000000c0c"
)

func TestSyncCancellation(t *testing.T) {
	t.Parallel()

	chain := tests.NewFakeChain(250)
	before := chain.AddTransaction(120, 1, alice, bob, 1)
	after := chain.AddTransaction(180, 2, bob, alice, 2)
	store := newStore(t)
	engine := newEngine(t, chain, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	summary, err := engine.Sync(ctx, alice, 100, 201, func(height, target uint64) {
		require.Equal(t, uint64(200), target)
		if height == 150 {
			cancel()
		}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, uint64(150), summary.Cursor)
	require.Equal(t, 51, summary.BlocksScanned)
	require.Nil(t, summary.Balance)

	cursor, err := store.GetCursor(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, uint64(150), cursor)

	_, err = store.GetByHash(context.Background(), txstore.Confirmed, before)
	require.NoError(t, err)
	_, err = store.GetByHash(context.Background(), txstore.Confirmed, after)
	require.ErrorIs(t, err, txstore.ErrNotFound)
}

func TestPassIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(50)
	chain.AddTransaction(3, 1, alice, bob, 1)
	chain.AddTransaction(47, 2, bob, alice, 2)
	chain.AddTransaction(47, 3, bob, carol, 3)
	store := newStore(t)
	engine := newEngine(t, chain, store)

	first, err := engine.Pass(ctx, alice, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), first.FromBlock)
	require.Equal(t, uint64(51), first.ToBlock)
	require.Equal(t, uint64(50), first.Cursor)
	require.Equal(t, 2, first.NewTxns)

	second, err := engine.Pass(ctx, alice, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(40), second.FromBlock)
	require.Equal(t, 0, second.NewTxns)
	require.Equal(t, uint64(50), second.Cursor)

	records, err := store.ListAll(ctx, txstore.Confirmed)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestPassAddressFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(20)
	upper := "0x" + strings.ToUpper(alice[2:])
	sent := chain.AddTransaction(5, 1, upper, bob, 10)
	received := chain.AddTransaction(6, 2, carol, upper, 20)
	chain.AddTransaction(7, 3, bob, carol, 30)
	store := newStore(t)
	engine := newEngine(t, chain, store)

	summary, err := engine.Pass(ctx, alice, nil)
	require.NoError(t, err)
	require.Equal(t, 2, summary.NewTxns)

	records, err := store.ListAll(ctx, txstore.Confirmed)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, txn.NormalizeHash(sent), records[0].Hash)
	require.Equal(t, alice, records[0].From)
	require.Equal(t, txn.NormalizeHash(received), records[1].Hash)
	require.Equal(t, alice, records[1].To)
	require.Equal(t, uint64(6), records[1].BlockNumber)
	require.Equal(t, int64(1_600_000_006_000), records[1].Timestamp)
}

func TestPassFetchFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(50)
	chain.AddTransaction(35, 1, alice, bob, 1)
	chain.FailBlock(30, errors.New("connection reset"))
	store := newStore(t)
	engine := newEngine(t, chain, store)

	summary, err := engine.Pass(ctx, alice, nil)
	require.Error(t, err)
	require.False(t, summary.Skipped)
	require.Equal(t, uint64(29), summary.Cursor)

	cursor, err := store.GetCursor(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(29), cursor)
	records, err := store.ListAll(ctx, txstore.Confirmed)
	require.NoError(t, err)
	require.Empty(t, records)

	chain.FailBlock(30, nil)
	summary, err = engine.Pass(ctx, alice, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(19), summary.FromBlock)
	require.Equal(t, uint64(50), summary.Cursor)
	require.Equal(t, 1, summary.NewTxns)
}

func TestPassNodeUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(10)
	store := newStore(t)
	engine := newEngine(t, chain, store)

	chain.SetListening(false, nil)
	summary, err := engine.Pass(ctx, alice, nil)
	require.ErrorIs(t, err, blocksync.ErrNodeUnavailable)
	require.True(t, summary.Skipped)

	chain.SetListening(true, errors.New("dial tcp: connection refused"))
	summary, err = engine.Pass(ctx, alice, nil)
	require.ErrorIs(t, err, blocksync.ErrNodeUnavailable)
	require.True(t, summary.Skipped)

	require.Zero(t, chain.BlockCalls())
	cursor, err := store.GetCursor(ctx, alice)
	require.NoError(t, err)
	require.Zero(t, cursor)
}

func TestPassBalance(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(5)
	chain.SetBalance(carol, tests.OneEther)
	engine := newEngine(t, chain, newStore(t))

	summary, err := engine.Pass(ctx, carol, nil)
	require.NoError(t, err)
	require.Zero(t, summary.NewTxns)
	require.Equal(t, 0, tests.OneEther.Cmp(summary.Balance))

	// An empty range only refreshes the balance.
	summary, err = engine.Sync(ctx, carol, 3, 3, nil)
	require.NoError(t, err)
	require.Zero(t, summary.BlocksScanned)
	require.Equal(t, 0, tests.OneEther.Cmp(summary.Balance))
}

func TestPassReconcilesPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(30)
	hash := chain.AddTransaction(25, 7, alice, bob, 100)
	store := newStore(t)
	engine := newEngine(t, chain, store)

	now := time.Now()
	orphan := txn.NewPending("0x"+strings.Repeat("f", 64), alice, carol, big.NewInt(5), now)
	require.NoError(t, store.BatchWrite(ctx, txstore.Pending, []txn.Record{
		txn.NewPending(hash, alice, bob, big.NewInt(100), now),
		orphan,
	}))

	summary, err := engine.Pass(ctx, alice, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Reconciled)

	pending, err := store.ListAll(ctx, txstore.Pending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, orphan.Hash, pending[0].Hash)

	confirmed, err := store.GetByHash(ctx, txstore.Confirmed, hash)
	require.NoError(t, err)
	require.Equal(t, uint64(7), confirmed.Nonce)
	require.Equal(t, uint64(25), confirmed.BlockNumber)
}

func TestPassSubmissionDuringFlush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(10)
	hash := chain.AddTransaction(5, 3, alice, bob, 100)
	store := &submittingStore{
		TxStore: newStore(t),
		record:  txn.NewPending(hash, alice, bob, big.NewInt(100), time.Now()),
	}
	engine := newEngine(t, chain, store)

	_, err := engine.Pass(ctx, alice, nil)
	require.NoError(t, err)
	require.NoError(t, store.err)

	_, err = store.GetByHash(ctx, txstore.Confirmed, hash)
	require.NoError(t, err)
	_, err = store.GetByHash(ctx, txstore.Pending, hash)
	require.ErrorIs(t, err, txstore.ErrNotFound)
}

// submittingStore stores a pending record right before the first batch is applied,
// after the engine already reconciled against the pending table.
type submittingStore struct {
	txstore.TxStore
	record txn.Record

	once sync.Once
	err  error
}

func (s *submittingStore) Apply(ctx context.Context, batch txstore.Batch) error {
	s.once.Do(func() {
		s.err = s.TxStore.BatchWrite(ctx, txstore.Pending, []txn.Record{s.record})
	})
	return s.TxStore.Apply(ctx, batch)
}

func TestPassReorgOverlap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(50)
	store := newStore(t)
	engine := newEngine(t, chain, store)

	_, err := engine.Pass(ctx, alice, nil)
	require.NoError(t, err)

	// A transaction shows up below the cursor, as after a short reorg.
	chain.AddTransaction(45, 1, bob, alice, 1)
	summary, err := engine.Pass(ctx, alice, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.NewTxns)
}

func TestPassScansEveryBlock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(2500)
	far := chain.AddTransaction(777, 1, alice, bob, 1)
	store := newStore(t)
	engine := newEngine(t, chain, store, blocksync.WithFetchConcurrency(8))

	var mu sync.Mutex
	var heights []uint64
	summary, err := engine.Pass(ctx, alice, func(height, _ uint64) {
		mu.Lock()
		defer mu.Unlock()
		heights = append(heights, height)
	})
	require.NoError(t, err)
	require.Equal(t, 2501, summary.BlocksScanned)
	require.Equal(t, 2501, chain.BlockCalls())
	require.Len(t, heights, 2501)
	for i, h := range heights {
		require.Equal(t, uint64(i), h)
	}

	_, err = store.GetByHash(ctx, txstore.Confirmed, far)
	require.NoError(t, err)
}

func TestPassMinBlockDepth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(20)
	chain.AddTransaction(19, 1, alice, bob, 1)
	store := newStore(t)
	engine := newEngine(t, chain, store, blocksync.WithMinBlockDepth(5))

	summary, err := engine.Pass(ctx, alice, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(16), summary.ToBlock)
	require.Equal(t, uint64(15), summary.Cursor)
	require.Zero(t, summary.NewTxns)
}

func TestPassSimulatedChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewSimulatedChain(t)
	sender := chain.CreateAccountWithBalance(t)
	receiver, err := crypto.GenerateKey()
	require.NoError(t, err)
	receiverAddr := crypto.PubkeyToAddress(receiver.PublicKey)

	hash := chain.Transfer(t, sender, receiverAddr, big.NewInt(4242))
	chain.Mine(3)

	store := newStore(t)
	reader := chainreaderimpl.NewEthereumReader(chain.Backend, nil, chain.ChainID)
	engine := newEngine(t, reader, store)

	summary, err := engine.Pass(ctx, receiverAddr.Hex(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(4), summary.Cursor)
	require.Equal(t, 1, summary.NewTxns)
	require.Equal(t, int64(4242), summary.Balance.Int64())

	record, err := store.GetByHash(ctx, txstore.Confirmed, hash.Hex())
	require.NoError(t, err)
	require.Equal(t, txn.NormalizeAddress(crypto.PubkeyToAddress(sender.PublicKey).Hex()), record.From)
	require.Equal(t, uint64(2), record.BlockNumber)
	require.Equal(t, int64(4242), record.Value.Int64())
}

func newStore(t *testing.T) *txstoreimpl.TxStore {
	t.Helper()

	sqliteDB, err := database.Open(tests.Sqlite3URL())
	require.NoError(t, err)
	store := txstoreimpl.NewTxStore(sqliteDB)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func newEngine(t *testing.T, reader chainreader.ChainReader, store txstore.TxStore, opts ...blocksync.Option) *Engine {
	t.Helper()

	engine, err := New(reader, store, opts...)
	require.NoError(t, err)
	return engine
}
