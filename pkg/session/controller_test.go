package session

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-walletsync/pkg/blocksync"
	blocksyncimpl "github.com/textileio/go-walletsync/pkg/blocksync/impl"
	"github.com/textileio/go-walletsync/pkg/database"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
	txstoreimpl "github.com/textileio/go-walletsync/pkg/txstore/impl"
	"github.com/textileio/go-walletsync/tests"
	"go.uber.org/atomic"
)

const (
	alice = "0x2a891118cf3a8fdebb00109ea3ed4e33b82d960f"
	bob   = "0x04a8f2c8c8c6d3fd4b5e4d3d9e4b3c2a1b0c9d8e"
	carol = "0x0000000000000000000000000000000000000c0c"
)

func TestTriggerSuppression(t *testing.T) {
	t.Parallel()

	engine := newBlockingEngine()
	c := newController(t, alice, engine, newStore(t), tests.NewFakeChain(1))

	require.True(t, c.TriggerSync())
	<-engine.started

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TriggerSync() {
				accepted.Inc()
			}
		}()
	}
	wg.Wait()
	require.Zero(t, accepted.Load())
	require.Equal(t, StateSyncing, c.Status().State)

	close(engine.release)
	require.Eventually(t, func() bool {
		return c.Status().State == StateIdle
	}, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, int32(1), engine.calls.Load())

	// Triggers are dropped, not queued.
	require.True(t, c.TriggerSync())
	require.Eventually(t, func() bool {
		return engine.calls.Load() == 2 && c.Status().State == StateIdle
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStopCancelsPass(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	engine := newBlockingEngine()
	c := newController(t, alice, engine, newStore(t), tests.NewFakeChain(1))
	require.NoError(t, c.Start(ctx))
	<-engine.started

	c.Stop()
	require.ErrorIs(t, engine.lastErr(), context.Canceled)
	require.Equal(t, StateTornDown, c.Status().State)

	require.False(t, c.TriggerSync())
	require.ErrorIs(t, c.Start(ctx), ErrTornDown)
	err := c.NotifyTransactionSubmitted(ctx, txn.NewPending("0x01", alice, bob, big.NewInt(1), time.Now()))
	require.ErrorIs(t, err, ErrTornDown)

	// Stopping twice is a no-op.
	c.Stop()
}

func TestNotifyTransactionSubmitted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(1)
	chain.SetBalance(alice, big.NewInt(5e17))
	c := newController(t, alice, newBlockingEngine(), newStore(t), chain)

	older := txn.NewPending("0x0a", alice, bob, big.NewInt(1), time.Now().Add(-time.Minute))
	require.NoError(t, c.NotifyTransactionSubmitted(ctx, older))
	newer := txn.Record{Hash: "0x0B", From: carol, To: "0x2A891118CF3A8FDEBB00109EA3ED4E33B82D960F", Value: big.NewInt(2)}
	require.NoError(t, c.NotifyTransactionSubmitted(ctx, newer))

	view := c.MergedTransactions()
	require.Len(t, view, 2)
	require.Equal(t, "0x0b", view[0].Hash)
	require.Equal(t, txn.StatePending, view[0].State)
	require.Equal(t, uint64(txn.PlaceholderGas), view[0].Gas)
	require.Equal(t, "0x0a", view[1].Hash)
	require.Equal(t, "0.5", c.CurrentBalance())

	err := c.NotifyTransactionSubmitted(ctx, txn.NewPending("0x0c", bob, carol, big.NewInt(1), time.Now()))
	require.ErrorIs(t, err, ErrAddressMismatch)
}

func TestControllerSync(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(40)
	chain.SetBalance(alice, new(big.Int).Mul(tests.OneEther, big.NewInt(3)))
	first := chain.AddTransaction(10, 1, alice, bob, 1)
	second := chain.AddTransaction(30, 2, bob, alice, 2)
	store := newStore(t)

	submitted := txn.NewPending(second, alice, bob, big.NewInt(2), time.Now())
	orphan := txn.NewPending("0xff", alice, carol, big.NewInt(9), time.Now())
	require.NoError(t, store.BatchWrite(ctx, txstore.Pending, []txn.Record{submitted, orphan}))

	engine, err := blocksyncimpl.New(chain, store)
	require.NoError(t, err)
	c := newController(t, alice, engine, store, chain)
	require.NoError(t, c.Start(ctx))

	require.Eventually(t, func() bool {
		return !c.Status().LastPassAt.IsZero()
	}, 5*time.Second, 10*time.Millisecond)

	status := c.Status()
	require.Empty(t, status.LastError)
	require.Equal(t, uint64(40), status.Cursor)
	require.Equal(t, uint64(40), status.ProgressHeight)
	require.Equal(t, "3", status.Balance)
	require.Equal(t, "3", c.CurrentBalance())

	view := c.MergedTransactions()
	require.Len(t, view, 3)
	// The orphan was submitted now, which is later than any block timestamp.
	require.Equal(t, "0xff", view[0].Hash)
	require.True(t, view[0].IsPending())
	require.Equal(t, txn.NormalizeHash(second), view[1].Hash)
	require.Equal(t, txn.StateConfirmed, view[1].State)
	require.Equal(t, txn.NormalizeHash(first), view[2].Hash)
}

func TestControllerKeepsLastKnownGood(t *testing.T) {
	t.Parallel()

	chain := tests.NewFakeChain(10)
	chain.SetBalance(alice, tests.OneEther)
	chain.AddTransaction(5, 1, alice, bob, 1)
	store := newStore(t)
	engine, err := blocksyncimpl.New(chain, store)
	require.NoError(t, err)
	c := newController(t, alice, engine, store, chain)

	require.True(t, c.TriggerSync())
	require.Eventually(t, func() bool {
		return !c.Status().LastPassAt.IsZero() && c.Status().State == StateIdle
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, c.MergedTransactions(), 1)

	chain.SetListening(false, nil)
	lastPassAt := c.Status().LastPassAt
	require.True(t, c.TriggerSync())
	require.Eventually(t, func() bool {
		s := c.Status()
		return s.LastPassAt.After(lastPassAt) && s.State == StateIdle
	}, 5*time.Second, 10*time.Millisecond)

	status := c.Status()
	require.Contains(t, status.LastError, blocksync.ErrNodeUnavailable.Error())
	require.True(t, status.LastPass.Skipped)
	require.Equal(t, "1", status.Balance)
	require.Len(t, c.MergedTransactions(), 1)
}

func TestPendingTTL(t *testing.T) {
	t.Parallel()

	c := newController(t, alice, newBlockingEngine(), newStore(t), tests.NewFakeChain(1), WithPendingTTL(time.Hour))

	old := txn.NewPending("0x01", alice, bob, big.NewInt(1), time.Now().Add(-2*time.Hour))
	fresh := txn.NewPending("0x02", alice, bob, big.NewInt(1), time.Now())
	mined := txn.Record{State: txn.StateConfirmed, Hash: "0x03", Timestamp: old.Timestamp}
	require.True(t, c.IsStale(old))
	require.False(t, c.IsStale(fresh))
	require.False(t, c.IsStale(mined))

	noTTL := newController(t, bob, newBlockingEngine(), newStore(t), tests.NewFakeChain(1))
	require.False(t, noTTL.IsStale(old))
}

func TestMerge(t *testing.T) {
	t.Parallel()

	confirmed := []txn.Record{
		{State: txn.StateConfirmed, Hash: "0x01", BlockNumber: 1, Timestamp: 1000},
		{State: txn.StateConfirmed, Hash: "0x02", BlockNumber: 2, Timestamp: 3000},
	}
	pending := []txn.Record{
		{State: txn.StatePending, Hash: "0x02", Timestamp: 5000},
		{State: txn.StatePending, Hash: "0x03", Timestamp: 2000},
	}

	merged := Merge(confirmed, pending)
	require.Len(t, merged, 3)
	require.Equal(t, "0x02", merged[0].Hash)
	require.Equal(t, txn.StateConfirmed, merged[0].State)
	require.Equal(t, "0x03", merged[1].Hash)
	require.Equal(t, "0x01", merged[2].Hash)
}

func TestFormatEther(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0", FormatEther(nil))
	require.Equal(t, "0", FormatEther(big.NewInt(0)))
	require.Equal(t, "1", FormatEther(tests.OneEther))
	require.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
	wei, ok := new(big.Int).SetString("1234500000000000000000", 10)
	require.True(t, ok)
	require.Equal(t, "1234.5", FormatEther(wei))
}

type blockingEngine struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}

	mu  sync.Mutex
	err error
}

func newBlockingEngine() *blockingEngine {
	return &blockingEngine{
		started: make(chan struct{}, 100),
		release: make(chan struct{}),
	}
}

func (e *blockingEngine) Sync(
	ctx context.Context, address string, _, _ uint64, progress blocksync.ProgressFunc,
) (blocksync.Summary, error) {
	return e.Pass(ctx, address, progress)
}

func (e *blockingEngine) Pass(ctx context.Context, address string, _ blocksync.ProgressFunc) (blocksync.Summary, error) {
	e.calls.Inc()
	e.started <- struct{}{}

	var err error
	select {
	case <-e.release:
	case <-ctx.Done():
		err = ctx.Err()
	}
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()

	if err != nil {
		return blocksync.Summary{Address: address}, err
	}
	return blocksync.Summary{Address: address, Balance: big.NewInt(0)}, nil
}

func (e *blockingEngine) lastErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func newStore(t *testing.T) txstore.TxStore {
	t.Helper()

	sqliteDB, err := database.Open(tests.Sqlite3URL())
	require.NoError(t, err)
	store := txstoreimpl.NewTxStore(sqliteDB)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func newController(
	t *testing.T,
	address string,
	engine blocksync.Engine,
	store txstore.TxStore,
	chain *tests.FakeChain,
	opts ...Option,
) *Controller {
	t.Helper()

	c, err := NewController(address, engine, store, chain, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Stop)
	return c
}
