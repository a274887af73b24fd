package impl

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-walletsync/pkg/database"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
	"github.com/textileio/go-walletsync/tests"
)

const (
	alice = "0x2a891118Cf3a8FdeBb00109ea3ed4E33B82D960f"
	bob   = "0x04a8f2c8c8c6d3fd4b5e4d3d9e4b3c2a1b0c9d8e"
	carol = "0x0000000000000000000000000000000000000c0c"
)

func TestBatchWriteIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	records := []txn.Record{
		confirmed(1, alice, bob, 10),
		confirmed(2, bob, alice, 11),
	}
	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, records))
	first, err := store.ListAll(ctx, txstore.Confirmed)
	require.NoError(t, err)
	require.Len(t, first, 2)

	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, records))
	second, err := store.ListAll(ctx, txstore.Confirmed)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestListAllInsertionOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	// Insertion order, not block order.
	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, []txn.Record{confirmed(3, alice, bob, 30)}))
	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, []txn.Record{confirmed(1, alice, bob, 10)}))
	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, []txn.Record{confirmed(2, alice, bob, 20)}))

	records, err := store.ListAll(ctx, txstore.Confirmed)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, uint64(30), records[0].BlockNumber)
	require.Equal(t, uint64(10), records[1].BlockNumber)
	require.Equal(t, uint64(20), records[2].BlockNumber)
}

func TestGetByHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	r := confirmed(1, alice, bob, 10)
	r.Value = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
	r.Input = "0xdeadbeef"
	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, []txn.Record{r}))

	got, err := store.GetByHash(ctx, txstore.Confirmed, "0x"+fmt.Sprintf("%064X", 1))
	require.NoError(t, err)
	require.Equal(t, txn.StateConfirmed, got.State)
	require.Equal(t, r.Normalized(), got)

	_, err = store.GetByHash(ctx, txstore.Pending, r.Hash)
	require.ErrorIs(t, err, txstore.ErrNotFound)
}

func TestListByAddress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, []txn.Record{
		confirmed(1, alice, bob, 10),
		confirmed(2, carol, alice, 11),
		confirmed(3, bob, carol, 12),
	}))

	records, err := store.ListByAddress(ctx, txstore.Confirmed, "0x2A891118CF3A8FDEBB00109EA3ED4E33B82D960F")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(10), records[0].BlockNumber)
	require.Equal(t, uint64(11), records[1].BlockNumber)

	records, err = store.ListByAddress(ctx, txstore.Pending, alice)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestPendingSkipsConfirmedHashes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	c := confirmed(1, alice, bob, 10)
	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, []txn.Record{c}))

	p := txn.NewPending(c.Hash, alice, bob, big.NewInt(1), time.Now())
	require.NoError(t, store.BatchWrite(ctx, txstore.Pending, []txn.Record{p}))

	_, err := store.GetByHash(ctx, txstore.Pending, c.Hash)
	require.ErrorIs(t, err, txstore.ErrNotFound)
}

func TestBatchWriteRejectsWrongState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	p := txn.NewPending("0x01", alice, bob, big.NewInt(1), time.Now())
	c := confirmed(2, alice, bob, 10)
	err := store.BatchWrite(ctx, txstore.Confirmed, []txn.Record{c, p})
	require.ErrorIs(t, err, txstore.ErrPartialWrite)

	// The whole batch was rolled back.
	records, err := store.ListAll(ctx, txstore.Confirmed)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	p := txn.NewPending("0xAB", alice, bob, big.NewInt(1), time.Now())
	require.NoError(t, store.BatchWrite(ctx, txstore.Pending, []txn.Record{p}))
	require.NoError(t, store.Delete(ctx, txstore.Pending, "0xab"))
	require.NoError(t, store.Delete(ctx, txstore.Pending, "0xab"))

	records, err := store.ListAll(ctx, txstore.Pending)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestApply(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	c := confirmed(1, alice, bob, 10)
	p := txn.NewPending(c.Hash, alice, bob, c.Value, time.Now())
	require.NoError(t, store.BatchWrite(ctx, txstore.Pending, []txn.Record{p}))

	require.NoError(t, store.Apply(ctx, txstore.Batch{
		Address:       alice,
		Confirmed:     []txn.Record{c},
		RetirePending: []string{c.Hash},
		Cursor:        10,
	}))

	_, err := store.GetByHash(ctx, txstore.Pending, c.Hash)
	require.ErrorIs(t, err, txstore.ErrNotFound)
	_, err = store.GetByHash(ctx, txstore.Confirmed, c.Hash)
	require.NoError(t, err)

	cursor, err := store.GetCursor(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(10), cursor)
}

func TestApplyRemovesPendingOfConfirmedHashes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	// The pending record is stored after the batch was reconciled, so it isn't in RetirePending.
	c := confirmed(5, alice, bob, 5)
	batch := txstore.Batch{
		Address:   alice,
		Confirmed: []txn.Record{c},
		Cursor:    5,
	}
	p := txn.NewPending(c.Hash, alice, bob, c.Value, time.Now())
	require.NoError(t, store.BatchWrite(ctx, txstore.Pending, []txn.Record{p}))

	require.NoError(t, store.Apply(ctx, batch))

	_, err := store.GetByHash(ctx, txstore.Confirmed, c.Hash)
	require.NoError(t, err)
	_, err = store.GetByHash(ctx, txstore.Pending, c.Hash)
	require.ErrorIs(t, err, txstore.ErrNotFound)
}

func TestApplyFailureKeepsCursor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.SetCursor(ctx, alice, 5))

	bad := confirmed(1, alice, bob, 10)
	bad.State = txn.StatePending
	err := store.Apply(ctx, txstore.Batch{
		Address:   alice,
		Confirmed: []txn.Record{confirmed(2, alice, bob, 9), bad},
		Cursor:    10,
	})
	require.ErrorIs(t, err, txstore.ErrPartialWrite)

	cursor, err := store.GetCursor(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(5), cursor)

	records, err := store.ListAll(ctx, txstore.Confirmed)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestCursorMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	cursor, err := store.GetCursor(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cursor)

	for _, h := range []uint64{10, 150, 140, 0, 151, 100} {
		require.NoError(t, store.SetCursor(ctx, alice, h))
	}
	cursor, err = store.GetCursor(ctx, "0x2A891118CF3A8FDEBB00109EA3ED4E33B82D960F")
	require.NoError(t, err)
	require.Equal(t, uint64(151), cursor)

	require.NoError(t, store.Apply(ctx, txstore.Batch{Address: alice, Cursor: 20}))
	cursor, err = store.GetCursor(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(151), cursor)

	// Cursors are independent per address.
	cursor, err = store.GetCursor(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, uint64(0), cursor)
}

func TestWallets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	addrs, err := store.ListWallets(ctx)
	require.NoError(t, err)
	require.Empty(t, addrs)

	require.NoError(t, store.AddWallet(ctx, bob))
	require.NoError(t, store.AddWallet(ctx, alice))
	require.NoError(t, store.AddWallet(ctx, bob))
	require.Error(t, store.AddWallet(ctx, ""))

	addrs, err = store.ListWallets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{txn.NormalizeAddress(bob), txn.NormalizeAddress(alice)}, addrs)

	require.NoError(t, store.RemoveWallet(ctx, bob))
	require.NoError(t, store.RemoveWallet(ctx, carol))

	addrs, err = store.ListWallets(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{txn.NormalizeAddress(alice)}, addrs)
}

func TestNodeSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)

	_, err := store.GetNodeSnapshot(ctx)
	require.ErrorIs(t, err, txstore.ErrNotFound)

	observedAt := time.UnixMilli(1672531200000)
	snapshot := txstore.NodeSnapshot{
		Listening:     true,
		Syncing:       true,
		StartingBlock: 1,
		CurrentBlock:  90,
		HighestBlock:  100,
		PeerCount:     4,
		ObservedAt:    observedAt,
	}
	require.NoError(t, store.SetNodeSnapshot(ctx, snapshot))
	snapshot.CurrentBlock = 95
	require.NoError(t, store.SetNodeSnapshot(ctx, snapshot))

	got, err := store.GetNodeSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(95), got.CurrentBlock)
	require.True(t, got.ObservedAt.Equal(observedAt))
}

func TestInstrumentedTxStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := NewInstrumentedTxStore(newStore(t))
	require.NoError(t, err)

	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, []txn.Record{confirmed(1, alice, bob, 10)}))
	records, err := store.ListByAddress(ctx, txstore.Confirmed, bob)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func newStore(t *testing.T) *TxStore {
	t.Helper()

	sqliteDB, err := database.Open(tests.Sqlite3URL())
	require.NoError(t, err)
	store := NewTxStore(sqliteDB)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func confirmed(n int, from, to string, block uint64) txn.Record {
	return txn.Record{
		State:       txn.StateConfirmed,
		Hash:        fmt.Sprintf("0x%064x", n),
		From:        from,
		To:          to,
		Value:       big.NewInt(int64(n) * 1000),
		Nonce:       uint64(n),
		BlockHash:   fmt.Sprintf("0x%064x", block),
		BlockNumber: block,
		Gas:         21000,
		GasPrice:    big.NewInt(1),
		Timestamp:   int64(block) * 1000,
	}
}
