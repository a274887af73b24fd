package backup

import (
	"context"
	"math/big"
	"os"
	"path"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/go-walletsync/pkg/database"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
	txstoreimpl "github.com/textileio/go-walletsync/pkg/txstore/impl"
)

const (
	alice = "0x2a891118cf3a8fdebb00109ea3ed4e33b82d960f"
	bob   = "0x04a8f2c8c8c6d3fd4b5e4d3d9e4b3c2a1b0c9d8e"
)

var observedAt = time.Date(2009, 11, 17, 20, 30, 0, 0, time.UTC)

// createControlDatabase creates a wallet database in disk with a few transactions.
// alice is watched with a cursor at block 199 and bob is watched without one.
func createControlDatabase(t *testing.T) string {
	t.Helper()

	dbPath := path.Join(t.TempDir(), "wallet.db")
	sqliteDB, err := database.Open(dbPath)
	require.NoError(t, err)
	store := txstoreimpl.NewTxStore(sqliteDB)

	records := make([]txn.Record, 0, 200)
	for i := 0; i < 200; i++ {
		records = append(records, txn.Record{
			State:       txn.StateConfirmed,
			Hash:        "0x" + big.NewInt(int64(1000+i)).Text(16),
			From:        alice,
			To:          bob,
			Value:       big.NewInt(int64(i)),
			BlockNumber: uint64(i),
			Timestamp:   int64(i) * 1000,
		})
	}
	ctx := context.Background()
	require.NoError(t, store.BatchWrite(ctx, txstore.Confirmed, records))
	require.NoError(t, store.BatchWrite(ctx, txstore.Pending, []txn.Record{{
		State:    txn.StatePending,
		Hash:     "0xfeed",
		From:     alice,
		To:       bob,
		Value:    big.NewInt(1),
		GasPrice: big.NewInt(1),
	}}))
	require.NoError(t, store.AddWallet(ctx, alice))
	require.NoError(t, store.AddWallet(ctx, bob))
	require.NoError(t, store.SetCursor(ctx, alice, 199))
	require.NoError(t, store.SetNodeSnapshot(ctx, txstore.NodeSnapshot{
		Listening:    true,
		CurrentBlock: 250,
		HighestBlock: 250,
		ObservedAt:   observedAt,
	}))
	require.NoError(t, store.Close())

	return dbPath
}

func backupDir(t *testing.T) string {
	return path.Clean(t.TempDir())
}

// fixedClock returns a clock that starts at start and moves one second forward on every call.
func fixedClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Second)
		return now
	}
}

func requireFileCount(t *testing.T, dir string, exp int) {
	t.Helper()

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, exp)
}
