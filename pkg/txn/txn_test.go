package txn

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0xabcdef", NormalizeHash("0xABCDEF"))
	require.Equal(t, "0xabcdef", NormalizeHash("ABCDEF"))
	require.Equal(t, "0xabcdef", NormalizeAddress(" 0xAbCdEf "))
	require.Equal(t, "", NormalizeAddress(""))
}

func TestTouches(t *testing.T) {
	t.Parallel()

	r := Record{
		From: "0x2a891118Cf3a8FdeBb00109ea3ed4E33B82D960f",
		To:   "0x04A8F2C8c8C6D3fd4b5e4d3D9e4B3C2a1B0c9d8E",
	}
	require.True(t, r.Touches("0x2A891118CF3A8FDEBB00109EA3ED4E33B82D960F"))
	require.True(t, r.Touches("0x04a8f2c8c8c6d3fd4b5e4d3d9e4b3c2a1b0c9d8e"))
	require.False(t, r.Touches("0x0000000000000000000000000000000000000001"))
	require.False(t, r.Touches(""))

	creation := Record{From: "0x2a891118Cf3a8FdeBb00109ea3ed4E33B82D960f"}
	require.False(t, creation.Touches(""))
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	submittedAt := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	pending := NewPending("0xAA", "0x01", "0x02", big.NewInt(10), submittedAt)
	require.Equal(t, StatePending, pending.State)
	require.Equal(t, uint64(PlaceholderGas), pending.Gas)
	require.Equal(t, uint64(0), pending.BlockNumber)
	require.Equal(t, submittedAt.UnixMilli(), pending.Timestamp)

	t.Run("authoritative data wins", func(t *testing.T) {
		t.Parallel()

		observed := Record{
			State:       StateConfirmed,
			Hash:        "0xaa",
			From:        "0x01",
			To:          "0x02",
			Value:       big.NewInt(10),
			Nonce:       7,
			BlockHash:   "0xBB",
			BlockNumber: 42,
			Gas:         30000,
			GasPrice:    big.NewInt(5),
			Timestamp:   1672531300000,
		}
		confirmed, err := Confirm(pending, observed)
		require.NoError(t, err)
		require.Equal(t, StateConfirmed, confirmed.State)
		require.Equal(t, uint64(7), confirmed.Nonce)
		require.Equal(t, uint64(30000), confirmed.Gas)
		require.Equal(t, uint64(42), confirmed.BlockNumber)
		require.Equal(t, "0xbb", confirmed.BlockHash)
		require.Equal(t, int64(1672531300000), confirmed.Timestamp)
	})

	t.Run("hash mismatch", func(t *testing.T) {
		t.Parallel()

		_, err := Confirm(pending, Record{State: StateConfirmed, Hash: "0xcc"})
		require.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("observed not confirmed", func(t *testing.T) {
		t.Parallel()

		_, err := Confirm(pending, pending)
		require.ErrorIs(t, err, ErrNotConfirmed)
	})
}

func TestSortByTimestampDesc(t *testing.T) {
	t.Parallel()

	records := []Record{
		{Hash: "0x01", Timestamp: 1000, BlockNumber: 1},
		{Hash: "0x03", Timestamp: 3000},
		{Hash: "0x02", Timestamp: 2000, BlockNumber: 2},
		{Hash: "0x04", Timestamp: 2000, BlockNumber: 3},
	}
	SortByTimestampDesc(records)

	hashes := make([]string, len(records))
	for i, r := range records {
		hashes[i] = r.Hash
	}
	require.Equal(t, []string{"0x03", "0x04", "0x02", "0x01"}, hashes)
}
