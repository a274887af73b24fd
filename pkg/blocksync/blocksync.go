package blocksync

import (
	"context"
	"errors"
	"math/big"

	"github.com/textileio/go-walletsync/pkg/txn"
)

// ErrNodeUnavailable is returned when a pass is skipped because the node can't be queried.
var ErrNodeUnavailable = errors.New("node unavailable")

// ProgressFunc is called after each processed block with its number and the last block of the scanned range.
type ProgressFunc func(height, target uint64)

// Summary describes the outcome of a sync pass.
type Summary struct {
	Address string

	// Skipped is true if the node couldn't be queried and nothing was scanned.
	Skipped bool

	// FromBlock and ToBlock delimit the scanned range [FromBlock, ToBlock).
	FromBlock uint64
	ToBlock   uint64

	// Cursor is the highest block fully scanned after the pass.
	Cursor        uint64
	BlocksScanned int
	NewTxns       int
	Reconciled    int

	// Balance is the chain balance in wei fetched after the walk. It's nil if the walk didn't complete.
	Balance *big.Int
}

// Engine discovers the transactions of an address by walking the chain.
type Engine interface {
	// Sync scans the blocks in [fromBlock, toBlock), persisting relevant transactions and the cursor,
	// and then refreshes the balance. An empty range only refreshes the balance.
	Sync(ctx context.Context, address string, fromBlock, toBlock uint64, progress ProgressFunc) (Summary, error)

	// Pass scans from the stored cursor to the head of the chain.
	Pass(ctx context.Context, address string, progress ProgressFunc) (Summary, error)
}

// Reconciliation is the partition produced by Reconcile.
type Reconciliation struct {
	// Confirmed are the records to write to the confirmed table.
	Confirmed []txn.Record
	// RetirePending are the normalized hashes of the pending records to delete.
	RetirePending []string
	// StillPending are the pending records without a confirmed counterpart.
	StillPending []txn.Record
}

// Reconcile matches newly observed confirmed transactions against the pending records by hash.
// A matched pending record is replaced by its confirmed counterpart and retired. Observed records
// without a match are confirmed directly. Pending records without a match stay pending.
func Reconcile(observed, pending []txn.Record) Reconciliation {
	pendingByHash := make(map[string]txn.Record, len(pending))
	for _, p := range pending {
		pendingByHash[txn.NormalizeHash(p.Hash)] = p
	}

	var r Reconciliation
	retired := make(map[string]struct{})
	written := make(map[string]struct{}, len(observed))
	for _, o := range observed {
		hash := txn.NormalizeHash(o.Hash)
		if _, ok := written[hash]; ok {
			continue
		}

		record := o.Normalized()
		if p, ok := pendingByHash[hash]; ok {
			confirmed, err := txn.Confirm(p, o)
			if err == nil {
				record = confirmed
				if _, ok := retired[hash]; !ok {
					r.RetirePending = append(r.RetirePending, hash)
					retired[hash] = struct{}{}
				}
			}
		}
		written[hash] = struct{}{}
		r.Confirmed = append(r.Confirmed, record)
	}

	for _, p := range pending {
		if _, ok := retired[txn.NormalizeHash(p.Hash)]; !ok {
			r.StillPending = append(r.StillPending, p)
		}
	}

	return r
}
