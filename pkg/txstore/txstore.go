package txstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/textileio/go-walletsync/pkg/txn"
)

var (
	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrPartialWrite is returned when a batch write failed and was rolled back.
	ErrPartialWrite = errors.New("batch write failed")
)

// Table identifies one of the two logical transaction tables.
type Table int

const (
	// Confirmed holds transactions observed in mined blocks.
	Confirmed Table = iota
	// Pending holds transactions submitted locally and not yet observed on-chain.
	Pending
)

func (t Table) String() string {
	switch t {
	case Confirmed:
		return "confirmed"
	case Pending:
		return "pending"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Batch is the result of scanning a range of blocks for an address. It's applied atomically:
// confirmed records are written, pending records with a confirmed hash and retired pending records
// are deleted, and then the cursor is raised.
type Batch struct {
	Address       string
	Confirmed     []txn.Record
	RetirePending []string
	Cursor        uint64
}

// NodeSnapshot is the last observed status of the chain node.
type NodeSnapshot struct {
	Listening     bool
	Syncing       bool
	StartingBlock uint64
	CurrentBlock  uint64
	HighestBlock  uint64
	PeerCount     uint64
	ObservedAt    time.Time
}

// TxStore persists wallet transactions and sync cursors.
type TxStore interface {
	// ListAll lists every record of a table by insertion order.
	ListAll(ctx context.Context, table Table) ([]txn.Record, error)
	// ListByAddress lists the records of a table sent or received by address, by insertion order.
	ListByAddress(ctx context.Context, table Table, address string) ([]txn.Record, error)
	// GetByHash returns ErrNotFound if the hash isn't in the table.
	GetByHash(ctx context.Context, table Table, hash string) (txn.Record, error)
	// BatchWrite writes records keyed by hash. Existing hashes are kept as they are, and pending
	// records whose hash is already confirmed are skipped. Either all records are written or none.
	BatchWrite(ctx context.Context, table Table, records []txn.Record) error
	Delete(ctx context.Context, table Table, hash string) error

	// Apply persists the batch in a single transaction.
	Apply(ctx context.Context, batch Batch) error

	// GetCursor returns the highest block fully scanned for address, or zero if there's none.
	GetCursor(ctx context.Context, address string) (uint64, error)
	// SetCursor stores the cursor of address. A value lower than the stored one is ignored.
	SetCursor(ctx context.Context, address string, height uint64) error

	// AddWallet records address as watched. Adding a watched address is a no-op.
	AddWallet(ctx context.Context, address string) error
	// RemoveWallet forgets address. Its transactions and cursor are kept.
	RemoveWallet(ctx context.Context, address string) error
	// ListWallets lists the watched addresses in the order they were added.
	ListWallets(ctx context.Context) ([]string, error)

	GetNodeSnapshot(ctx context.Context) (NodeSnapshot, error)
	SetNodeSnapshot(ctx context.Context, snapshot NodeSnapshot) error

	Close() error
}

// CursorKey is the key under which the cursor of address is stored.
func CursorKey(address string) string {
	return "lastBlock_" + txn.NormalizeAddress(address)
}
