package txn

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"
)

// State indicates whether a Record was observed in a mined block or only submitted locally.
type State int

const (
	// StatePending is a transaction submitted locally that wasn't observed on-chain yet.
	StatePending State = iota
	// StateConfirmed is a transaction observed included in a mined block.
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// PlaceholderGas is the gas limit assumed for a pending transaction when the submitter doesn't provide one.
const PlaceholderGas = 21000

var (
	// ErrHashMismatch is returned when confirming a pending record with a different transaction.
	ErrHashMismatch = errors.New("transaction hashes don't match")
	// ErrNotConfirmed is returned when the record used to confirm a pending one wasn't mined.
	ErrNotConfirmed = errors.New("observed record isn't confirmed")
)

// Record is a transaction relevant to a watched address.
// Confirmed records carry authoritative on-chain data. Pending records carry what was known at
// submission time: block fields are zero and nonce or gas may be placeholders.
type Record struct {
	State       State
	Hash        string
	From        string
	To          string
	Value       *big.Int
	Nonce       uint64
	BlockHash   string
	BlockNumber uint64
	Gas         uint64
	GasPrice    *big.Int
	Input       string

	// Timestamp is in epoch milliseconds. For confirmed records it's the block timestamp,
	// for pending records the submission time.
	Timestamp int64
}

// NewPending builds a pending record for a transaction that was just submitted.
func NewPending(hash, from, to string, value *big.Int, submittedAt time.Time) Record {
	if value == nil {
		value = big.NewInt(0)
	}
	return Record{
		State:     StatePending,
		Hash:      NormalizeHash(hash),
		From:      NormalizeAddress(from),
		To:        NormalizeAddress(to),
		Value:     new(big.Int).Set(value),
		Gas:       PlaceholderGas,
		GasPrice:  big.NewInt(0),
		Timestamp: submittedAt.UnixMilli(),
	}
}

// Confirm transitions a pending record into its confirmed counterpart.
// The result is the observed on-chain record: placeholder data from the pending record never survives.
func Confirm(pending, observed Record) (Record, error) {
	if NormalizeHash(pending.Hash) != NormalizeHash(observed.Hash) {
		return Record{}, ErrHashMismatch
	}
	if observed.State != StateConfirmed {
		return Record{}, ErrNotConfirmed
	}
	return observed.Normalized(), nil
}

// IsPending returns true if the record wasn't observed on-chain yet.
func (r Record) IsPending() bool {
	return r.State == StatePending
}

// Touches returns true if the address is the sender or the recipient of the transaction.
func (r Record) Touches(address string) bool {
	addr := NormalizeAddress(address)
	if addr == "" {
		return false
	}
	return NormalizeAddress(r.From) == addr || NormalizeAddress(r.To) == addr
}

// Normalized returns a copy of the record with normalized hash and addresses, and non-nil amounts.
func (r Record) Normalized() Record {
	r.Hash = NormalizeHash(r.Hash)
	r.From = NormalizeAddress(r.From)
	r.To = NormalizeAddress(r.To)
	r.BlockHash = NormalizeHash(r.BlockHash)
	if r.Value == nil {
		r.Value = big.NewInt(0)
	}
	if r.GasPrice == nil {
		r.GasPrice = big.NewInt(0)
	}
	return r
}

// NormalizeHash returns the lower-case 0x-prefixed form of a hex hash.
func NormalizeHash(hash string) string {
	return normalizeHex(hash)
}

// NormalizeAddress returns the lower-case 0x-prefixed form of a hex address.
// An empty address (e.g. the recipient of a contract creation) stays empty.
func NormalizeAddress(address string) string {
	return normalizeHex(address)
}

func normalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return s
}

// SortByTimestampDesc sorts records from the most recent to the oldest.
// Ties are broken by block number and then by hash, so the order is stable across calls.
func SortByTimestampDesc(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Timestamp != records[j].Timestamp {
			return records[i].Timestamp > records[j].Timestamp
		}
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber > records[j].BlockNumber
		}
		return records[i].Hash < records[j].Hash
	})
}
