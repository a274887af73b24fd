package controllers

import (
	"time"

	"github.com/textileio/go-walletsync/pkg/blocksync"
	"github.com/textileio/go-walletsync/pkg/nodestatus"
	"github.com/textileio/go-walletsync/pkg/session"
	"github.com/textileio/go-walletsync/pkg/txn"
)

// Wallets is the response of the wallets listing.
type Wallets struct {
	Total   string   `json:"total"`
	Wallets []Wallet `json:"wallets"`
}

// Wallet is the status of a watched address.
type Wallet struct {
	Address        string       `json:"address"`
	Balance        string       `json:"balance"`
	State          string       `json:"state"`
	Cursor         uint64       `json:"cursor"`
	ProgressHeight uint64       `json:"progress_height,omitempty"`
	ProgressTarget uint64       `json:"progress_target,omitempty"`
	Transactions   int          `json:"transactions"`
	LastPass       *PassSummary `json:"last_pass,omitempty"`
	LastPassAt     *time.Time   `json:"last_pass_at,omitempty"`
	LastError      string       `json:"last_error,omitempty"`
}

// PassSummary describes the last sync pass of a wallet.
type PassSummary struct {
	FromBlock     uint64 `json:"from_block"`
	ToBlock       uint64 `json:"to_block"`
	BlocksScanned int    `json:"blocks_scanned"`
	NewTxns       int    `json:"new_txns"`
	Reconciled    int    `json:"reconciled"`
	Skipped       bool   `json:"skipped,omitempty"`
}

// Transaction is an entry of the merged transactions view.
type Transaction struct {
	Hash        string `json:"hash"`
	State       string `json:"state"`
	Stale       bool   `json:"stale,omitempty"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Nonce       uint64 `json:"nonce"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Gas         uint64 `json:"gas"`
	GasPrice    string `json:"gas_price"`
	Input       string `json:"input,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// SubmittedTransaction is the body of a transaction submission notice.
// Amounts are decimal strings in wei.
type SubmittedTransaction struct {
	Hash      string `json:"hash"`
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Nonce     uint64 `json:"nonce"`
	Gas       uint64 `json:"gas"`
	GasPrice  string `json:"gas_price"`
	Input     string `json:"input"`
	Timestamp int64  `json:"timestamp"`
}

// Node is the status of the chain node.
type Node struct {
	Listening     bool      `json:"listening"`
	Syncing       bool      `json:"syncing"`
	StartingBlock uint64    `json:"starting_block"`
	CurrentBlock  uint64    `json:"current_block"`
	HighestBlock  uint64    `json:"highest_block"`
	PeerCount     uint64    `json:"peer_count"`
	Percentage    float64   `json:"percentage"`
	Ready         bool      `json:"ready"`
	ObservedAt    time.Time `json:"observed_at"`
}

func toWallet(s session.Status) Wallet {
	w := Wallet{
		Address:      s.Address,
		Balance:      s.Balance,
		State:        s.State.String(),
		Cursor:       s.Cursor,
		Transactions: s.Transactions,
		LastError:    s.LastError,
	}
	if s.State == session.StateSyncing {
		w.ProgressHeight = s.ProgressHeight
		w.ProgressTarget = s.ProgressTarget
	}
	if s.LastPass != nil {
		w.LastPass = toPassSummary(*s.LastPass)
		lastPassAt := s.LastPassAt
		w.LastPassAt = &lastPassAt
	}
	return w
}

func toPassSummary(s blocksync.Summary) *PassSummary {
	return &PassSummary{
		FromBlock:     s.FromBlock,
		ToBlock:       s.ToBlock,
		BlocksScanned: s.BlocksScanned,
		NewTxns:       s.NewTxns,
		Reconciled:    s.Reconciled,
		Skipped:       s.Skipped,
	}
}

func toTransaction(r txn.Record, stale bool) Transaction {
	t := Transaction{
		Hash:        r.Hash,
		State:       r.State.String(),
		Stale:       stale,
		From:        r.From,
		To:          r.To,
		Value:       "0",
		Nonce:       r.Nonce,
		BlockHash:   r.BlockHash,
		BlockNumber: r.BlockNumber,
		Gas:         r.Gas,
		GasPrice:    "0",
		Input:       r.Input,
		Timestamp:   r.Timestamp,
	}
	if r.Value != nil {
		t.Value = r.Value.String()
	}
	if r.GasPrice != nil {
		t.GasPrice = r.GasPrice.String()
	}
	return t
}

func toNode(s nodestatus.Status) Node {
	return Node{
		Listening:     s.Listening,
		Syncing:       s.Syncing,
		StartingBlock: s.StartingBlock,
		CurrentBlock:  s.CurrentBlock,
		HighestBlock:  s.HighestBlock,
		PeerCount:     s.PeerCount,
		Percentage:    s.Percentage(),
		Ready:         s.Ready(),
		ObservedAt:    s.ObservedAt,
	}
}
