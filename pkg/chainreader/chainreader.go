package chainreader

import (
	"context"
	"math/big"
)

// Block is a mined block. Transactions is empty when the block was fetched without them.
type Block struct {
	Number       uint64
	Hash         string
	Timestamp    uint64 // seconds
	Transactions []Transaction
}

// Transaction is a transaction included in a block.
type Transaction struct {
	Hash     string
	From     string
	To       string // empty for contract creations
	Value    *big.Int
	Nonce    uint64
	Gas      uint64
	GasPrice *big.Int
	Input    string
}

// SyncProgress describes how far a node is from the head of the chain while it's syncing.
type SyncProgress struct {
	StartingBlock uint64
	CurrentBlock  uint64
	HighestBlock  uint64
	KnownStates   uint64
	PulledStates  uint64
}

// ChainReader answers the questions the sync engine asks the chain.
// Every method may fail with a transport error.
type ChainReader interface {
	CurrentBlockHeight(ctx context.Context) (uint64, error)
	// GetBlock returns nil and no error if the block doesn't exist yet.
	GetBlock(ctx context.Context, number uint64, includeTransactions bool) (*Block, error)
	// GetBalance returns the balance of address in wei at the latest block.
	GetBalance(ctx context.Context, address string) (*big.Int, error)
	IsListening(ctx context.Context) (bool, error)
}

// NodeInfo reports the status of the node behind a ChainReader.
type NodeInfo interface {
	// SyncProgress returns nil if the node isn't syncing.
	SyncProgress(ctx context.Context) (*SyncProgress, error)
	PeerCount(ctx context.Context) (uint64, error)
}

// NodeReader is a ChainReader that also reports node status.
type NodeReader interface {
	ChainReader
	NodeInfo
}
