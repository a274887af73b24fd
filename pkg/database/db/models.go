package db

// Transaction is a row of confirmed_txs or pending_txs.
type Transaction struct {
	ID          int64
	Hash        string
	FromAddress string
	ToAddress   string
	Value       string
	Nonce       int64
	BlockHash   string
	BlockNumber int64
	Gas         int64
	GasPrice    string
	Input       string
	Timestamp   int64
}

// NodeSnapshot is the single row of node_snapshot.
type NodeSnapshot struct {
	Listening     bool
	Syncing       bool
	StartingBlock int64
	CurrentBlock  int64
	HighestBlock  int64
	PeerCount     int64
	ObservedAt    int64
}
