package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-walletsync/pkg/chainreader"
)

// EthClient is the subset of ethclient.Client methods used to read the chain.
// The go-ethereum simulated backend implements it too.
type EthClient interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// RPCCaller executes raw JSON-RPC calls. It's used for the net_* and eth_syncing namespaces.
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// EthereumReader implements chainreader.NodeReader on top of an Ethereum JSON-RPC client.
type EthereumReader struct {
	log    zerolog.Logger
	client EthClient
	rpc    RPCCaller
	signer types.Signer
}

var _ chainreader.NodeReader = (*EthereumReader)(nil)

// NewEthereumReader returns a reader for the chain with the provided chain id.
// If caller is nil, listening is probed with a header request and the node never reports syncing or peers.
func NewEthereumReader(client EthClient, caller RPCCaller, chainID int64) *EthereumReader {
	log := logger.With().
		Str("component", "chainreader").
		Int64("chain_id", chainID).
		Logger()

	return &EthereumReader{
		log:    log,
		client: client,
		rpc:    caller,
		signer: types.LatestSignerForChainID(big.NewInt(chainID)),
	}
}

// Dial connects to a node JSON-RPC endpoint. The returned func closes the connection.
func Dial(ctx context.Context, endpoint string, chainID int64) (*EthereumReader, func(), error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("dialing %s: %s", endpoint, err)
	}

	return NewEthereumReader(ethclient.NewClient(rpcClient), rpcClient, chainID), rpcClient.Close, nil
}

// CurrentBlockHeight returns the number of the latest block.
func (r *EthereumReader) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	h, err := r.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("get latest header: %s", err)
	}
	if h == nil {
		return 0, errors.New("node returned no latest header")
	}
	return h.Number.Uint64(), nil
}

// GetBlock returns the block with the provided number.
func (r *EthereumReader) GetBlock(ctx context.Context, number uint64, includeTransactions bool) (*chainreader.Block, error) {
	n := new(big.Int).SetUint64(number)
	if !includeTransactions {
		h, err := r.client.HeaderByNumber(ctx, n)
		if errors.Is(err, ethereum.NotFound) || (err == nil && h == nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("get header %d: %s", number, err)
		}
		return &chainreader.Block{
			Number:    h.Number.Uint64(),
			Hash:      h.Hash().Hex(),
			Timestamp: h.Time,
		}, nil
	}

	b, err := r.client.BlockByNumber(ctx, n)
	if errors.Is(err, ethereum.NotFound) || (err == nil && b == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get block %d: %s", number, err)
	}

	block := &chainreader.Block{
		Number:       b.NumberU64(),
		Hash:         b.Hash().Hex(),
		Timestamp:    b.Time(),
		Transactions: make([]chainreader.Transaction, 0, len(b.Transactions())),
	}
	for _, tx := range b.Transactions() {
		block.Transactions = append(block.Transactions, r.toTransaction(number, tx))
	}

	return block, nil
}

// GetBalance returns the balance in wei of address at the latest block.
func (r *EthereumReader) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	balance, err := r.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("get balance: %s", err)
	}
	return balance, nil
}

// IsListening returns true if the node is listening for network connections.
func (r *EthereumReader) IsListening(ctx context.Context) (bool, error) {
	if r.rpc == nil {
		if _, err := r.client.HeaderByNumber(ctx, nil); err != nil {
			return false, fmt.Errorf("probing node: %s", err)
		}
		return true, nil
	}

	var listening bool
	if err := r.rpc.CallContext(ctx, &listening, "net_listening"); err != nil {
		return false, fmt.Errorf("net_listening: %s", err)
	}
	return listening, nil
}

// SyncProgress returns the sync progress of the node, or nil if it isn't syncing.
func (r *EthereumReader) SyncProgress(ctx context.Context) (*chainreader.SyncProgress, error) {
	if r.rpc == nil {
		return nil, nil
	}

	var raw json.RawMessage
	if err := r.rpc.CallContext(ctx, &raw, "eth_syncing"); err != nil {
		return nil, fmt.Errorf("eth_syncing: %s", err)
	}
	// eth_syncing answers false when the node is in sync.
	if bytes.Equal(bytes.TrimSpace(raw), []byte("false")) || len(raw) == 0 {
		return nil, nil
	}
	var progress rpcSyncProgress
	if err := json.Unmarshal(raw, &progress); err != nil {
		return nil, fmt.Errorf("decoding eth_syncing result: %s", err)
	}

	return &chainreader.SyncProgress{
		StartingBlock: uint64(progress.StartingBlock),
		CurrentBlock:  uint64(progress.CurrentBlock),
		HighestBlock:  uint64(progress.HighestBlock),
		KnownStates:   uint64(progress.KnownStates),
		PulledStates:  uint64(progress.PulledStates),
	}, nil
}

// PeerCount returns the number of peers connected to the node.
func (r *EthereumReader) PeerCount(ctx context.Context) (uint64, error) {
	if r.rpc == nil {
		return 0, nil
	}

	var peers hexutil.Uint64
	if err := r.rpc.CallContext(ctx, &peers, "net_peerCount"); err != nil {
		return 0, fmt.Errorf("net_peerCount: %s", err)
	}
	return uint64(peers), nil
}

func (r *EthereumReader) toTransaction(blockNumber uint64, tx *types.Transaction) chainreader.Transaction {
	t := chainreader.Transaction{
		Hash:     tx.Hash().Hex(),
		Value:    tx.Value(),
		Nonce:    tx.Nonce(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice(),
		Input:    hexutil.Encode(tx.Data()),
	}
	if to := tx.To(); to != nil {
		t.To = to.Hex()
	}

	from, err := types.Sender(r.signer, tx)
	if err != nil {
		r.log.Warn().
			Err(err).
			Uint64("block_number", blockNumber).
			Str("hash", t.Hash).
			Msg("recovering transaction sender")
		return t
	}
	t.From = from.Hex()

	return t
}

type rpcSyncProgress struct {
	StartingBlock hexutil.Uint64 `json:"startingBlock"`
	CurrentBlock  hexutil.Uint64 `json:"currentBlock"`
	HighestBlock  hexutil.Uint64 `json:"highestBlock"`
	KnownStates   hexutil.Uint64 `json:"knownStates"`
	PulledStates  hexutil.Uint64 `json:"pulledStates"`
}
