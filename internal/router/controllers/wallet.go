package controllers

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/textileio/go-walletsync/internal/router/middlewares"
	serviceerrors "github.com/textileio/go-walletsync/pkg/errors"
	"github.com/textileio/go-walletsync/pkg/nodestatus"
	"github.com/textileio/go-walletsync/pkg/session"
	"github.com/textileio/go-walletsync/pkg/txn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Values of the filter query parameter of GetTransactions.
const (
	FilterSent     = "sent"
	FilterReceived = "received"
)

// SessionManager manages the sync sessions of the watched addresses.
type SessionManager interface {
	StartSession(ctx context.Context, address string) (*session.Controller, error)
	EndSession(ctx context.Context, address string) error
	Get(address string) (*session.Controller, bool)
	Addresses() []string
	TotalBalance() string
}

// NodeStatusProvider provides the last observed status of the chain node.
type NodeStatusProvider interface {
	Status() nodestatus.Status
}

// WalletController defines the HTTP handlers for interacting with wallets.
type WalletController struct {
	manager SessionManager
	node    NodeStatusProvider
}

// NewWalletController creates a new WalletController.
func NewWalletController(manager SessionManager, node NodeStatusProvider) *WalletController {
	return &WalletController{
		manager: manager,
		node:    node,
	}
}

// GetWallets handles the GET /api/v1/wallets call.
func (c *WalletController) GetWallets(rw http.ResponseWriter, _ *http.Request) {
	addresses := c.manager.Addresses()
	wallets := Wallets{
		Total:   c.manager.TotalBalance(),
		Wallets: make([]Wallet, 0, len(addresses)),
	}
	for _, address := range addresses {
		s, ok := c.manager.Get(address)
		if !ok {
			continue
		}
		wallets.Wallets = append(wallets.Wallets, toWallet(s.Status()))
	}

	writeJSON(rw, http.StatusOK, wallets)
}

// PutWallet handles the PUT /api/v1/wallets/{address} call. It starts watching the address.
func (c *WalletController) PutWallet(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := addressFromContext(ctx)

	_, existed := c.manager.Get(address)
	s, err := c.manager.StartSession(ctx, address)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("address", address).Msg("starting session")
		writeError(rw, http.StatusInternalServerError, "Failed to start session")
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(rw, status, toWallet(s.Status()))
}

// DeleteWallet handles the DELETE /api/v1/wallets/{address} call. It stops watching the address.
func (c *WalletController) DeleteWallet(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := addressFromContext(ctx)

	if err := c.manager.EndSession(ctx, address); err != nil {
		if errors.Is(err, session.ErrUnknownSession) {
			writeError(rw, http.StatusNotFound, "Wallet not found")
			return
		}
		log.Ctx(ctx).Error().Err(err).Str("address", address).Msg("ending session")
		writeError(rw, http.StatusInternalServerError, "Failed to end session")
		return
	}

	rw.WriteHeader(http.StatusNoContent)
}

// GetWallet handles the GET /api/v1/wallets/{address} call.
func (c *WalletController) GetWallet(rw http.ResponseWriter, r *http.Request) {
	s, ok := c.session(rw, r)
	if !ok {
		return
	}

	writeJSON(rw, http.StatusOK, toWallet(s.Status()))
}

// GetTransactions handles the GET /api/v1/wallets/{address}/transactions call.
// It returns the merged view from the most recent transaction to the oldest.
// The filter query parameter keeps only the sent or the received transactions.
func (c *WalletController) GetTransactions(rw http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	if filter != "" && filter != FilterSent && filter != FilterReceived {
		writeError(rw, http.StatusBadRequest, "Invalid filter, must be sent or received")
		return
	}
	s, ok := c.session(rw, r)
	if !ok {
		return
	}

	records := filterTransactions(s.MergedTransactions(), s.Address(), filter)
	txns := make([]Transaction, 0, len(records))
	for _, record := range records {
		txns = append(txns, toTransaction(record, s.IsStale(record)))
	}

	writeJSON(rw, http.StatusOK, txns)
}

// PostTransaction handles the POST /api/v1/wallets/{address}/transactions call.
// It records a transaction that was just submitted as pending.
func (c *WalletController) PostTransaction(rw http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s, ok := c.session(rw, r)
	if !ok {
		return
	}

	var body SubmittedTransaction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("decoding submitted transaction")
		writeError(rw, http.StatusBadRequest, "Invalid request body")
		return
	}
	record, err := toPendingRecord(body)
	if err != nil {
		writeError(rw, http.StatusBadRequest, "Invalid transaction: "+err.Error())
		return
	}

	err = s.NotifyTransactionSubmitted(ctx, record)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrAddressMismatch):
		writeError(rw, http.StatusBadRequest, "Transaction doesn't involve the wallet")
		return
	case errors.Is(err, session.ErrTornDown):
		writeError(rw, http.StatusNotFound, "Wallet not found")
		return
	default:
		log.Ctx(ctx).Error().Err(err).Str("hash", record.Hash).Msg("notifying submitted transaction")
		writeError(rw, http.StatusInternalServerError, "Failed to record transaction")
		return
	}

	writeJSON(rw, http.StatusAccepted, toTransaction(record.Normalized(), false))
}

// PostSync handles the POST /api/v1/wallets/{address}/sync call. It triggers a sync pass,
// unless one is already running.
func (c *WalletController) PostSync(rw http.ResponseWriter, r *http.Request) {
	s, ok := c.session(rw, r)
	if !ok {
		return
	}

	if !s.TriggerSync() {
		writeError(rw, http.StatusConflict, "A sync pass is already running")
		return
	}
	rw.WriteHeader(http.StatusAccepted)
}

// GetNode handles the GET /api/v1/node call.
func (c *WalletController) GetNode(rw http.ResponseWriter, _ *http.Request) {
	writeJSON(rw, http.StatusOK, toNode(c.node.Status()))
}

func (c *WalletController) session(rw http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	s, ok := c.manager.Get(addressFromContext(r.Context()))
	if !ok {
		writeError(rw, http.StatusNotFound, "Wallet not found")
		return nil, false
	}
	return s, true
}

// filterTransactions keeps the records sent by address, or received by it, depending on filter.
// An empty filter keeps every record.
func filterTransactions(records []txn.Record, address string, filter string) []txn.Record {
	if filter == "" {
		return records
	}
	addr := txn.NormalizeAddress(address)
	filtered := make([]txn.Record, 0, len(records))
	for _, r := range records {
		switch {
		case filter == FilterSent && txn.NormalizeAddress(r.From) == addr:
			filtered = append(filtered, r)
		case filter == FilterReceived && txn.NormalizeAddress(r.To) == addr:
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func toPendingRecord(body SubmittedTransaction) (txn.Record, error) {
	if body.Hash == "" {
		return txn.Record{}, errors.New("transaction hash is empty")
	}
	hash, err := hexutil.Decode(body.Hash)
	if err != nil || len(hash) != common.HashLength {
		return txn.Record{}, errors.New("transaction hash must be 32 bytes hex encoded")
	}
	value, ok := parseWei(body.Value)
	if !ok {
		return txn.Record{}, errors.New("invalid value")
	}
	gasPrice, ok := parseWei(body.GasPrice)
	if !ok {
		return txn.Record{}, errors.New("invalid gas price")
	}

	record := txn.NewPending(body.Hash, body.From, body.To, value, time.Now())
	record.Nonce = body.Nonce
	record.GasPrice = gasPrice
	record.Input = body.Input
	if body.Gas != 0 {
		record.Gas = body.Gas
	}
	if body.Timestamp != 0 {
		record.Timestamp = body.Timestamp
	}
	return record, nil
}

func parseWei(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func addressFromContext(ctx context.Context) string {
	address, _ := ctx.Value(middlewares.ContextKeyAddress).(string)
	return address
}

func writeJSON(rw http.ResponseWriter, status int, v interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, serviceerrors.ServiceError{Message: msg})
}
