package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/textileio/go-walletsync/pkg/blocksync"
	"github.com/textileio/go-walletsync/pkg/chainreader"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.uber.org/atomic"
)

var (
	// ErrTornDown is returned when operating on a session that was ended.
	ErrTornDown = errors.New("session was torn down")
	// ErrAddressMismatch is returned when a submitted transaction doesn't involve the session address.
	ErrAddressMismatch = errors.New("transaction doesn't involve the session address")
)

// State is the state of a sync session.
type State int32

const (
	// StateIdle means no pass is running.
	StateIdle State = iota
	// StateSyncing means a pass is running.
	StateSyncing
	// StateTornDown is terminal.
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Status is a snapshot of a session.
type Status struct {
	Address string
	State   State
	Cursor  uint64
	Balance string

	ProgressHeight uint64
	ProgressTarget uint64

	// LastPass is the summary of the last finished pass, if any.
	LastPass   *blocksync.Summary
	LastPassAt time.Time
	LastError  string

	Transactions int
}

// Controller runs the sync passes of one address and publishes its transactions and balance.
type Controller struct {
	log     zerolog.Logger
	address string
	engine  blocksync.Engine
	store   txstore.TxStore
	reader  chainreader.ChainReader
	config  *Config

	state     atomic.Int32
	triggerMu sync.Mutex
	passes    sync.WaitGroup

	// teardownCtx is canceled when the session ends. Passes run under it.
	teardownCtx    context.Context
	teardownCancel context.CancelFunc

	lock           sync.Mutex
	daemonCtx      context.Context
	daemonCancel   context.CancelFunc
	daemonCanceled chan struct{}

	progressHeight atomic.Uint64
	progressTarget atomic.Uint64

	viewMu     sync.RWMutex
	view       []txn.Record
	balance    *big.Int
	cursor     uint64
	lastPass   *blocksync.Summary
	lastPassAt time.Time
	lastErr    error

	// Metrics
	mBaseLabels      []attribute.KeyValue
	mPassCounter     instrument.Int64Counter
	mDroppedCounter  instrument.Int64Counter
	mPassLatencyHist instrument.Int64Histogram
}

// NewController returns an idle session for address. Passes don't run until Start or TriggerSync.
func NewController(
	address string,
	engine blocksync.Engine,
	store txstore.TxStore,
	reader chainreader.ChainReader,
	opts ...Option,
) (*Controller, error) {
	config := DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying provided option: %s", err)
		}
	}

	addr := txn.NormalizeAddress(address)
	if addr == "" {
		return nil, errors.New("address is empty")
	}

	log := logger.With().
		Str("component", "session").
		Str("address", addr).
		Logger()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		log:            log,
		address:        addr,
		engine:         engine,
		store:          store,
		reader:         reader,
		config:         config,
		teardownCtx:    ctx,
		teardownCancel: cancel,
		balance:        big.NewInt(0),
	}
	c.state.Store(int32(StateIdle))
	if err := c.initMetrics(); err != nil {
		cancel()
		return nil, fmt.Errorf("initializing metrics instruments: %s", err)
	}

	return c, nil
}

// Address returns the normalized address of the session.
func (c *Controller) Address() string {
	return c.address
}

// Start loads the persisted view, triggers a pass and starts the periodic trigger.
func (c *Controller) Start(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if State(c.state.Load()) == StateTornDown {
		return ErrTornDown
	}
	if c.daemonCtx != nil {
		return errors.New("session already started")
	}

	if err := c.refreshView(ctx); err != nil {
		return fmt.Errorf("loading transactions: %s", err)
	}

	c.log.Debug().Msg("starting daemon...")
	dctx, cls := context.WithCancel(c.teardownCtx)
	c.daemonCtx = dctx
	c.daemonCancel = cls
	c.daemonCanceled = make(chan struct{})
	go c.run(dctx, c.daemonCanceled)
	c.log.Info().Dur("interval", c.config.SyncInterval).Msg("started")

	return nil
}

// Stop tears the session down. The running pass, if any, is canceled and awaited.
// The session can't be started again.
func (c *Controller) Stop() {
	c.triggerMu.Lock()
	prev := State(c.state.Swap(int32(StateTornDown)))
	c.triggerMu.Unlock()
	if prev == StateTornDown {
		return
	}

	c.log.Debug().Msg("stopping session gracefully...")
	c.teardownCancel()

	c.lock.Lock()
	if c.daemonCtx != nil {
		c.daemonCancel()
		<-c.daemonCanceled
		c.daemonCtx = nil
		c.daemonCancel = nil
		c.daemonCanceled = nil
	}
	c.lock.Unlock()

	c.passes.Wait()
	c.log.Info().Msg("session stopped")
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		c.TriggerSync()
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.config.SyncInterval):
		}
	}
}

// TriggerSync starts a pass in the background if the session is idle.
// It returns false if the trigger was dropped because a pass is running or the session ended.
func (c *Controller) TriggerSync() bool {
	c.triggerMu.Lock()
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateSyncing)) {
		c.triggerMu.Unlock()
		c.mDroppedCounter.Add(context.Background(), 1, c.mBaseLabels...)
		c.log.Debug().Str("state", State(c.state.Load()).String()).Msg("sync trigger dropped")
		return false
	}
	c.passes.Add(1)
	c.triggerMu.Unlock()

	go func() {
		defer c.passes.Done()
		defer c.state.CompareAndSwap(int32(StateSyncing), int32(StateIdle))
		c.runPass()
	}()

	return true
}

func (c *Controller) runPass() {
	start := time.Now()
	c.progressHeight.Store(0)
	c.progressTarget.Store(0)

	summary, err := c.engine.Pass(c.teardownCtx, c.address, c.onProgress)

	result := "ok"
	switch {
	case err == nil:
		c.log.Debug().
			Uint64("cursor", summary.Cursor).
			Int("new_txns", summary.NewTxns).
			Int("reconciled", summary.Reconciled).
			Msg("sync pass finished")
	case errors.Is(err, blocksync.ErrNodeUnavailable):
		result = "skipped"
		c.log.Warn().Err(err).Msg("sync pass skipped")
	case errors.Is(err, context.Canceled):
		result = "canceled"
		c.log.Debug().Uint64("cursor", summary.Cursor).Msg("sync pass canceled")
	default:
		result = "error"
		c.log.Error().Err(err).Uint64("cursor", summary.Cursor).Msg("sync pass failed")
	}
	attrs := append([]attribute.KeyValue{attribute.String("result", result)}, c.mBaseLabels...)
	c.mPassCounter.Add(context.Background(), 1, attrs...)
	c.mPassLatencyHist.Record(context.Background(), time.Since(start).Milliseconds(), c.mBaseLabels...)

	if State(c.state.Load()) != StateTornDown {
		ctx, cls := context.WithTimeout(context.Background(), c.config.RefreshTimeout)
		if err := c.refreshView(ctx); err != nil {
			c.log.Error().Err(err).Msg("refreshing transactions view")
		}
		cls()
	}

	c.viewMu.Lock()
	c.lastPass = &summary
	c.lastPassAt = time.Now()
	c.lastErr = err
	if summary.Balance != nil {
		c.balance = new(big.Int).Set(summary.Balance)
	}
	c.viewMu.Unlock()
}

func (c *Controller) onProgress(height, target uint64) {
	c.progressHeight.Store(height)
	c.progressTarget.Store(target)
}

// NotifyTransactionSubmitted stores a pending record for a transaction that was just sent
// and refreshes the view and the balance.
func (c *Controller) NotifyTransactionSubmitted(ctx context.Context, record txn.Record) error {
	if State(c.state.Load()) == StateTornDown {
		return ErrTornDown
	}
	if record.Hash == "" {
		return errors.New("transaction hash is empty")
	}
	if !record.Touches(c.address) {
		return ErrAddressMismatch
	}

	record = record.Normalized()
	record.State = txn.StatePending
	record.BlockHash = ""
	record.BlockNumber = 0
	if record.Gas == 0 {
		record.Gas = txn.PlaceholderGas
	}
	if record.Timestamp == 0 {
		record.Timestamp = time.Now().UnixMilli()
	}

	if err := c.store.BatchWrite(ctx, txstore.Pending, []txn.Record{record}); err != nil {
		return fmt.Errorf("storing pending transaction: %s", err)
	}
	if err := c.refreshView(ctx); err != nil {
		return fmt.Errorf("refreshing transactions view: %s", err)
	}

	balance, err := c.reader.GetBalance(ctx, c.address)
	if err != nil {
		c.log.Warn().Err(err).Msg("refreshing balance")
		return nil
	}
	c.viewMu.Lock()
	c.balance = balance
	c.viewMu.Unlock()

	return nil
}

// MergedTransactions returns the confirmed and pending transactions of the address,
// from the most recent to the oldest.
func (c *Controller) MergedTransactions() []txn.Record {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return append([]txn.Record(nil), c.view...)
}

// IsStale returns true if record is pending for longer than the configured TTL.
func (c *Controller) IsStale(record txn.Record) bool {
	if c.config.PendingTTL == 0 || !record.IsPending() {
		return false
	}
	return time.Since(time.UnixMilli(record.Timestamp)) > c.config.PendingTTL
}

// CurrentBalance returns the last known balance in ether.
func (c *Controller) CurrentBalance() string {
	return FormatEther(c.BalanceWei())
}

// BalanceWei returns the last known balance in wei.
func (c *Controller) BalanceWei() *big.Int {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()
	return new(big.Int).Set(c.balance)
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.viewMu.RLock()
	defer c.viewMu.RUnlock()

	s := Status{
		Address:        c.address,
		State:          State(c.state.Load()),
		Cursor:         c.cursor,
		Balance:        FormatEther(c.balance),
		ProgressHeight: c.progressHeight.Load(),
		ProgressTarget: c.progressTarget.Load(),
		LastPassAt:     c.lastPassAt,
		Transactions:   len(c.view),
	}
	if c.lastPass != nil {
		summary := *c.lastPass
		s.LastPass = &summary
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// refreshView reloads the merged view and the cursor from the store.
// On failure the previous view stays published.
func (c *Controller) refreshView(ctx context.Context) error {
	confirmed, err := c.store.ListByAddress(ctx, txstore.Confirmed, c.address)
	if err != nil {
		return fmt.Errorf("list confirmed: %s", err)
	}
	pending, err := c.store.ListByAddress(ctx, txstore.Pending, c.address)
	if err != nil {
		return fmt.Errorf("list pending: %s", err)
	}
	cursor, err := c.store.GetCursor(ctx, c.address)
	if err != nil {
		return fmt.Errorf("get cursor: %s", err)
	}

	view := Merge(confirmed, pending)
	c.viewMu.Lock()
	c.view = view
	c.cursor = cursor
	c.viewMu.Unlock()

	return nil
}

// Merge returns the union of the confirmed and pending records sorted from the most recent to
// the oldest. A hash present in both is returned once, as confirmed.
func Merge(confirmed, pending []txn.Record) []txn.Record {
	merged := make([]txn.Record, 0, len(confirmed)+len(pending))
	seen := make(map[string]struct{}, len(confirmed)+len(pending))
	for _, r := range confirmed {
		hash := txn.NormalizeHash(r.Hash)
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		merged = append(merged, r)
	}
	for _, r := range pending {
		hash := txn.NormalizeHash(r.Hash)
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		merged = append(merged, r)
	}
	txn.SortByTimestampDesc(merged)

	return merged
}

// FormatEther formats an amount in wei as a decimal amount of ether.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
