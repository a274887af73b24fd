package impl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-walletsync/pkg/blocksync"
	"github.com/textileio/go-walletsync/pkg/chainreader"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/instrument"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// flushTimeout bounds the store writes done after the pass context was canceled.
const flushTimeout = time.Second * 10

// Engine walks the chain looking for transactions of an address.
type Engine struct {
	log    zerolog.Logger
	reader chainreader.ChainReader
	store  txstore.TxStore
	config *blocksync.Config

	// Metrics
	mBaseLabels        []attribute.KeyValue
	mBlocksCounter     instrument.Int64Counter
	mTxnsCounter       instrument.Int64Counter
	mReconciledCounter instrument.Int64Counter
	mPassLatencyHist   instrument.Int64Histogram
	mLastScannedHeight atomic.Int64
}

var _ blocksync.Engine = (*Engine)(nil)

// New returns a new Engine.
func New(reader chainreader.ChainReader, store txstore.TxStore, opts ...blocksync.Option) (*Engine, error) {
	config := blocksync.DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying provided option: %s", err)
		}
	}

	log := logger.With().
		Str("component", "blocksync").
		Logger()
	e := &Engine{
		log:    log,
		reader: reader,
		store:  store,
		config: config,
	}
	if err := e.initMetrics(); err != nil {
		return nil, fmt.Errorf("initializing metrics instruments: %s", err)
	}

	return e, nil
}

// Pass scans from the stored cursor, minus the reorg overlap, up to the head of the chain.
func (e *Engine) Pass(ctx context.Context, address string, progress blocksync.ProgressFunc) (blocksync.Summary, error) {
	addr := txn.NormalizeAddress(address)
	skipped := blocksync.Summary{Address: addr, Skipped: true}

	listening, err := e.reader.IsListening(ctx)
	if err != nil {
		return skipped, fmt.Errorf("%w: %s", blocksync.ErrNodeUnavailable, err)
	}
	if !listening {
		return skipped, fmt.Errorf("%w: node isn't listening", blocksync.ErrNodeUnavailable)
	}

	head, err := e.reader.CurrentBlockHeight(ctx)
	if err != nil {
		return skipped, fmt.Errorf("%w: %s", blocksync.ErrNodeUnavailable, err)
	}
	cursor, err := e.store.GetCursor(ctx, addr)
	if err != nil {
		return skipped, fmt.Errorf("get cursor: %s", err)
	}

	var from, to uint64
	if cursor > e.config.ReorgOverlap {
		from = cursor - e.config.ReorgOverlap
	}
	if head+1 > e.config.MinBlockDepth {
		to = head + 1 - e.config.MinBlockDepth
	}

	return e.Sync(ctx, addr, from, to, progress)
}

// Sync scans the blocks in [fromBlock, toBlock) and then refreshes the balance.
func (e *Engine) Sync(
	ctx context.Context,
	address string,
	fromBlock, toBlock uint64,
	progress blocksync.ProgressFunc,
) (blocksync.Summary, error) {
	addr := txn.NormalizeAddress(address)
	if addr == "" {
		return blocksync.Summary{}, errors.New("address is empty")
	}

	start := time.Now()
	defer func() {
		e.mPassLatencyHist.Record(ctx, time.Since(start).Milliseconds(), e.mBaseLabels...)
	}()

	summary := blocksync.Summary{
		Address:   addr,
		FromBlock: fromBlock,
		ToBlock:   toBlock,
	}
	cursor, err := e.store.GetCursor(ctx, addr)
	if err != nil {
		return summary, fmt.Errorf("get cursor: %s", err)
	}
	summary.Cursor = cursor

	if toBlock > fromBlock {
		if err := e.walk(ctx, &summary, progress); err != nil {
			return summary, err
		}
	}

	balance, err := e.reader.GetBalance(ctx, addr)
	if err != nil {
		return summary, fmt.Errorf("get balance: %s", err)
	}
	summary.Balance = balance

	e.log.Debug().
		Str("address", addr).
		Uint64("from", fromBlock).
		Uint64("to", toBlock).
		Int("blocks", summary.BlocksScanned).
		Int("new_txns", summary.NewTxns).
		Int("reconciled", summary.Reconciled).
		Int64("took_ms", time.Since(start).Milliseconds()).
		Msg("sync pass completed")

	return summary, nil
}

type passState struct {
	address string
	known   map[string]struct{}
	seen    map[string]struct{}

	hasPending bool
}

func (e *Engine) walk(ctx context.Context, summary *blocksync.Summary, progress blocksync.ProgressFunc) error {
	confirmed, err := e.store.ListByAddress(ctx, txstore.Confirmed, summary.Address)
	if err != nil {
		return fmt.Errorf("list confirmed transactions: %s", err)
	}
	pending, err := e.store.ListByAddress(ctx, txstore.Pending, summary.Address)
	if err != nil {
		return fmt.Errorf("list pending transactions: %s", err)
	}

	state := &passState{
		address:    summary.Address,
		known:      make(map[string]struct{}, len(confirmed)),
		seen:       make(map[string]struct{}),
		hasPending: len(pending) > 0,
	}
	for _, r := range confirmed {
		state.known[txn.NormalizeHash(r.Hash)] = struct{}{}
	}

	target := summary.ToBlock - 1
	for groupStart := summary.FromBlock; groupStart < summary.ToBlock; {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sync canceled at block %d: %w", groupStart, err)
		}

		groupEnd := groupStart + e.groupSize(groupStart, summary.ToBlock, state.hasPending)
		if groupEnd > summary.ToBlock || groupEnd < groupStart {
			groupEnd = summary.ToBlock
		}

		blocks, fetchErrs, err := e.fetchGroup(ctx, groupStart, groupEnd)
		if err != nil {
			return fmt.Errorf("sync canceled at block %d: %w", groupStart, err)
		}

		var (
			observed  []txn.Record
			lastBlock uint64
			processed bool
			stopErr   error
		)
		for i, block := range blocks {
			number := groupStart + uint64(i)
			if err := ctx.Err(); err != nil {
				stopErr = fmt.Errorf("sync canceled at block %d: %w", number, err)
				break
			}
			if fetchErrs[i] != nil {
				stopErr = fmt.Errorf("fetching block %d: %s", number, fetchErrs[i])
				break
			}
			if block == nil {
				stopErr = fmt.Errorf("block %d isn't available", number)
				break
			}

			observed = append(observed, e.relevant(block, state, summary)...)
			processed, lastBlock = true, number
			summary.BlocksScanned++
			e.mBlocksCounter.Add(ctx, 1, e.mBaseLabels...)
			e.mLastScannedHeight.Store(int64(number))
			if progress != nil {
				progress(number, target)
			}
		}

		if processed {
			if err := e.flush(ctx, state, summary, observed, lastBlock); err != nil {
				return err
			}
		}
		if stopErr != nil {
			e.log.Warn().
				Err(stopErr).
				Str("address", summary.Address).
				Uint64("cursor", summary.Cursor).
				Msg("sync pass stopped")
			return stopErr
		}

		groupStart = groupEnd
	}

	return nil
}

func (e *Engine) groupSize(groupStart, end uint64, hasPending bool) uint64 {
	if hasPending || end-groupStart <= e.config.NearTipWindow {
		return e.config.NearTipGroupSize
	}
	return e.config.FarGroupSize
}

// fetchGroup fetches the blocks in [from, to) with bounded concurrency. Results are indexed by
// block offset. Fetches aren't canceled with ctx, but the results are abandoned if ctx is done first.
func (e *Engine) fetchGroup(ctx context.Context, from, to uint64) ([]*chainreader.Block, []error, error) {
	n := int(to - from)
	blocks := make([]*chainreader.Block, n)
	errs := make([]error, n)

	done := make(chan struct{})
	go func() {
		defer close(done)

		var g errgroup.Group
		g.SetLimit(e.config.FetchConcurrency)
		for i := 0; i < n; i++ {
			if ctx.Err() != nil {
				break
			}
			i := i
			g.Go(func() error {
				fctx, cancel := context.WithTimeout(context.Background(), e.config.FetchTimeout)
				defer cancel()
				blocks[i], errs[i] = e.reader.GetBlock(fctx, from+uint64(i), true)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		return blocks, errs, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// relevant returns the transactions of the block touching the address that weren't seen
// in this pass yet. Hashes already confirmed are returned too, so pending records can still be
// retired, but they aren't counted as new.
func (e *Engine) relevant(block *chainreader.Block, state *passState, summary *blocksync.Summary) []txn.Record {
	var records []txn.Record
	for _, tx := range block.Transactions {
		record := toRecord(block, tx)
		if !record.Touches(state.address) {
			continue
		}
		if _, ok := state.seen[record.Hash]; ok {
			continue
		}
		state.seen[record.Hash] = struct{}{}
		if _, ok := state.known[record.Hash]; !ok {
			summary.NewTxns++
			e.mTxnsCounter.Add(context.Background(), 1, e.mBaseLabels...)
		}
		records = append(records, record)
	}
	return records
}

// flush reconciles the observed records against the current pending ones and persists the result
// together with the cursor. It runs even if ctx was canceled, so processed blocks aren't lost.
func (e *Engine) flush(
	ctx context.Context,
	state *passState,
	summary *blocksync.Summary,
	observed []txn.Record,
	lastBlock uint64,
) error {
	fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	pending, err := e.store.ListByAddress(fctx, txstore.Pending, state.address)
	if err != nil {
		return fmt.Errorf("list pending transactions: %s", err)
	}
	r := blocksync.Reconcile(observed, pending)

	if err := e.store.Apply(fctx, txstore.Batch{
		Address:       state.address,
		Confirmed:     r.Confirmed,
		RetirePending: r.RetirePending,
		Cursor:        lastBlock,
	}); err != nil {
		return fmt.Errorf("applying batch up to block %d: %s", lastBlock, err)
	}

	for _, c := range r.Confirmed {
		state.known[c.Hash] = struct{}{}
	}
	state.hasPending = len(r.StillPending) > 0
	if lastBlock > summary.Cursor {
		summary.Cursor = lastBlock
	}
	summary.Reconciled += len(r.RetirePending)

	e.mReconciledCounter.Add(ctx, int64(len(r.RetirePending)), e.mBaseLabels...)

	return nil
}

func toRecord(block *chainreader.Block, tx chainreader.Transaction) txn.Record {
	return txn.Record{
		State:       txn.StateConfirmed,
		Hash:        tx.Hash,
		From:        tx.From,
		To:          tx.To,
		Value:       tx.Value,
		Nonce:       tx.Nonce,
		BlockHash:   block.Hash,
		BlockNumber: block.Number,
		Gas:         tx.Gas,
		GasPrice:    tx.GasPrice,
		Input:       tx.Input,
		Timestamp:   int64(block.Timestamp) * 1000,
	}.Normalized()
}
