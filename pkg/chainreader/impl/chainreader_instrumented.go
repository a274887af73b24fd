package impl

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/textileio/go-walletsync/pkg/chainreader"
	"github.com/textileio/go-walletsync/pkg/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// InstrumentedChainReader is the instrumented version of a chainreader.NodeReader.
type InstrumentedChainReader struct {
	reader           chainreader.NodeReader
	callCount        instrument.Int64Counter
	latencyHistogram instrument.Int64Histogram
}

var _ chainreader.NodeReader = (*InstrumentedChainReader)(nil)

// NewInstrumentedChainReader creates a new instrumented chain reader.
func NewInstrumentedChainReader(reader chainreader.NodeReader) (*InstrumentedChainReader, error) {
	meter := global.MeterProvider().Meter("walletsync")
	callCount, err := meter.Int64Counter("walletsync.chainreader.call.count")
	if err != nil {
		return &InstrumentedChainReader{}, fmt.Errorf("registering call counter: %s", err)
	}
	latencyHistogram, err := meter.Int64Histogram("walletsync.chainreader.call.latency")
	if err != nil {
		return &InstrumentedChainReader{}, fmt.Errorf("registering latency histogram: %s", err)
	}

	return &InstrumentedChainReader{
		reader:           reader,
		callCount:        callCount,
		latencyHistogram: latencyHistogram,
	}, nil
}

// CurrentBlockHeight returns the number of the latest block.
func (r *InstrumentedChainReader) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	start := time.Now()
	height, err := r.reader.CurrentBlockHeight(ctx)
	r.record(ctx, "CurrentBlockHeight", start, err)
	return height, err
}

// GetBlock returns the block with the provided number.
func (r *InstrumentedChainReader) GetBlock(
	ctx context.Context, number uint64, includeTransactions bool,
) (*chainreader.Block, error) {
	start := time.Now()
	block, err := r.reader.GetBlock(ctx, number, includeTransactions)
	r.record(ctx, "GetBlock", start, err)
	return block, err
}

// GetBalance returns the balance of address.
func (r *InstrumentedChainReader) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	start := time.Now()
	balance, err := r.reader.GetBalance(ctx, address)
	r.record(ctx, "GetBalance", start, err)
	return balance, err
}

// IsListening returns true if the node is listening.
func (r *InstrumentedChainReader) IsListening(ctx context.Context) (bool, error) {
	start := time.Now()
	listening, err := r.reader.IsListening(ctx)
	r.record(ctx, "IsListening", start, err)
	return listening, err
}

// SyncProgress returns the sync progress of the node.
func (r *InstrumentedChainReader) SyncProgress(ctx context.Context) (*chainreader.SyncProgress, error) {
	start := time.Now()
	progress, err := r.reader.SyncProgress(ctx)
	r.record(ctx, "SyncProgress", start, err)
	return progress, err
}

// PeerCount returns the number of peers of the node.
func (r *InstrumentedChainReader) PeerCount(ctx context.Context) (uint64, error) {
	start := time.Now()
	peers, err := r.reader.PeerCount(ctx)
	r.record(ctx, "PeerCount", start, err)
	return peers, err
}

func (r *InstrumentedChainReader) record(ctx context.Context, method string, start time.Time, err error) {
	latency := time.Since(start).Milliseconds()

	attributes := append([]attribute.KeyValue{
		{Key: "method", Value: attribute.StringValue(method)},
		{Key: "success", Value: attribute.BoolValue(err == nil)},
	}, metrics.BaseAttrs...)

	r.callCount.Add(ctx, 1, attributes...)
	r.latencyHistogram.Record(ctx, latency, attributes...)
}
