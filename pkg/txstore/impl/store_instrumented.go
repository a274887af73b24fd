package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/textileio/go-walletsync/pkg/metrics"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// InstrumentedTxStore is the instrumented version of a txstore.TxStore.
type InstrumentedTxStore struct {
	store            txstore.TxStore
	callCount        instrument.Int64Counter
	latencyHistogram instrument.Int64Histogram
}

var _ txstore.TxStore = (*InstrumentedTxStore)(nil)

// NewInstrumentedTxStore creates a new instrumented transaction store.
func NewInstrumentedTxStore(store txstore.TxStore) (*InstrumentedTxStore, error) {
	meter := global.MeterProvider().Meter("walletsync")
	callCount, err := meter.Int64Counter("walletsync.txstore.call.count")
	if err != nil {
		return &InstrumentedTxStore{}, fmt.Errorf("registering call counter: %s", err)
	}
	latencyHistogram, err := meter.Int64Histogram("walletsync.txstore.call.latency")
	if err != nil {
		return &InstrumentedTxStore{}, fmt.Errorf("registering latency histogram: %s", err)
	}

	return &InstrumentedTxStore{
		store:            store,
		callCount:        callCount,
		latencyHistogram: latencyHistogram,
	}, nil
}

// ListAll lists every record of a table.
func (s *InstrumentedTxStore) ListAll(ctx context.Context, table txstore.Table) ([]txn.Record, error) {
	start := time.Now()
	records, err := s.store.ListAll(ctx, table)
	s.record(ctx, "ListAll", table, start, err)
	return records, err
}

// ListByAddress lists the records of a table that touch address.
func (s *InstrumentedTxStore) ListByAddress(
	ctx context.Context, table txstore.Table, address string,
) ([]txn.Record, error) {
	start := time.Now()
	records, err := s.store.ListByAddress(ctx, table, address)
	s.record(ctx, "ListByAddress", table, start, err)
	return records, err
}

// GetByHash gets a record by hash.
func (s *InstrumentedTxStore) GetByHash(ctx context.Context, table txstore.Table, hash string) (txn.Record, error) {
	start := time.Now()
	record, err := s.store.GetByHash(ctx, table, hash)
	s.record(ctx, "GetByHash", table, start, err)
	return record, err
}

// BatchWrite writes records.
func (s *InstrumentedTxStore) BatchWrite(ctx context.Context, table txstore.Table, records []txn.Record) error {
	start := time.Now()
	err := s.store.BatchWrite(ctx, table, records)
	s.record(ctx, "BatchWrite", table, start, err)
	return err
}

// Delete deletes a record.
func (s *InstrumentedTxStore) Delete(ctx context.Context, table txstore.Table, hash string) error {
	start := time.Now()
	err := s.store.Delete(ctx, table, hash)
	s.record(ctx, "Delete", table, start, err)
	return err
}

// Apply applies a sync batch.
func (s *InstrumentedTxStore) Apply(ctx context.Context, batch txstore.Batch) error {
	start := time.Now()
	err := s.store.Apply(ctx, batch)
	s.record(ctx, "Apply", txstore.Confirmed, start, err)
	return err
}

// GetCursor gets the cursor of address.
func (s *InstrumentedTxStore) GetCursor(ctx context.Context, address string) (uint64, error) {
	start := time.Now()
	height, err := s.store.GetCursor(ctx, address)
	s.record(ctx, "GetCursor", -1, start, err)
	return height, err
}

// SetCursor raises the cursor of address.
func (s *InstrumentedTxStore) SetCursor(ctx context.Context, address string, height uint64) error {
	start := time.Now()
	err := s.store.SetCursor(ctx, address, height)
	s.record(ctx, "SetCursor", -1, start, err)
	return err
}

// AddWallet records a watched address.
func (s *InstrumentedTxStore) AddWallet(ctx context.Context, address string) error {
	start := time.Now()
	err := s.store.AddWallet(ctx, address)
	s.record(ctx, "AddWallet", -1, start, err)
	return err
}

// RemoveWallet forgets a watched address.
func (s *InstrumentedTxStore) RemoveWallet(ctx context.Context, address string) error {
	start := time.Now()
	err := s.store.RemoveWallet(ctx, address)
	s.record(ctx, "RemoveWallet", -1, start, err)
	return err
}

// ListWallets lists the watched addresses.
func (s *InstrumentedTxStore) ListWallets(ctx context.Context) ([]string, error) {
	start := time.Now()
	addrs, err := s.store.ListWallets(ctx)
	s.record(ctx, "ListWallets", -1, start, err)
	return addrs, err
}

// GetNodeSnapshot gets the last node status.
func (s *InstrumentedTxStore) GetNodeSnapshot(ctx context.Context) (txstore.NodeSnapshot, error) {
	start := time.Now()
	snapshot, err := s.store.GetNodeSnapshot(ctx)
	s.record(ctx, "GetNodeSnapshot", -1, start, err)
	return snapshot, err
}

// SetNodeSnapshot replaces the last node status.
func (s *InstrumentedTxStore) SetNodeSnapshot(ctx context.Context, snapshot txstore.NodeSnapshot) error {
	start := time.Now()
	err := s.store.SetNodeSnapshot(ctx, snapshot)
	s.record(ctx, "SetNodeSnapshot", -1, start, err)
	return err
}

// Close closes the store.
func (s *InstrumentedTxStore) Close() error {
	return s.store.Close()
}

func (s *InstrumentedTxStore) record(
	ctx context.Context, method string, table txstore.Table, start time.Time, err error,
) {
	latency := time.Since(start).Milliseconds()

	attributes := append([]attribute.KeyValue{
		{Key: "method", Value: attribute.StringValue(method)},
		{Key: "success", Value: attribute.BoolValue(err == nil)},
	}, metrics.BaseAttrs...)
	if table >= 0 {
		attributes = append(attributes, attribute.String("table", table.String()))
	}

	s.callCount.Add(ctx, 1, attributes...)
	s.latencyHistogram.Record(ctx, latency, attributes...)
}
