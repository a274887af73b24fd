package impl

import (
	"context"
	"fmt"

	"github.com/textileio/go-walletsync/pkg/metrics"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

func (e *Engine) initMetrics() error {
	meter := global.MeterProvider().Meter("walletsync")
	e.mBaseLabels = metrics.BaseAttrs

	// Async instruments.
	mHeight, err := meter.Int64ObservableGauge("walletsync.blocksync.height")
	if err != nil {
		return fmt.Errorf("creating height gauge: %s", err)
	}
	if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		o.ObserveInt64(mHeight, e.mLastScannedHeight.Load(), e.mBaseLabels...)
		return nil
	}, []instrument.Asynchronous{mHeight}...); err != nil {
		return fmt.Errorf("registering callback on instruments: %s", err)
	}

	// Sync instruments.
	e.mBlocksCounter, err = meter.Int64Counter("walletsync.blocksync.blocks.count")
	if err != nil {
		return fmt.Errorf("creating blocks counter: %s", err)
	}
	e.mTxnsCounter, err = meter.Int64Counter("walletsync.blocksync.txns.count")
	if err != nil {
		return fmt.Errorf("creating txns counter: %s", err)
	}
	e.mReconciledCounter, err = meter.Int64Counter("walletsync.blocksync.reconciled.count")
	if err != nil {
		return fmt.Errorf("creating reconciled counter: %s", err)
	}
	e.mPassLatencyHist, err = meter.Int64Histogram("walletsync.blocksync.pass.latency")
	if err != nil {
		return fmt.Errorf("creating pass latency histogram: %s", err)
	}

	return nil
}
