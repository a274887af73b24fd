package nodestatus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-walletsync/pkg/chainreader"
	"github.com/textileio/go-walletsync/pkg/metrics"
	"github.com/textileio/go-walletsync/pkg/txstore"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

const (
	// ReadyPercentage is the sync progress from which the node is considered ready.
	ReadyPercentage = 98
	// ReadyMinPeers is the number of peers a node that isn't syncing needs to be considered ready.
	ReadyMinPeers = 3

	defaultPollInterval = time.Second * 15
	pollTimeout         = time.Second * 10
)

// Status is the observed status of the chain node.
type Status txstore.NodeSnapshot

// Percentage returns how far the node is in its sync, from 0 to 100.
func (s Status) Percentage() float64 {
	if !s.Listening {
		return 0
	}
	if !s.Syncing {
		return 100
	}
	if s.HighestBlock == 0 {
		return 0
	}
	p := float64(s.CurrentBlock) / float64(s.HighestBlock) * 100
	if p > 100 {
		return 100
	}
	return p
}

// Ready returns true if the node is close enough to the head of the chain to sync wallets.
func (s Status) Ready() bool {
	if !s.Listening {
		return false
	}
	if s.Syncing {
		return s.Percentage() >= ReadyPercentage
	}
	return s.PeerCount >= ReadyMinPeers && s.CurrentBlock > 0
}

// Monitor polls the status of the chain node.
type Monitor struct {
	log      zerolog.Logger
	reader   chainreader.NodeReader
	store    txstore.TxStore
	interval time.Duration

	mu     sync.RWMutex
	status Status

	// Metrics
	mBaseLabels []attribute.KeyValue
}

// NewMonitor returns a monitor polling reader every interval. A zero interval uses the default.
func NewMonitor(reader chainreader.NodeReader, store txstore.TxStore, interval time.Duration) (*Monitor, error) {
	if interval == 0 {
		interval = defaultPollInterval
	}
	if interval < 0 {
		return nil, errors.New("interval cannot be negative")
	}

	m := &Monitor{
		log:      logger.With().Str("component", "nodestatus").Logger(),
		reader:   reader,
		store:    store,
		interval: interval,
	}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("initializing metrics: %s", err)
	}

	return m, nil
}

// Status returns the last observed status.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Run serves the persisted status and polls the node until the provided ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	m.log.Info().Dur("interval", m.interval).Msg("starting node status monitor...")

	snapshot, err := m.store.GetNodeSnapshot(ctx)
	switch {
	case errors.Is(err, txstore.ErrNotFound):
	case err != nil:
		m.log.Warn().Err(err).Msg("loading persisted node status")
	default:
		m.mu.Lock()
		if m.status.ObservedAt.IsZero() {
			m.status = Status(snapshot)
		}
		m.mu.Unlock()
	}

	if err := m.Poll(ctx); err != nil {
		m.log.Error().Err(err).Msg("node status poll failed")
	}
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("closing gracefully...")
			return
		case <-time.After(m.interval):
			if err := m.Poll(ctx); err != nil {
				m.log.Error().Err(err).Msg("node status poll failed")
			}
		}
	}
}

// Poll asks the node for its status, and publishes and persists the result.
// A node that can't be reached is published as not listening.
func (m *Monitor) Poll(ctx context.Context) error {
	ctx, cls := context.WithTimeout(ctx, pollTimeout)
	defer cls()

	status, pollErr := m.poll(ctx)
	status.ObservedAt = time.Now().UTC()

	m.mu.Lock()
	wasReady := m.status.Ready()
	m.status = status
	m.mu.Unlock()
	if ready := status.Ready(); ready != wasReady {
		m.log.Info().
			Bool("ready", ready).
			Float64("percentage", status.Percentage()).
			Uint64("peers", status.PeerCount).
			Msg("node readiness changed")
	}

	if err := m.store.SetNodeSnapshot(ctx, txstore.NodeSnapshot(status)); err != nil {
		return fmt.Errorf("persisting node status: %s", err)
	}

	return pollErr
}

func (m *Monitor) poll(ctx context.Context) (Status, error) {
	var status Status

	listening, err := m.reader.IsListening(ctx)
	if err != nil {
		return status, fmt.Errorf("is listening: %s", err)
	}
	status.Listening = listening
	if !listening {
		return status, nil
	}

	peers, err := m.reader.PeerCount(ctx)
	if err != nil {
		return status, fmt.Errorf("peer count: %s", err)
	}
	status.PeerCount = peers

	progress, err := m.reader.SyncProgress(ctx)
	if err != nil {
		return status, fmt.Errorf("sync progress: %s", err)
	}
	if progress != nil {
		status.Syncing = true
		status.StartingBlock = progress.StartingBlock
		status.CurrentBlock = progress.CurrentBlock
		status.HighestBlock = progress.HighestBlock
		return status, nil
	}

	head, err := m.reader.CurrentBlockHeight(ctx)
	if err != nil {
		return status, fmt.Errorf("current block height: %s", err)
	}
	status.CurrentBlock = head
	status.HighestBlock = head

	return status, nil
}

func (m *Monitor) initMetrics() error {
	meter := global.MeterProvider().Meter("walletsync")
	m.mBaseLabels = metrics.BaseAttrs

	mPeers, err := meter.Int64ObservableGauge("walletsync.node.peers")
	if err != nil {
		return fmt.Errorf("creating peers gauge: %s", err)
	}
	mCurrentBlock, err := meter.Int64ObservableGauge("walletsync.node.current_block")
	if err != nil {
		return fmt.Errorf("creating current block gauge: %s", err)
	}
	mReady, err := meter.Int64ObservableGauge("walletsync.node.ready")
	if err != nil {
		return fmt.Errorf("creating ready gauge: %s", err)
	}

	if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		s := m.Status()
		var ready int64
		if s.Ready() {
			ready = 1
		}
		o.ObserveInt64(mPeers, int64(s.PeerCount), m.mBaseLabels...)
		o.ObserveInt64(mCurrentBlock, int64(s.CurrentBlock), m.mBaseLabels...)
		o.ObserveInt64(mReady, ready, m.mBaseLabels...)
		return nil
	}, []instrument.Asynchronous{mPeers, mCurrentBlock, mReady}...); err != nil {
		return fmt.Errorf("registering callback on instruments: %s", err)
	}

	return nil
}
