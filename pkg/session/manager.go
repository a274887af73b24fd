package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"github.com/textileio/go-walletsync/pkg/blocksync"
	"github.com/textileio/go-walletsync/pkg/chainreader"
	"github.com/textileio/go-walletsync/pkg/metrics"
	"github.com/textileio/go-walletsync/pkg/txn"
	"github.com/textileio/go-walletsync/pkg/txstore"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/global"
	"go.opentelemetry.io/otel/metric/instrument"
)

// ErrUnknownSession is returned when there's no session for an address.
var ErrUnknownSession = errors.New("no session for address")

// Manager owns one session per watched address.
type Manager struct {
	log    zerolog.Logger
	engine blocksync.Engine
	store  txstore.TxStore
	reader chainreader.ChainReader
	opts   []Option

	mu       sync.RWMutex
	sessions map[string]*Controller
}

// NewManager returns a manager without sessions. opts are applied to every session.
func NewManager(
	engine blocksync.Engine,
	store txstore.TxStore,
	reader chainreader.ChainReader,
	opts ...Option,
) (*Manager, error) {
	// Validate the options once so StartSession can't fail because of them.
	config := DefaultConfig()
	for _, o := range opts {
		if err := o(config); err != nil {
			return nil, fmt.Errorf("applying provided option: %s", err)
		}
	}

	m := &Manager{
		log:      logger.With().Str("component", "sessionmanager").Logger(),
		engine:   engine,
		store:    store,
		reader:   reader,
		opts:     opts,
		sessions: make(map[string]*Controller),
	}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("initializing metrics instruments: %s", err)
	}

	return m, nil
}

// StartSession starts watching address. If a session already exists it's returned as is.
func (m *Manager) StartSession(ctx context.Context, address string) (*Controller, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}
	addr := txn.NormalizeAddress(address)

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.sessions[addr]; ok {
		return c, nil
	}
	c, err := NewController(addr, m.engine, m.store, m.reader, m.opts...)
	if err != nil {
		return nil, fmt.Errorf("creating session: %s", err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting session: %s", err)
	}
	if err := m.store.AddWallet(ctx, addr); err != nil {
		c.Stop()
		return nil, fmt.Errorf("persisting wallet: %s", err)
	}
	m.sessions[addr] = c
	m.log.Info().Str("address", addr).Msg("session started")

	return c, nil
}

// RestoreSessions starts a session for every persisted wallet and returns how many were started.
func (m *Manager) RestoreSessions(ctx context.Context) (int, error) {
	addrs, err := m.store.ListWallets(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing wallets: %s", err)
	}
	for _, addr := range addrs {
		if _, err := m.StartSession(ctx, addr); err != nil {
			return 0, fmt.Errorf("restoring session %s: %s", addr, err)
		}
	}

	return len(addrs), nil
}

// EndSession tears down the session of address, waits for its pass to stop and forgets the wallet.
// Its transactions and cursor stay in the store, so watching it again resumes where it left off.
func (m *Manager) EndSession(ctx context.Context, address string) error {
	addr := txn.NormalizeAddress(address)

	m.mu.Lock()
	c, ok := m.sessions[addr]
	delete(m.sessions, addr)
	m.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}

	c.Stop()
	if err := m.store.RemoveWallet(ctx, addr); err != nil {
		return fmt.Errorf("forgetting wallet: %s", err)
	}
	m.log.Info().Str("address", addr).Msg("session ended")

	return nil
}

// Get returns the session of address.
func (m *Manager) Get(address string) (*Controller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[txn.NormalizeAddress(address)]
	return c, ok
}

// Addresses returns the watched addresses in lexicographic order.
func (m *Manager) Addresses() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	addrs := make([]string, 0, len(m.sessions))
	for addr := range m.sessions {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// TotalBalance returns the sum of the balances of every session in ether.
func (m *Manager) TotalBalance() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := big.NewInt(0)
	for _, c := range m.sessions {
		total.Add(total, c.BalanceWei())
	}
	return FormatEther(total)
}

// Close ends every session. The wallets stay persisted.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Controller)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range sessions {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			c.Stop()
		}(c)
	}
	wg.Wait()
}

func (m *Manager) initMetrics() error {
	meter := global.MeterProvider().Meter("walletsync")

	mSessions, err := meter.Int64ObservableGauge("walletsync.session.active")
	if err != nil {
		return fmt.Errorf("creating sessions gauge: %s", err)
	}
	if _, err := meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		o.ObserveInt64(mSessions, int64(len(m.sessions)), metrics.BaseAttrs...)
		return nil
	}, []instrument.Asynchronous{mSessions}...); err != nil {
		return fmt.Errorf("registering callback on instruments: %s", err)
	}

	return nil
}
