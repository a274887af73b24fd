package session

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	blocksyncimpl "github.com/textileio/go-walletsync/pkg/blocksync/impl"
	"github.com/textileio/go-walletsync/tests"
)

func TestManager(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(20)
	chain.SetBalance(alice, tests.OneEther)
	chain.SetBalance(bob, big.NewInt(25e16))
	chain.AddTransaction(4, 1, alice, bob, 1)
	store := newStore(t)
	engine, err := blocksyncimpl.New(chain, store)
	require.NoError(t, err)

	m, err := NewManager(engine, store, chain, WithSyncInterval(time.Hour))
	require.NoError(t, err)
	t.Cleanup(m.Close)

	a, err := m.StartSession(ctx, "0x"+strings.ToUpper(alice[2:]))
	require.NoError(t, err)
	again, err := m.StartSession(ctx, alice)
	require.NoError(t, err)
	require.Same(t, a, again)

	_, err = m.StartSession(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, []string{bob, alice}, m.Addresses())

	require.Eventually(t, func() bool {
		return m.TotalBalance() == "1.25"
	}, 5*time.Second, 10*time.Millisecond)

	got, ok := m.Get(alice)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return len(got.MergedTransactions()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.EndSession(ctx, bob))
	require.ErrorIs(t, m.EndSession(ctx, bob), ErrUnknownSession)
	_, ok = m.Get(bob)
	require.False(t, ok)
	require.Equal(t, []string{alice}, m.Addresses())
	require.Equal(t, "1", m.TotalBalance())

	_, err = m.StartSession(ctx, "not-an-address")
	require.Error(t, err)
}

func TestManagerRestoreSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(10)
	store := newStore(t)
	engine, err := blocksyncimpl.New(chain, store)
	require.NoError(t, err)

	m, err := NewManager(engine, store, chain, WithSyncInterval(time.Hour))
	require.NoError(t, err)
	_, err = m.StartSession(ctx, alice)
	require.NoError(t, err)
	_, err = m.StartSession(ctx, bob)
	require.NoError(t, err)
	_, err = m.StartSession(ctx, carol)
	require.NoError(t, err)
	require.NoError(t, m.EndSession(ctx, carol))
	m.Close()

	restarted, err := NewManager(engine, store, chain, WithSyncInterval(time.Hour))
	require.NoError(t, err)
	t.Cleanup(restarted.Close)

	n, err := restarted.RestoreSessions(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{bob, alice}, restarted.Addresses())
	_, ok := restarted.Get(carol)
	require.False(t, ok)
}

func TestManagerClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	chain := tests.NewFakeChain(5)
	store := newStore(t)
	engine := newBlockingEngine()

	m, err := NewManager(engine, store, chain)
	require.NoError(t, err)

	a, err := m.StartSession(ctx, alice)
	require.NoError(t, err)
	<-engine.started

	m.Close()
	require.Equal(t, StateTornDown, a.Status().State)
	require.Empty(t, m.Addresses())
}

func TestNewManagerInvalidOption(t *testing.T) {
	t.Parallel()

	_, err := NewManager(newBlockingEngine(), newStore(t), tests.NewFakeChain(1), WithSyncInterval(0))
	require.Error(t, err)
}
