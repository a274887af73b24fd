package tests

import (
	"context"
	"crypto/ecdsa"
	"math"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

// OneEther is 10^18 wei.
var OneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// SimulatedChain is a simulated Ethereum backend with a funded account.
type SimulatedChain struct {
	ChainID int64
	Backend *backends.SimulatedBackend

	FunderKey *ecdsa.PrivateKey
}

// NewSimulatedChain creates a new simulated chain.
func NewSimulatedChain(t *testing.T) *SimulatedChain {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	alloc := make(core.GenesisAlloc)
	alloc[crypto.PubkeyToAddress(key.PublicKey)] = core.GenesisAccount{
		Balance: new(big.Int).Mul(OneEther, big.NewInt(1_000_000)),
	}
	backend := backends.NewSimulatedBackend(alloc, math.MaxInt64)
	t.Cleanup(func() {
		_ = backend.Close()
	})

	return &SimulatedChain{
		ChainID:   1337,
		Backend:   backend,
		FunderKey: key,
	}
}

// Funder returns the address of the funded account.
func (c *SimulatedChain) Funder() common.Address {
	return crypto.PubkeyToAddress(c.FunderKey.PublicKey)
}

// CreateAccountWithBalance creates a new account funded with one ether in a new block.
func (c *SimulatedChain) CreateAccountWithBalance(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	c.Transfer(t, c.FunderKey, crypto.PubkeyToAddress(key.PublicKey), OneEther)
	c.Backend.Commit()

	return key
}

// Transfer sends value from the account of key to the address to. The transaction stays pending
// until the next Commit.
func (c *SimulatedChain) Transfer(t *testing.T, key *ecdsa.PrivateKey, to common.Address, value *big.Int) common.Hash {
	t.Helper()

	ctx := context.Background()
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.Backend.PendingNonceAt(ctx, from)
	require.NoError(t, err)
	gasPrice, err := c.Backend.SuggestGasPrice(ctx)
	require.NoError(t, err)

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      21000,
		To:       &to,
		Value:    value,
	})
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(c.ChainID)), key)
	require.NoError(t, err)
	require.NoError(t, c.Backend.SendTransaction(ctx, signedTx))

	return signedTx.Hash()
}

// Mine commits n empty blocks.
func (c *SimulatedChain) Mine(n int) {
	for i := 0; i < n; i++ {
		c.Backend.Commit()
	}
}
