package wallet_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-taker/pkg/wallet"
)

var testSeed = bytes.Repeat([]byte{0x42}, 32)

func TestDeriveKey(t *testing.T) {
	account := newTestAccount(t, &chaincfg.RegressionNetParams)

	t.Run("deterministic", func(t *testing.T) {
		key, err := account.DeriveKey(wallet.ExternalChain, 3)
		require.NoError(t, err)
		same, err := newTestAccount(t, &chaincfg.RegressionNetParams).
			DeriveKey(wallet.ExternalChain, 3)
		require.NoError(t, err)

		require.Equal(t, key.Address.EncodeAddress(), same.Address.EncodeAddress())
		require.Equal(t, key.Script, same.Script)
		require.Equal(t, "m/84'/1'/0'/0/3", key.Path.String())
		require.Len(t, key.PubKeyHash(), 20)
		require.True(t, key.Address.IsForNet(&chaincfg.RegressionNetParams))
	})

	t.Run("distinct per index and chain", func(t *testing.T) {
		seen := make(map[string]struct{})
		for _, chain := range []uint32{wallet.ExternalChain, wallet.InternalChain} {
			for i := uint32(0); i < 20; i++ {
				key, err := account.DeriveKey(chain, i)
				require.NoError(t, err)
				addr := key.Address.EncodeAddress()
				require.NotContains(t, seen, addr)
				seen[addr] = struct{}{}
			}
		}
		require.Len(t, seen, 40)
	})

	t.Run("account key", func(t *testing.T) {
		master, err := hdkeychain.NewMaster(testSeed, &chaincfg.RegressionNetParams)
		require.NoError(t, err)
		accountKey := master
		for _, i := range wallet.AccountPath(1, 0) {
			accountKey, err = accountKey.Derive(i)
			require.NoError(t, err)
		}

		fromAccount, err := wallet.NewAccount(wallet.AccountOpts{
			ExtendedKey: accountKey.String(),
			Network:     &chaincfg.RegressionNetParams,
		})
		require.NoError(t, err)

		k1, err := fromAccount.DeriveKey(wallet.InternalChain, 0)
		require.NoError(t, err)
		k2, err := account.DeriveKey(wallet.InternalChain, 0)
		require.NoError(t, err)
		require.Equal(t, k2.Address.EncodeAddress(), k1.Address.EncodeAddress())
	})
}

func TestFailingNewAccount(t *testing.T) {
	master, err := hdkeychain.NewMaster(testSeed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	public, err := master.Neuter()
	require.NoError(t, err)
	child, err := master.Derive(0)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts wallet.AccountOpts
		err  error
	}{
		{
			name: "missing key",
			opts: wallet.AccountOpts{Network: &chaincfg.RegressionNetParams},
			err:  wallet.ErrNullExtendedKey,
		},
		{
			name: "missing network",
			opts: wallet.AccountOpts{ExtendedKey: master.String()},
			err:  wallet.ErrNullNetwork,
		},
		{
			name: "watch only",
			opts: wallet.AccountOpts{
				ExtendedKey: public.String(),
				Network:     &chaincfg.RegressionNetParams,
			},
			err: wallet.ErrWatchOnlyKey,
		},
		{
			name: "wrong network",
			opts: wallet.AccountOpts{
				ExtendedKey: master.String(),
				Network:     &chaincfg.MainNetParams,
			},
			err: wallet.ErrKeyNetworkMismatch,
		},
		{
			name: "wrong depth",
			opts: wallet.AccountOpts{
				ExtendedKey: child.String(),
				Network:     &chaincfg.RegressionNetParams,
			},
			err: wallet.ErrInvalidKeyDepth,
		},
		{
			name: "account out of range",
			opts: wallet.AccountOpts{
				ExtendedKey: master.String(),
				Account:     wallet.MaxHardenedValue + 1,
				Network:     &chaincfg.RegressionNetParams,
			},
			err: wallet.ErrOutOfRangeAccount,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			account, err := wallet.NewAccount(tt.opts)
			require.ErrorIs(t, err, tt.err)
			require.Nil(t, account)
		})
	}

	t.Run("invalid chain", func(t *testing.T) {
		account := newTestAccount(t, &chaincfg.RegressionNetParams)
		_, err := account.DeriveKey(2, 0)
		require.ErrorIs(t, err, wallet.ErrInvalidChain)
	})
}

func newTestAccount(t *testing.T, params *chaincfg.Params) *wallet.Account {
	master, err := hdkeychain.NewMaster(testSeed, params)
	require.NoError(t, err)

	account, err := wallet.NewAccount(wallet.AccountOpts{
		ExtendedKey: master.String(),
		Network:     params,
	})
	require.NoError(t, err)
	return account
}
