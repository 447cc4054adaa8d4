package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
)

func TestSpendUnspent(t *testing.T) {
	t.Parallel()

	u := domain.Unspent{LockedBy: "swap"}
	require.False(t, u.IsSpent())

	u.Spend("txid")
	require.True(t, u.IsSpent())
	require.Equal(t, "txid", u.SpentBy)
	require.False(t, u.IsLocked(0))
}

func TestConfirmUnspent(t *testing.T) {
	t.Parallel()

	u := domain.Unspent{}
	require.False(t, u.IsConfirmed())
	require.Zero(t, u.Confirmations(100))

	u.Confirm(98, "hash")
	require.True(t, u.IsConfirmed())
	require.Equal(t, int32(3), u.Confirmations(100))

	u.Unconfirm()
	require.False(t, u.IsConfirmed())
}

func TestLockUnlockUnspent(t *testing.T) {
	t.Parallel()

	u := domain.Unspent{}
	require.False(t, u.IsLocked(0))

	err := u.Lock("swap-1", 10, 20)
	require.NoError(t, err)
	require.True(t, u.IsLocked(15))
	require.False(t, u.IsLocked(20))

	u.Unlock()
	require.False(t, u.IsLocked(15))
}

func TestFailingLockUnspent(t *testing.T) {
	t.Parallel()

	u := domain.Unspent{}

	err := u.Lock("swap-1", 10, 20)
	require.NoError(t, err)

	err = u.Lock("swap-1", 11, 20)
	require.NoError(t, err)

	err = u.Lock("swap-2", 11, 30)
	require.ErrorIs(t, err, domain.ErrUnspentAlreadyLocked)

	// an expired reservation can be taken over
	err = u.Lock("swap-2", 25, 30)
	require.NoError(t, err)
	require.Equal(t, "swap-2", u.LockedBy)
}

func TestComputeBalance(t *testing.T) {
	t.Parallel()

	unspents := []domain.Unspent{
		{TxID: "a", Value: 1000, Height: 10},
		{TxID: "b", Value: 2000, Height: 12},
		{TxID: "c", Value: 4000},
		{TxID: "d", Value: 8000, Height: 5, Spent: true},
		{TxID: "e", Value: 16000, Height: 5, WatchOnly: true},
		{TxID: "f", Value: 32000, Height: 11, LockedBy: "swap"},
	}

	tests := []struct {
		name     string
		minConf  int32
		expected domain.Balance
	}{
		{
			name:    "one_confirmation",
			minConf: 1,
			expected: domain.Balance{
				Confirmed: 35000, Unconfirmed: 4000, Locked: 32000,
			},
		},
		{
			name:    "two_confirmations",
			minConf: 2,
			expected: domain.Balance{
				Confirmed: 33000, Unconfirmed: 6000, Locked: 32000,
			},
		},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			balance := domain.ComputeBalance(unspents, 12, tt.minConf, 0)
			require.Equal(t, tt.expected, balance)
		})
	}
}

func TestIsSelectable(t *testing.T) {
	t.Parallel()

	u := domain.Unspent{Value: 1000, Height: 10}
	require.True(t, u.IsSelectable(10, 1, 0))
	require.False(t, u.IsSelectable(10, 2, 0))

	require.NoError(t, u.Lock("swap", 0, 0))
	require.False(t, u.IsSelectable(10, 1, 0))
}
