package dbbadger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
)

func TestSwapRepository(t *testing.T) {
	ctx := context.Background()
	repoManager := newTestRepoManager(t, "")
	defer repoManager.Close()
	repo := repoManager.SwapRepository()

	secret, err := domain.NewSecret()
	require.NoError(t, err)
	order := domain.Order{
		ID:     "order1",
		PairID: "ETH-BTC",
		Ask:    domain.OrderLeg{Asset: domain.AssetEther, NominalAmount: decimal.NewFromInt(10)},
		Bid:    domain.OrderLeg{Asset: domain.AssetBitcoin, NominalAmount: decimal.RequireFromString("0.02")},
	}
	swap := domain.NewSwapSession(order, domain.HTLCParams{
		Ledger:   domain.LedgerEthereum,
		Asset:    domain.AssetEther,
		Quantity: decimal.RequireFromString("10000000000000000000"),
	}, domain.HTLCParams{
		Ledger:   domain.LedgerBitcoin,
		Asset:    domain.AssetBitcoin,
		Quantity: decimal.NewFromInt(2000000),
	}, secret)

	require.NoError(t, repo.AddSwap(ctx, *swap))
	require.Error(t, repo.AddSwap(ctx, *swap))

	stored, err := repo.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, secret, stored.Secret)
	require.True(t, order.Bid.NominalAmount.Equal(stored.Order.Bid.NominalAmount))
	require.True(t, swap.Alpha.Quantity.Equal(stored.Alpha.Quantity))

	err = repo.UpdateSwap(
		ctx, swap.ID, func(s *domain.SwapSession) (*domain.SwapSession, error) {
			if err := s.StartFunding(); err != nil {
				return nil, err
			}
			return s, s.Funded("fundtx")
		},
	)
	require.NoError(t, err)

	stored, err = repo.GetSwap(ctx, swap.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SwapStateFundedAwaitingCounterparty, stored.State)
	require.Equal(t, "fundtx", stored.FundTxID)

	// failing updates are not persisted
	err = repo.UpdateSwap(
		ctx, swap.ID, func(s *domain.SwapSession) (*domain.SwapSession, error) {
			return nil, errors.New("boom")
		},
	)
	require.Error(t, err)

	swaps, err := repo.GetAllSwaps(ctx)
	require.NoError(t, err)
	require.Len(t, swaps, 1)

	_, err = repo.GetSwap(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrSwapNotFound)

	err = repo.UpdateSwap(
		ctx, "unknown", func(s *domain.SwapSession) (*domain.SwapSession, error) {
			return s, nil
		},
	)
	require.ErrorIs(t, err, domain.ErrSwapNotFound)
}
