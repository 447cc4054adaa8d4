package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
)

func TestOrderValidate(t *testing.T) {
	t.Parallel()

	valid := domain.Order{
		ID:     "id",
		PairID: "ETH-BTC",
		Ask:    domain.OrderLeg{Asset: domain.AssetEther, NominalAmount: decimal.NewFromInt(1)},
		Bid:    domain.OrderLeg{Asset: domain.AssetBitcoin, NominalAmount: decimal.NewFromInt(1)},
	}
	require.NoError(t, valid.Validate())

	noID := valid
	noID.ID = ""
	require.ErrorIs(t, noID.Validate(), domain.ErrMalformedOrder)

	negative := valid
	negative.Bid.NominalAmount = decimal.NewFromInt(-1)
	require.ErrorIs(t, negative.Validate(), domain.ErrMalformedOrder)
}

func TestToBaseUnits(t *testing.T) {
	t.Parallel()

	sats, err := domain.ToBaseUnits(
		domain.AssetBitcoin, decimal.RequireFromString("0.02"),
	)
	require.NoError(t, err)
	require.Equal(t, "2000000", sats.String())

	wei, err := domain.ToBaseUnits(domain.AssetEther, decimal.NewFromInt(10))
	require.NoError(t, err)
	require.Equal(t, "10000000000000000000", wei.String())

	_, err = domain.ToBaseUnits("dogecoin", decimal.NewFromInt(1))
	require.ErrorIs(t, err, domain.ErrUnknownAsset)
}
