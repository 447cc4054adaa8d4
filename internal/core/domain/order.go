package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// OrderLeg is one side of a trade order, expressed in nominal units (ie. BTC,
// not satoshis).
type OrderLeg struct {
	Asset         string
	NominalAmount decimal.Decimal
}

// BaseUnits converts the nominal amount into the asset's smallest unit.
func (l OrderLeg) BaseUnits() (decimal.Decimal, error) {
	return ToBaseUnits(l.Asset, l.NominalAmount)
}

// Order holds the trade terms offered by the maker. An order is never
// mutated: a stale order is replaced by fetching a fresh one.
type Order struct {
	ID     string
	PairID string
	// Ask is what the maker wants to receive, ie. what the taker funds.
	Ask OrderLeg
	// Bid is what the maker offers, ie. what the taker redeems.
	Bid OrderLeg
}

// Validate checks that all mandatory fields are set.
func (o Order) Validate() error {
	if o.ID == "" || o.PairID == "" {
		return fmt.Errorf("%w: missing id or trading pair", ErrMalformedOrder)
	}
	if o.Ask.Asset == "" || o.Bid.Asset == "" {
		return fmt.Errorf("%w: missing asset", ErrMalformedOrder)
	}
	if o.Ask.NominalAmount.IsNegative() || o.Bid.NominalAmount.IsNegative() {
		return fmt.Errorf("%w: negative amount", ErrMalformedOrder)
	}
	return nil
}

// HasZeroLeg returns whether either side of the order has a zero amount.
func (o Order) HasZeroLeg() bool {
	return o.Ask.NominalAmount.IsZero() || o.Bid.NominalAmount.IsZero()
}

// Rate returns bid/ask. It must not be called on orders with a zero leg.
func (o Order) Rate() decimal.Decimal {
	return o.Bid.NominalAmount.Div(o.Ask.NominalAmount)
}

// AcceptancePolicy decides whether an order with the given rate is worth
// taking.
type AcceptancePolicy func(order Order, rate decimal.Decimal) bool

// MinRatePolicy accepts orders trading askAsset for bidAsset whose rate meets
// or exceeds minRate.
func MinRatePolicy(
	askAsset, bidAsset string, minRate decimal.Decimal,
) AcceptancePolicy {
	return func(order Order, rate decimal.Decimal) bool {
		if order.Ask.Asset != askAsset || order.Bid.Asset != bidAsset {
			return false
		}
		return rate.GreaterThanOrEqual(minRate)
	}
}

// ToBaseUnits converts a nominal amount of the given asset into its smallest
// unit.
func ToBaseUnits(asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	decimals, ok := assetDecimals[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return amount.Shift(decimals).Truncate(0), nil
}

// FromBaseUnits converts an amount in base units into nominal units.
func FromBaseUnits(asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	decimals, ok := assetDecimals[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return amount.Shift(-decimals), nil
}

// LedgerForAsset returns the ledger the given asset lives on.
func LedgerForAsset(asset string) (string, error) {
	switch asset {
	case AssetBitcoin:
		return LedgerBitcoin, nil
	case AssetEther:
		return LedgerEthereum, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
}
