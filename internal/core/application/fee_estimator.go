package application

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
)

type staticFeeEstimator struct {
	feePerKb btcutil.Amount
}

// NewStaticFeeEstimator returns an estimator always returning the given
// rate in sats/kvB, never lower than the default relay fee.
func NewStaticFeeEstimator(satsPerKb int64) ports.FeeEstimator {
	feePerKb := btcutil.Amount(satsPerKb)
	if feePerKb < txrules.DefaultRelayFeePerKb {
		feePerKb = txrules.DefaultRelayFeePerKb
	}
	return staticFeeEstimator{feePerKb}
}

func (s staticFeeEstimator) EstimateFeePerKb(
	context.Context,
) (btcutil.Amount, error) {
	return s.feePerKb, nil
}
