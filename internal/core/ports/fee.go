package ports

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"
)

// FeeEstimator returns the fee rate, in satoshis per kvB, to use for new
// transactions.
type FeeEstimator interface {
	EstimateFeePerKb(ctx context.Context) (btcutil.Amount, error)
}
