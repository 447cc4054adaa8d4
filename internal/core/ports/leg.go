package ports

import (
	"context"

	"github.com/tdex-network/tdex-taker/internal/core/domain"
)

// Leg is one side of the swap, ie. the HTLC contract on a specific ledger.
// Every method performs a single attempt: retrying is up to the caller,
// according to its try policy. Methods are expected to return errors
// wrapping domain.ErrTransient for conditions worth retrying.
type Leg interface {
	Ledger() string
	// Identity returns the account of the taker on the ledger: the hex
	// encoded pubkey hash for bitcoin, the account address for ethereum.
	Identity(ctx context.Context) (string, error)
	// Watch registers the contract with the chain source of the ledger so
	// that its funding is seen even if it happens while the taker is
	// offline. It must be called before the chain sync starts.
	Watch(ctx context.Context, htlc domain.HTLCParams) error
	// Fund locks the HTLC quantity into the contract. Calling it again for the
	// same contract must not fund it twice.
	Fund(ctx context.Context, htlc domain.HTLCParams) (txid string, err error)
	// IsFunded returns whether the contract holds at least the HTLC quantity.
	IsFunded(
		ctx context.Context, htlc domain.HTLCParams,
	) (txid string, funded bool, err error)
	// Redeem claims the contract funds by revealing the secret.
	Redeem(
		ctx context.Context, htlc domain.HTLCParams, secret domain.Secret,
	) (txid string, err error)
	// IsConfirmed returns whether the given transaction is confirmed.
	IsConfirmed(ctx context.Context, txid string) (bool, error)
	// Refund reclaims the contract funds after its expiry.
	Refund(ctx context.Context, htlc domain.HTLCParams) (txid string, err error)
}
