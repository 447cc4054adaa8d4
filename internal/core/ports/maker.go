package ports

import (
	"context"

	"github.com/tdex-network/tdex-taker/internal/core/domain"
)

// TakeRequest is sent to the maker to accept one of its orders. The taker
// proposes the secret hash, its own identities and the HTLC expiries.
type TakeRequest struct {
	OrderID             string
	SecretHash          domain.SecretHash
	AlphaRefundIdentity string
	BetaRedeemIdentity  string
	AlphaExpiry         int64
	BetaExpiry          int64
}

// TakeResponse carries the maker identities completing the HTLC params.
type TakeResponse struct {
	AlphaRedeemIdentity string
	BetaRefundIdentity  string
}

// MakerClient is the negotiation endpoint of the counterparty.
type MakerClient interface {
	// GetOrder fetches the current order for the given trading pair.
	GetOrder(ctx context.Context, pairID string) (*domain.Order, error)
	// TakeOrder accepts the order. It fails with domain.OrderUnavailableError
	// if somebody else took it already.
	TakeOrder(ctx context.Context, req TakeRequest) (*TakeResponse, error)
}
