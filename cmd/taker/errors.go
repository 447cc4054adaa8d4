package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/tdex-network/tdex-taker/internal/config"
	"github.com/tdex-network/tdex-taker/internal/core/application"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
)

// actionableMessage turns the typed errors of the taker into messages telling
// the user what to do next.
func actionableMessage(err error) string {
	var (
		mismatchErr    *domain.NetworkMismatchError
		fundsErr       *domain.InsufficientFundsError
		negotiationErr *domain.NegotiationError
		unavailableErr *domain.OrderUnavailableError
		timeoutErr     *domain.CounterpartyTimeoutError
	)

	switch {
	case errors.As(err, &mismatchErr):
		return fmt.Sprintf(
			"%s, check TAKER_%s or the address you provided", err, config.NetworkKey,
		)
	case errors.As(err, &fundsErr):
		return fmt.Sprintf(
			"%s, fund the wallet (see `%s address`) and wait for the deposit to "+
				"confirm", err, appName,
		)
	case errors.As(err, &timeoutErr):
		return err.Error()
	case errors.As(err, &unavailableErr):
		return fmt.Sprintf(
			"%s, every order fetched was taken by someone else, try again later", err,
		)
	case errors.Is(err, application.ErrOrderRejected):
		return fmt.Sprintf(
			"%s: the offered rate is below TAKER_%s", err, config.MinRateKey,
		)
	case errors.As(err, &negotiationErr):
		return fmt.Sprintf(
			"%s, check that the maker is reachable at TAKER_%s", err,
			config.MakerURLKey,
		)
	case errors.Is(err, application.ErrContractNotExpired):
		return fmt.Sprintf("%s, retry once the HTLC expiry is reached", err)
	case errors.Is(err, domain.ErrSwapNotRefundable):
		return fmt.Sprintf("%s, see `%s swaps` for its state", err, appName)
	case errors.Is(err, domain.ErrSwapNotFound):
		return fmt.Sprintf("%s, see `%s swaps` for the known ids", err, appName)
	case errors.Is(err, chainwatcher.ErrNoPeerSource):
		return fmt.Sprintf(
			"%s, set TAKER_%s to the bitcoin nodes to connect to", err,
			config.ConnectPeersKey,
		)
	case errors.Is(err, context.Canceled):
		return "interrupted, run the command again to continue"
	default:
		return err.Error()
	}
}
