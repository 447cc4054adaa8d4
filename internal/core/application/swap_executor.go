package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	"github.com/tdex-network/tdex-taker/pkg/trypolicy"
)

// SwapObserver is notified every time a swap session is persisted.
type SwapObserver func(swap domain.SwapSession)

// SwapExecutor drives a committed swap through the HTLC protocol: fund the
// Alpha leg, wait for the maker to fund the Beta leg, redeem it.
type SwapExecutor interface {
	// Execute brings the swap to a terminal state, resuming from its
	// current one. The returned error is the reason of the failure for
	// swaps ending TimedOut or Aborted. If ctx is canceled the swap is left
	// in its last persisted state and can be resumed later.
	Execute(ctx context.Context, swap *domain.SwapSession) error
	// Refund reclaims the Alpha leg funds of a failed swap once its HTLC
	// expired.
	Refund(ctx context.Context, swapID string) (string, error)
	// WatchPending registers with their legs the contracts of the swaps still
	// expecting on-chain activity, those not terminated and those waiting
	// for a refund. It returns the number of such swaps.
	WatchPending(ctx context.Context) (int, error)
}

// SwapExecutorConfig holds the collaborators of the executor.
type SwapExecutorConfig struct {
	Repository domain.SwapRepository
	Legs       []ports.Leg
	TryPolicy  trypolicy.Policy
	Clock      clock.Clock
	Logger     logrus.FieldLogger
	Observer   SwapObserver
}

type swapExecutor struct {
	cfg  SwapExecutorConfig
	legs map[string]ports.Leg
	log  logrus.FieldLogger
}

// NewSwapExecutor returns a SwapExecutor retrying every leg action
// according to the configured try policy.
func NewSwapExecutor(cfg SwapExecutorConfig) (SwapExecutor, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("missing swap repository")
	}
	if cfg.TryPolicy == (trypolicy.Policy{}) {
		cfg.TryPolicy = trypolicy.Default()
	}
	if err := cfg.TryPolicy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	legs, err := legsByLedger(cfg.Legs)
	if err != nil {
		return nil, err
	}

	return &swapExecutor{
		cfg:  cfg,
		legs: legs,
		log:  log.WithField("service", "executor"),
	}, nil
}

func (e *swapExecutor) Execute(
	ctx context.Context, swap *domain.SwapSession,
) error {
	alphaLeg, ok := e.legs[swap.Alpha.Ledger]
	if !ok {
		return e.abort(swap, fmt.Errorf("%w: %s", ErrUnknownLedger, swap.Alpha.Ledger))
	}
	betaLeg, ok := e.legs[swap.Beta.Ledger]
	if !ok {
		return e.abort(swap, fmt.Errorf("%w: %s", ErrUnknownLedger, swap.Beta.Ledger))
	}

	log := e.log.WithField("swap", swap.ID)

	for !swap.IsTerminated() {
		var err error

		switch swap.State {
		case domain.SwapStateNegotiated:
			err = swap.StartFunding()

		case domain.SwapStateFunding:
			log.Infof("funding %s HTLC", alphaLeg.Ledger())
			var txid string
			txid, err = e.fund(ctx, alphaLeg, swap.Alpha)
			if err == nil {
				err = swap.Funded(txid)
			}

		case domain.SwapStateFundedAwaitingCounterparty:
			log.Infof("waiting for maker to fund %s HTLC", betaLeg.Ledger())
			err = e.waitFunded(ctx, betaLeg, swap)
			if err == nil {
				err = swap.StartRedeeming()
			}

		case domain.SwapStateRedeeming:
			if swap.RedeemTxID == "" {
				log.Infof("redeeming %s HTLC", betaLeg.Ledger())
				var txid string
				txid, err = e.redeem(ctx, betaLeg, swap)
				if err == nil {
					err = swap.RedeemBroadcasted(txid)
				}
				break
			}
			log.WithField("txid", swap.RedeemTxID).Info("waiting for redeem confirmation")
			err = e.waitConfirmed(ctx, betaLeg, swap)
			if err == nil {
				err = swap.Redeemed()
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return e.fail(swap, err)
		}
		if err := e.persist(swap); err != nil {
			return err
		}
		log.Debugf("swap moved to %s", swap.State)
	}

	log.Info("swap completed")
	return nil
}

func (e *swapExecutor) Refund(ctx context.Context, swapID string) (string, error) {
	swap, err := e.cfg.Repository.GetSwap(ctx, swapID)
	if err != nil {
		return "", err
	}
	if !swap.NeedsRefund() {
		return "", domain.ErrSwapNotRefundable
	}
	alphaLeg, ok := e.legs[swap.Alpha.Ledger]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownLedger, swap.Alpha.Ledger)
	}

	txid, err := alphaLeg.Refund(ctx, swap.Alpha)
	if err != nil {
		return "", err
	}
	if err := swap.Refunded(txid); err != nil {
		return "", err
	}
	if err := e.persist(swap); err != nil {
		return "", err
	}

	e.log.WithFields(logrus.Fields{
		"swap": swap.ID,
		"txid": txid,
	}).Info("swap refunded")
	return txid, nil
}

func (e *swapExecutor) WatchPending(ctx context.Context) (int, error) {
	swaps, err := e.cfg.Repository.GetAllSwaps(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, swap := range swaps {
		if swap.IsTerminated() && !(swap.NeedsRefund() && swap.RefundTxID == "") {
			continue
		}
		for _, params := range []domain.HTLCParams{swap.Alpha, swap.Beta} {
			leg, ok := e.legs[params.Ledger]
			if !ok {
				continue
			}
			if err := leg.Watch(ctx, params); err != nil {
				return 0, fmt.Errorf("swap %s: %w", swap.ID, err)
			}
		}
		count++
	}

	if count > 0 {
		e.log.WithField("swaps", count).Info("watching contracts of pending swaps")
	}
	return count, nil
}

func (e *swapExecutor) fund(
	ctx context.Context, leg ports.Leg, htlc domain.HTLCParams,
) (string, error) {
	var txid string
	err := e.run(ctx, func(ctx context.Context) (bool, error) {
		// a previous attempt, or run, may have funded the contract without
		// getting the result back.
		id, funded, err := leg.IsFunded(ctx, htlc)
		if err != nil {
			return false, err
		}
		if !funded {
			if id, err = leg.Fund(ctx, htlc); err != nil {
				return false, err
			}
		}
		txid = id
		return true, nil
	})
	return txid, err
}

func (e *swapExecutor) waitFunded(
	ctx context.Context, leg ports.Leg, swap *domain.SwapSession,
) error {
	err := e.run(ctx, func(ctx context.Context) (bool, error) {
		_, funded, err := leg.IsFunded(ctx, swap.Beta)
		return funded, err
	})
	if errors.Is(err, trypolicy.ErrTimeout) {
		return &domain.CounterpartyTimeoutError{
			SwapID: swap.ID,
			Action: fmt.Sprintf("fund the %s HTLC", leg.Ledger()),
			Waited: e.cfg.TryPolicy.MaxDuration,
		}
	}
	return err
}

func (e *swapExecutor) redeem(
	ctx context.Context, leg ports.Leg, swap *domain.SwapSession,
) (string, error) {
	var txid string
	err := e.run(ctx, func(ctx context.Context) (bool, error) {
		id, err := leg.Redeem(ctx, swap.Beta, swap.Secret)
		if err != nil {
			return false, err
		}
		txid = id
		return true, nil
	})
	return txid, err
}

func (e *swapExecutor) waitConfirmed(
	ctx context.Context, leg ports.Leg, swap *domain.SwapSession,
) error {
	return e.run(ctx, func(ctx context.Context) (bool, error) {
		return leg.IsConfirmed(ctx, swap.RedeemTxID)
	})
}

func (e *swapExecutor) run(ctx context.Context, attempt trypolicy.Attempt) error {
	runner := trypolicy.Runner{
		Policy:      e.cfg.TryPolicy,
		Clock:       e.cfg.Clock,
		IsRetriable: domain.IsTransient,
	}
	return runner.Run(ctx, attempt)
}

func (e *swapExecutor) fail(swap *domain.SwapSession, reason error) error {
	if errors.Is(reason, trypolicy.ErrTimeout) ||
		errors.As(reason, new(*domain.CounterpartyTimeoutError)) {
		if err := swap.TimeOut(reason); err != nil {
			return err
		}
	} else {
		if err := swap.Abort(reason); err != nil {
			return err
		}
	}

	if err := e.persist(swap); err != nil {
		e.log.WithError(err).Warnf("failed to persist swap %s", swap.ID)
	}

	entry := e.log.WithFields(logrus.Fields{
		"swap":  swap.ID,
		"state": swap.State.String(),
	}).WithError(reason)
	if swap.NeedsRefund() {
		entry = entry.WithField("refundable_after", swap.Alpha.Expiry)
	}
	entry.Warn("swap failed")

	return reason
}

func (e *swapExecutor) abort(swap *domain.SwapSession, reason error) error {
	if err := swap.Abort(reason); err != nil {
		return err
	}
	if err := e.persist(swap); err != nil {
		return err
	}
	return reason
}

// persist stores the swap with a detached context, a state transition must be
// recorded even if the caller gave up waiting.
func (e *swapExecutor) persist(swap *domain.SwapSession) error {
	ctx := context.Background()
	err := e.cfg.Repository.UpdateSwap(
		ctx, swap.ID, func(_ *domain.SwapSession) (*domain.SwapSession, error) {
			return swap, nil
		},
	)
	if errors.Is(err, domain.ErrSwapNotFound) {
		err = e.cfg.Repository.AddSwap(ctx, *swap)
	}
	if err != nil {
		return fmt.Errorf("failed to persist swap %s: %w", swap.ID, err)
	}

	if e.cfg.Observer != nil {
		e.cfg.Observer(*swap)
	}
	return nil
}
