package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
)

// Negotiator discovers an order from the maker, evaluates it and commits to
// it, producing a SwapSession ready to be executed.
type Negotiator interface {
	// FetchOrder gets the current order for the pair, retrying up to the
	// configured number of attempts. It fails with domain.NegotiationError.
	FetchOrder(ctx context.Context, pairID string) (*domain.Order, error)
	// Evaluate is a pure predicate: orders with a zero leg are always
	// rejected, the others are accepted if the policy accepts their rate.
	Evaluate(order domain.Order, policy domain.AcceptancePolicy) bool
	// Commit takes the order and persists the resulting swap session. It
	// fails with domain.OrderUnavailableError if the order was already taken.
	Commit(ctx context.Context, order domain.Order) (*domain.SwapSession, error)
	// NegotiateAndInitiate chains fetch, evaluate and commit, fetching a
	// fresh order every time the current one turns out to be unavailable.
	NegotiateAndInitiate(
		ctx context.Context, pairID string, policy domain.AcceptancePolicy,
	) (*domain.SwapSession, error)
}

// NegotiatorConfig holds the collaborators of the negotiator.
type NegotiatorConfig struct {
	Maker      ports.MakerClient
	Repository domain.SwapRepository
	Legs       []ports.Leg
	// MaxAttempts bounds both the order fetches and the number of fresh
	// orders tried by NegotiateAndInitiate.
	MaxAttempts   int
	RetryInterval time.Duration
	AlphaExpiry   time.Duration
	BetaExpiry    time.Duration
	Clock         clock.Clock
	Logger        logrus.FieldLogger
}

type negotiator struct {
	cfg  NegotiatorConfig
	legs map[string]ports.Leg
	log  logrus.FieldLogger
}

// NewNegotiator returns a Negotiator talking to the configured maker.
func NewNegotiator(cfg NegotiatorConfig) (Negotiator, error) {
	if cfg.Maker == nil {
		return nil, fmt.Errorf("missing maker client")
	}
	if cfg.Repository == nil {
		return nil, fmt.Errorf("missing swap repository")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultNegotiationAttempts
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.AlphaExpiry <= 0 {
		cfg.AlphaExpiry = DefaultAlphaExpiry
	}
	if cfg.BetaExpiry <= 0 {
		cfg.BetaExpiry = DefaultBetaExpiry
	}
	if cfg.BetaExpiry >= cfg.AlphaExpiry {
		return nil, fmt.Errorf(
			"beta expiry (%s) must be shorter than alpha expiry (%s)",
			cfg.BetaExpiry, cfg.AlphaExpiry,
		)
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

	return &negotiator{
		cfg:  cfg,
		legs: legs,
		log:  log.WithField("service", "negotiator"),
	}, nil
}

func (n *negotiator) FetchOrder(
	ctx context.Context, pairID string,
) (*domain.Order, error) {
	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		order, err := n.cfg.Maker.GetOrder(ctx, pairID)
		if err == nil {
			if order == nil {
				return nil, &domain.NegotiationError{
					PairID: pairID, Err: domain.ErrMalformedOrder,
				}
			}
			if err := order.Validate(); err != nil {
				return nil, &domain.NegotiationError{PairID: pairID, Err: err}
			}
			return order, nil
		}

		lastErr = err
		n.log.WithError(err).Debugf(
			"fetch order attempt %d/%d failed", attempt, n.cfg.MaxAttempts,
		)
		if attempt == n.cfg.MaxAttempts {
			break
		}

		select {
		case <-n.cfg.Clock.TickAfter(n.cfg.RetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, &domain.NegotiationError{PairID: pairID, Err: lastErr}
}

func (n *negotiator) Evaluate(
	order domain.Order, policy domain.AcceptancePolicy,
) bool {
	if order.HasZeroLeg() {
		return false
	}
	return policy(order, order.Rate())
}

func (n *negotiator) Commit(
	ctx context.Context, order domain.Order,
) (*domain.SwapSession, error) {
	alpha, err := n.htlcParams(order.Ask)
	if err != nil {
		return nil, err
	}
	beta, err := n.htlcParams(order.Bid)
	if err != nil {
		return nil, err
	}
	alphaLeg, betaLeg := n.legs[alpha.Ledger], n.legs[beta.Ledger]

	secret, err := domain.NewSecret()
	if err != nil {
		return nil, err
	}

	alphaRefund, err := alphaLeg.Identity(ctx)
	if err != nil {
		return nil, err
	}
	betaRedeem, err := betaLeg.Identity(ctx)
	if err != nil {
		return nil, err
	}

	now := n.cfg.Clock.Now()
	req := ports.TakeRequest{
		OrderID:             order.ID,
		SecretHash:          secret.Hash(),
		AlphaRefundIdentity: alphaRefund,
		BetaRedeemIdentity:  betaRedeem,
		AlphaExpiry:         now.Add(n.cfg.AlphaExpiry).Unix(),
		BetaExpiry:          now.Add(n.cfg.BetaExpiry).Unix(),
	}

	res, err := n.cfg.Maker.TakeOrder(ctx, req)
	if err != nil {
		var unavailableErr *domain.OrderUnavailableError
		if errors.As(err, &unavailableErr) {
			return nil, err
		}
		return nil, &domain.NegotiationError{PairID: order.PairID, Err: err}
	}
	if res == nil || res.AlphaRedeemIdentity == "" || res.BetaRefundIdentity == "" {
		return nil, &domain.NegotiationError{
			PairID: order.PairID,
			Err:    fmt.Errorf("maker did not provide its identities"),
		}
	}

	alpha.SecretHash, beta.SecretHash = req.SecretHash, req.SecretHash
	alpha.Expiry, beta.Expiry = req.AlphaExpiry, req.BetaExpiry
	alpha.RefundIdentity, alpha.RedeemIdentity = alphaRefund, res.AlphaRedeemIdentity
	beta.RedeemIdentity, beta.RefundIdentity = betaRedeem, res.BetaRefundIdentity

	if err := alphaLeg.Watch(ctx, alpha); err != nil {
		return nil, &domain.NegotiationError{PairID: order.PairID, Err: err}
	}
	if err := betaLeg.Watch(ctx, beta); err != nil {
		return nil, &domain.NegotiationError{PairID: order.PairID, Err: err}
	}

	swap := domain.NewSwapSession(order, alpha, beta, secret)
	if err := n.cfg.Repository.AddSwap(ctx, *swap); err != nil {
		return nil, err
	}

	n.log.WithFields(logrus.Fields{
		"swap":  swap.ID,
		"order": order.ID,
		"rate":  order.Rate().String(),
	}).Info("order taken")

	return swap, nil
}

func (n *negotiator) NegotiateAndInitiate(
	ctx context.Context, pairID string, policy domain.AcceptancePolicy,
) (*domain.SwapSession, error) {
	var lastErr error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		order, err := n.FetchOrder(ctx, pairID)
		if err != nil {
			return nil, err
		}

		if !n.Evaluate(*order, policy) {
			rate := "undefined"
			if !order.HasZeroLeg() {
				rate = order.Rate().String()
			}
			return nil, fmt.Errorf(
				"%w: order %s with rate %s", ErrOrderRejected, order.ID, rate,
			)
		}

		swap, err := n.Commit(ctx, *order)
		if err == nil {
			return swap, nil
		}

		var unavailableErr *domain.OrderUnavailableError
		if !errors.As(err, &unavailableErr) {
			return nil, err
		}
		lastErr = err
		n.log.WithField("order", order.ID).Info(
			"order taken by someone else, fetching a fresh one",
		)
	}
	return nil, lastErr
}

func (n *negotiator) htlcParams(leg domain.OrderLeg) (domain.HTLCParams, error) {
	ledger, err := domain.LedgerForAsset(leg.Asset)
	if err != nil {
		return domain.HTLCParams{}, err
	}
	if _, ok := n.legs[ledger]; !ok {
		return domain.HTLCParams{}, fmt.Errorf("%w: %s", ErrUnknownLedger, ledger)
	}
	quantity, err := leg.BaseUnits()
	if err != nil {
		return domain.HTLCParams{}, err
	}
	return domain.HTLCParams{
		Ledger:   ledger,
		Asset:    leg.Asset,
		Quantity: quantity,
	}, nil
}

func legsByLedger(legs []ports.Leg) (map[string]ports.Leg, error) {
	m := make(map[string]ports.Leg, len(legs))
	for _, leg := range legs {
		if leg == nil {
			return nil, fmt.Errorf("missing leg")
		}
		if _, ok := m[leg.Ledger()]; ok {
			return nil, fmt.Errorf("duplicated leg for ledger %s", leg.Ledger())
		}
		m[leg.Ledger()] = leg
	}
	return m, nil
}
