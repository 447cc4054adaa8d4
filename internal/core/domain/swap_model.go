package domain

import (
	"time"

	"github.com/google/uuid"
)

// SwapState is the protocol state of a swap session.
type SwapState int

const (
	SwapStateNegotiated SwapState = iota
	SwapStateFunding
	SwapStateFundedAwaitingCounterparty
	SwapStateRedeeming
	SwapStateRedeemed
	SwapStateTimedOut
	SwapStateAborted
)

func (s SwapState) String() string {
	switch s {
	case SwapStateNegotiated:
		return "Negotiated"
	case SwapStateFunding:
		return "Funding"
	case SwapStateFundedAwaitingCounterparty:
		return "FundedAwaitingCounterparty"
	case SwapStateRedeeming:
		return "Redeeming"
	case SwapStateRedeemed:
		return "Redeemed"
	case SwapStateTimedOut:
		return "TimedOut"
	case SwapStateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// IsTerminal returns whether no further transition is possible.
func (s SwapState) IsTerminal() bool {
	return s == SwapStateRedeemed || s == SwapStateTimedOut ||
		s == SwapStateAborted
}

// SwapSession is one in-flight swap from the taker perspective: the taker
// holds the secret, funds the Alpha leg first and redeems the Beta leg once
// the maker has funded it.
type SwapSession struct {
	ID         string
	Order      Order
	Alpha      HTLCParams
	Beta       HTLCParams
	Secret     Secret
	State      SwapState
	FailReason string
	FundTxID   string
	RedeemTxID string
	RefundTxID string
	CreatedAt  int64
	UpdatedAt  int64
}

// NewSwapSession returns a session in Negotiated state.
func NewSwapSession(
	order Order, alpha, beta HTLCParams, secret Secret,
) *SwapSession {
	now := time.Now().Unix()
	return &SwapSession{
		ID:        uuid.New().String(),
		Order:     order,
		Alpha:     alpha,
		Beta:      beta,
		Secret:    secret,
		State:     SwapStateNegotiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
