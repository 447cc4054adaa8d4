package domain

import (
	"fmt"
	"time"
)

// StartFunding brings a Negotiated swap to the Funding state.
func (s *SwapSession) StartFunding() error {
	if s.State == SwapStateFunding {
		return nil
	}
	return s.transition(SwapStateNegotiated, SwapStateFunding)
}

// Funded records the funding transaction of the Alpha leg and moves the swap
// to FundedAwaitingCounterparty.
func (s *SwapSession) Funded(txid string) error {
	if s.State == SwapStateFundedAwaitingCounterparty && s.FundTxID == txid {
		return nil
	}
	if err := s.transition(
		SwapStateFunding, SwapStateFundedAwaitingCounterparty,
	); err != nil {
		return err
	}
	s.FundTxID = txid
	return nil
}

// StartRedeeming moves the swap to Redeeming once the counterparty has funded
// the Beta leg.
func (s *SwapSession) StartRedeeming() error {
	if s.State == SwapStateRedeeming {
		return nil
	}
	return s.transition(SwapStateFundedAwaitingCounterparty, SwapStateRedeeming)
}

// RedeemBroadcasted records the redeem transaction id without changing state.
func (s *SwapSession) RedeemBroadcasted(txid string) error {
	if s.State != SwapStateRedeeming {
		return fmt.Errorf(
			"%w: redeem tx can be recorded only while Redeeming, swap is %s",
			ErrInvalidSwapTransition, s.State,
		)
	}
	s.RedeemTxID = txid
	s.touch()
	return nil
}

// Redeemed completes the swap.
func (s *SwapSession) Redeemed() error {
	if s.State == SwapStateRedeemed {
		return nil
	}
	return s.transition(SwapStateRedeeming, SwapStateRedeemed)
}

// TimeOut terminates the swap because some try policy expired.
func (s *SwapSession) TimeOut(reason error) error {
	return s.fail(SwapStateTimedOut, reason)
}

// Abort terminates the swap because of a non retriable failure.
func (s *SwapSession) Abort(reason error) error {
	return s.fail(SwapStateAborted, reason)
}

// Refunded records the transaction reclaiming the Alpha leg funds of a failed
// swap.
func (s *SwapSession) Refunded(txid string) error {
	if !s.NeedsRefund() {
		return ErrSwapNotRefundable
	}
	s.RefundTxID = txid
	s.touch()
	return nil
}

// IsTerminated returns whether the swap reached a terminal state.
func (s *SwapSession) IsTerminated() bool {
	return s.State.IsTerminal()
}

// IsFailed returns whether the swap terminated without being redeemed.
func (s *SwapSession) IsFailed() bool {
	return s.State == SwapStateTimedOut || s.State == SwapStateAborted
}

// NeedsRefund returns whether the Alpha leg was funded but the swap did not
// complete, meaning funds must be reclaimed after the HTLC expiry.
func (s *SwapSession) NeedsRefund() bool {
	return s.IsFailed() && s.FundTxID != ""
}

func (s *SwapSession) fail(state SwapState, reason error) error {
	if reason == nil {
		return ErrNullFailReason
	}
	if s.IsTerminated() {
		return ErrSwapTerminated
	}
	s.State = state
	s.FailReason = reason.Error()
	s.touch()
	return nil
}

func (s *SwapSession) transition(from, to SwapState) error {
	if s.IsTerminated() {
		return ErrSwapTerminated
	}
	if s.State != from {
		return fmt.Errorf(
			"%w: %s -> %s", ErrInvalidSwapTransition, s.State, to,
		)
	}
	s.State = to
	s.touch()
	return nil
}

func (s *SwapSession) touch() {
	s.UpdatedAt = time.Now().Unix()
}
