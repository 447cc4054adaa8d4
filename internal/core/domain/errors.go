package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransient marks failures that are expected to go away by retrying,
	// like a peer disconnecting or a transaction not yet broadcastable.
	ErrTransient = errors.New("transient failure")
	// ErrUnknownNetwork is returned when a network name can't be resolved.
	ErrUnknownNetwork = errors.New("unknown network")
	// ErrInvalidAmount ...
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrUnknownAsset ...
	ErrUnknownAsset = errors.New("unknown asset")
	// ErrMalformedOrder is returned for orders missing mandatory fields.
	ErrMalformedOrder = errors.New("malformed order")
	// ErrUnspentNotFound ...
	ErrUnspentNotFound = errors.New("unspent not found")
	// ErrUnspentAlreadyLocked is returned when trying to reserve an unspent
	// already reserved by another owner.
	ErrUnspentAlreadyLocked = errors.New("unspent is already locked")
	// ErrSwapNotFound ...
	ErrSwapNotFound = errors.New("swap not found")
	// ErrInvalidSwapTransition is returned when a swap is asked to move to a
	// state not reachable from the current one.
	ErrInvalidSwapTransition = errors.New("invalid swap state transition")
	// ErrSwapTerminated is returned when operating on a swap in a terminal
	// state.
	ErrSwapTerminated = errors.New("swap is already terminated")
	// ErrSwapNotRefundable is returned when trying to refund a swap that
	// didn't fail or whose Alpha leg was never funded.
	ErrSwapNotRefundable = errors.New("swap has no funds to reclaim")
	// ErrNullFailReason ...
	ErrNullFailReason = errors.New("terminal failure must carry a reason")
)

// NetworkMismatchError is returned when an operation targets a network other
// than the one the wallet is bound to.
type NetworkMismatchError struct {
	Expected string
	Got      string
}

func (e *NetworkMismatchError) Error() string {
	return fmt.Sprintf(
		"this wallet is only connected to the %s network and cannot perform "+
			"actions on the %s network", e.Expected, e.Got,
	)
}

// InsufficientFundsError is returned when the selectable unspents can't cover
// the requested amount plus fees.
type InsufficientFundsError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf(
		"insufficient funds: required %d sats, available %d sats",
		e.Required, e.Available,
	)
}

// NegotiationError is returned when the maker is unreachable or replies with
// a malformed or empty order.
type NegotiationError struct {
	PairID string
	Err    error
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf("negotiation for pair %s failed: %s", e.PairID, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

// OrderUnavailableError is returned when the order was already taken by
// another party. The caller is expected to fetch a fresh order.
type OrderUnavailableError struct {
	OrderID string
}

func (e *OrderUnavailableError) Error() string {
	return fmt.Sprintf("order %s is no longer available", e.OrderID)
}

// CounterpartyTimeoutError is returned when the counterparty didn't perform
// the expected action on its leg within the try policy duration.
type CounterpartyTimeoutError struct {
	SwapID string
	Action string
	Waited time.Duration
}

func (e *CounterpartyTimeoutError) Error() string {
	return fmt.Sprintf(
		"swap %s: counterparty did not %s within %s, funds already sent can "+
			"be reclaimed only after the HTLC expiry", e.SwapID, e.Action, e.Waited,
	)
}

// IsTransient returns whether the given error is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) {
		return tmp.Temporary()
	}
	return false
}
