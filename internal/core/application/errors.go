package application

import "errors"

var (
	// ErrInvalidAddress is returned for addresses that can't be decoded or
	// belong to another network.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrDustAmount ...
	ErrDustAmount = errors.New("amount is below the dust threshold")
	// ErrUnexpectedTransaction is returned when a confirmed transaction event
	// doesn't belong to the block being applied.
	ErrUnexpectedTransaction = errors.New("transaction does not belong to the pending block")
	// ErrContractNotFunded is returned when trying to spend an HTLC contract
	// not funded yet.
	ErrContractNotFunded = errors.New("htlc contract is not funded")
	// ErrContractNotExpired is returned when trying to refund an HTLC before
	// its expiry.
	ErrContractNotExpired = errors.New("htlc contract is not expired yet")
	// ErrInvalidIdentity is returned for bitcoin identities that are not hex
	// encoded pubkey hashes.
	ErrInvalidIdentity = errors.New("identity must be a 20-byte hex pubkey hash")
	// ErrUnknownLedger ...
	ErrUnknownLedger = errors.New("no leg configured for ledger")
	// ErrOrderRejected is returned when the fetched order doesn't satisfy the
	// acceptance policy.
	ErrOrderRejected = errors.New("order rejected by acceptance policy")
)
