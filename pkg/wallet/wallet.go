package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrNullNetwork ...
	ErrNullNetwork = errors.New("network params are null")
	// ErrNullExtendedKey ...
	ErrNullExtendedKey = errors.New("extended key must not be null")
	// ErrInvalidDerivationPath ...
	ErrInvalidDerivationPath = errors.New("invalid derivation path")
	// ErrOutOfRangeAccount ...
	ErrOutOfRangeAccount = fmt.Errorf(
		"account index must be in range [0, %d]", MaxHardenedValue,
	)
	// ErrInvalidChain is returned when deriving from a chain other than
	// external (0) or internal (1).
	ErrInvalidChain = errors.New("chain must be either 0 (receive) or 1 (change)")
	// ErrWatchOnlyKey is returned when the given extended key is public.
	ErrWatchOnlyKey = errors.New("extended key must be private to sign transactions")
	// ErrKeyNetworkMismatch ...
	ErrKeyNetworkMismatch = errors.New("extended key does not belong to network")
	// ErrInvalidKeyDepth is returned for keys that are neither master nor
	// account keys.
	ErrInvalidKeyDepth = errors.New("extended key must be either a master or an account key")
)

const (
	// MaxHardenedValue is the max index for hardened derivation.
	MaxHardenedValue = 1<<31 - 1
	// Purpose is the BIP84 purpose field, native segwit P2WPKH.
	Purpose = 84

	ExternalChain = 0
	InternalChain = 1
)
