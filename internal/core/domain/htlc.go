package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/shopspring/decimal"
)

// Secret is the preimage unlocking the redeem path of both HTLCs.
type Secret [32]byte

// SecretHash is the sha256 of a Secret.
type SecretHash [32]byte

// NewSecret returns a random secret.
func NewSecret() (Secret, error) {
	var s Secret
	if _, err := rand.Read(s[:]); err != nil {
		return Secret{}, err
	}
	return s, nil
}

// Hash returns the sha256 of the secret.
func (s Secret) Hash() SecretHash {
	return sha256.Sum256(s[:])
}

func (s Secret) String() string {
	return hex.EncodeToString(s[:])
}

func (h SecretHash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseSecret decodes a hex encoded secret.
func ParseSecret(str string) (Secret, error) {
	var s Secret
	buf, err := hex.DecodeString(str)
	if err != nil || len(buf) != len(s) {
		return Secret{}, fmt.Errorf("secret must be a 32-byte hex string")
	}
	copy(s[:], buf)
	return s, nil
}

// HTLCParams describes the contract locking one leg of the swap.
type HTLCParams struct {
	Ledger string
	Asset  string
	// Quantity is expressed in the asset's base unit (satoshi, wei).
	Quantity   decimal.Decimal
	SecretHash SecretHash
	// Expiry is the absolute lock time (unix seconds) after which the funder
	// can reclaim the funds.
	Expiry int64
	// RedeemIdentity and RefundIdentity are ledger specific: hex encoded
	// pubkey hash for bitcoin, account address for ethereum.
	RedeemIdentity string
	RefundIdentity string
}

// Validate checks the HTLC params are complete.
func (p HTLCParams) Validate() error {
	if p.Ledger == "" || p.Asset == "" {
		return fmt.Errorf("htlc: missing ledger or asset")
	}
	if !p.Quantity.IsPositive() {
		return fmt.Errorf("htlc: %w", ErrInvalidAmount)
	}
	if p.Expiry <= 0 {
		return fmt.Errorf("htlc: missing expiry")
	}
	if p.RedeemIdentity == "" || p.RefundIdentity == "" {
		return fmt.Errorf("htlc: missing identities")
	}
	return nil
}
