package application

import (
	"time"

	"github.com/tdex-network/tdex-taker/pkg/trypolicy"
)

const (
	// DefaultSyncInterval is the polling interval of the sync tracker.
	DefaultSyncInterval = 3 * time.Second
	// DefaultLockExpiry is how long unspents selected for a send stay
	// reserved to their owner.
	DefaultLockExpiry = 2 * time.Hour
	// DefaultNegotiationAttempts bounds order fetching and taking.
	DefaultNegotiationAttempts = 3
	// DefaultAlphaExpiry and DefaultBetaExpiry are the HTLC lock times
	// proposed to the maker, relative to the take request. The leg funded
	// by the secret holder must expire last.
	DefaultAlphaExpiry = 24 * time.Hour
	DefaultBetaExpiry  = 12 * time.Hour
)

// DefaultBroadcastPolicy bounds the retries of a single broadcast.
var DefaultBroadcastPolicy = trypolicy.Policy{
	MaxDuration: time.Minute,
	Interval:    2 * time.Second,
}
