package domain

import "fmt"

// WatchedAddress is an address derived from the wallet's HD key and added to
// the chain watcher's filter.
type WatchedAddress struct {
	Address string
	Chain   uint32
	Index   uint32
	Script  []byte
}

// Key uniquely identifies the address by its derivation coordinates.
func (w WatchedAddress) Key() string {
	return fmt.Sprintf("%d/%d", w.Chain, w.Index)
}

// IsChange returns whether the address belongs to the internal chain.
func (w WatchedAddress) IsChange() bool {
	return w.Chain == InternalChain
}
