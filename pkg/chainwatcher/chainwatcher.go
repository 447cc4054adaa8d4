// Package chainwatcher keeps a simplified payment verification view of a
// bitcoin chain: it downloads and validates the header chain from a set of
// P2P peers, fetches the filtered blocks matching a set of watched scripts and
// outpoints and emits them as a strictly ordered stream of events.
package chainwatcher

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrNoPeers is returned by Broadcast when no peer is connected. It's
	// temporary, callers are expected to retry.
	ErrNoPeers = &Error{msg: "no connected peers", temporary: true}
	// ErrAlreadyStarted ...
	ErrAlreadyStarted = errors.New("chain watcher already started")
	// ErrNotStarted ...
	ErrNotStarted = errors.New("chain watcher not started")
	// ErrNoPeerSource is returned when there are neither peers to connect to
	// nor DNS seeds to discover them.
	ErrNoPeerSource = errors.New(
		"no peers to connect to and no DNS seeds for the network",
	)
)

// Error is a chain watcher failure that can be classified as temporary.
type Error struct {
	msg       string
	temporary bool
}

func (e *Error) Error() string {
	return e.msg
}

// Temporary returns whether the operation is worth retrying.
func (e *Error) Temporary() bool {
	return e.temporary
}

// Service is the interface of the chain watcher.
type Service interface {
	// Start connects to the network and begins synchronizing. Filtered
	// blocks are fetched starting from fromHeight. It does not block.
	Start(fromHeight int32) error
	// Stop disconnects from all peers and closes the event channel. Events not
	// yet consumed are dropped.
	Stop()
	// Watch adds the output script to the filter. It returns false if the
	// script was already watched. Blocks already fetched are not rescanned.
	Watch(script []byte) bool
	// WatchOutpoint adds the outpoint to the filter so that its spend is
	// observed.
	WatchOutpoint(outpoint wire.OutPoint) bool
	// Events returns the ordered stream of chain events. There must be only
	// one consumer.
	Events() <-chan Event
	// Broadcast sends the transaction to all connected peers and returns as
	// soon as one of them accepted it.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
	// Progress returns the ratio between the last synced block and the best
	// height known from peers, in [0, 1].
	Progress() float64
	// Tip returns the best header known locally.
	Tip() (int32, chainhash.Hash)
	// SyncedHeight returns the height of the last block emitted.
	SyncedHeight() int32
	// BestPeerHeight returns the best height announced by peers.
	BestPeerHeight() int32
	// ConnectedPeers returns the number of peers completing the handshake.
	ConnectedPeers() int
}
