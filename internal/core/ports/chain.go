package ports

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
)

// ChainService is the subset of the chain watcher used by the wallet and the
// sync tracker.
type ChainService interface {
	Watch(script []byte) bool
	WatchOutpoint(outpoint wire.OutPoint) bool
	Broadcast(ctx context.Context, tx *wire.MsgTx) error
	Progress() float64
	Tip() (int32, chainhash.Hash)
	BestPeerHeight() int32
}

var _ ChainService = (chainwatcher.Service)(nil)
