package chainwatcher

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	BlockConnected EventType = iota
	BlockDisconnected
	TransactionObserved
)

type EventType int

func (et EventType) String() string {
	switch et {
	case BlockConnected:
		return "BlockConnected"
	case BlockDisconnected:
		return "BlockDisconnected"
	case TransactionObserved:
		return "TransactionObserved"
	default:
		return "Unknown"
	}
}

// Event are emitted through a channel during synchronization.
type Event interface {
	Type() EventType
}

// BlockConnectedEvent is emitted for every block of the best chain, in
// strictly increasing height order, and is followed by exactly TxCount
// TransactionEvents for the block's transactions matching the filter.
type BlockConnectedEvent struct {
	Height  int32
	Hash    chainhash.Hash
	Header  wire.BlockHeader
	TxCount int
}

func (e BlockConnectedEvent) Type() EventType {
	return BlockConnected
}

// BlockDisconnectedEvent is emitted when a chain with more work replaces the
// current one: every block above ForkHeight is no longer part of the best
// chain. BlockConnectedEvents for the new branch follow.
type BlockDisconnectedEvent struct {
	ForkHeight int32
	ForkHash   chainhash.Hash
}

func (e BlockDisconnectedEvent) Type() EventType {
	return BlockDisconnected
}

// TransactionEvent carries a transaction matching the filter. Height is 0 for
// transactions seen in mempool.
type TransactionEvent struct {
	Tx        *wire.MsgTx
	Height    int32
	BlockHash chainhash.Hash
}

func (e TransactionEvent) Type() EventType {
	return TransactionObserved
}

// IsConfirmed ...
func (e TransactionEvent) IsConfirmed() bool {
	return e.Height > 0
}
