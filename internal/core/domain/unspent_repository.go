package domain

import "context"

// WalletRepository persists the wallet state and the set of unspents paying
// watched scripts.
type WalletRepository interface {
	GetWalletState(ctx context.Context) (*WalletState, error)
	UpdateWalletState(
		ctx context.Context,
		updateFn func(s *WalletState) (*WalletState, error),
	) error
	// ApplyUpdate stores all new unspents, marks spent ones and moves the
	// wallet height forward in a single transaction.
	ApplyUpdate(ctx context.Context, update WalletUpdate) error
	// DisconnectBlocks unconfirms all unspents included in blocks with height
	// greater than the given one and rewinds the wallet height.
	DisconnectBlocks(ctx context.Context, height int32, blockHash string) error
	GetAllUnspents(ctx context.Context) ([]Unspent, error)
	GetUnspentsForAddress(ctx context.Context, address string) ([]Unspent, error)
	GetUnspent(ctx context.Context, key UnspentKey) (*Unspent, error)
	LockUnspents(
		ctx context.Context, keys []UnspentKey, owner string, now, expiry int64,
	) error
	UnlockUnspents(ctx context.Context, owner string) error
	Close()
}
