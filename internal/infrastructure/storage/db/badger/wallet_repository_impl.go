package dbbadger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const walletStateKey = "wallet"

type walletRepositoryImpl struct {
	store *db
}

// NewWalletRepositoryImpl returns a badger implementation of the wallet
// repository.
func NewWalletRepositoryImpl(store *db) domain.WalletRepository {
	return &walletRepositoryImpl{store}
}

func (w *walletRepositoryImpl) GetWalletState(
	ctx context.Context,
) (*domain.WalletState, error) {
	var state *domain.WalletState
	err := w.store.Badger().View(func(tx *badger.Txn) error {
		var err error
		state, err = w.getWalletState(tx)
		return err
	})
	return state, err
}

func (w *walletRepositoryImpl) UpdateWalletState(
	ctx context.Context,
	updateFn func(s *domain.WalletState) (*domain.WalletState, error),
) error {
	return w.store.Badger().Update(func(tx *badger.Txn) error {
		state, err := w.getWalletState(tx)
		if err != nil {
			return err
		}

		updatedState, err := updateFn(state)
		if err != nil {
			return err
		}

		return w.store.TxUpsert(tx, walletStateKey, *updatedState)
	})
}

func (w *walletRepositoryImpl) ApplyUpdate(
	ctx context.Context, update domain.WalletUpdate,
) error {
	return w.store.Badger().Update(func(tx *badger.Txn) error {
		for _, u := range update.Unspents {
			if err := w.addOrConfirmUnspent(tx, u); err != nil {
				return err
			}
		}

		for key, txid := range update.Spends {
			unspent, err := w.getUnspent(tx, key)
			if err != nil {
				if errors.Is(err, domain.ErrUnspentNotFound) {
					continue
				}
				return err
			}
			if unspent.IsSpent() {
				continue
			}
			unspent.Spend(txid)
			if err := w.store.TxUpdate(tx, key.String(), *unspent); err != nil {
				return err
			}
		}

		if !update.IsBlock() {
			return nil
		}

		state, err := w.getWalletState(tx)
		if err != nil {
			return err
		}
		state.Height = update.Height
		state.BlockHash = update.BlockHash
		return w.store.TxUpsert(tx, walletStateKey, *state)
	})
}

func (w *walletRepositoryImpl) DisconnectBlocks(
	ctx context.Context, height int32, blockHash string,
) error {
	return w.store.Badger().Update(func(tx *badger.Txn) error {
		query := badgerhold.Where("Height").Gt(height)
		unspents, err := w.findUnspents(tx, query)
		if err != nil {
			return err
		}

		for _, u := range unspents {
			u.Unconfirm()
			if err := w.store.TxUpdate(tx, u.Key().String(), u); err != nil {
				return err
			}
		}

		state, err := w.getWalletState(tx)
		if err != nil {
			return err
		}
		if state.Height > height {
			state.Height = height
			state.BlockHash = blockHash
		}
		return w.store.TxUpsert(tx, walletStateKey, *state)
	})
}

func (w *walletRepositoryImpl) GetAllUnspents(
	ctx context.Context,
) ([]domain.Unspent, error) {
	return w.findUnspentsView(nil)
}

func (w *walletRepositoryImpl) GetUnspentsForAddress(
	ctx context.Context, address string,
) ([]domain.Unspent, error) {
	return w.findUnspentsView(badgerhold.Where("Address").Eq(address))
}

func (w *walletRepositoryImpl) GetUnspent(
	ctx context.Context, key domain.UnspentKey,
) (*domain.Unspent, error) {
	var unspent *domain.Unspent
	err := w.store.Badger().View(func(tx *badger.Txn) error {
		var err error
		unspent, err = w.getUnspent(tx, key)
		return err
	})
	return unspent, err
}

func (w *walletRepositoryImpl) LockUnspents(
	ctx context.Context,
	keys []domain.UnspentKey,
	owner string,
	now, expiry int64,
) error {
	return w.store.Badger().Update(func(tx *badger.Txn) error {
		for _, key := range keys {
			unspent, err := w.getUnspent(tx, key)
			if err != nil {
				return err
			}
			if unspent.IsSpent() {
				return domain.ErrUnspentNotFound
			}
			if err := unspent.Lock(owner, now, expiry); err != nil {
				return err
			}
			if err := w.store.TxUpdate(tx, key.String(), *unspent); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *walletRepositoryImpl) UnlockUnspents(
	ctx context.Context, owner string,
) error {
	return w.store.Badger().Update(func(tx *badger.Txn) error {
		unspents, err := w.findUnspents(tx, badgerhold.Where("LockedBy").Eq(owner))
		if err != nil {
			return err
		}

		for _, u := range unspents {
			u.Unlock()
			if err := w.store.TxUpdate(tx, u.Key().String(), u); err != nil {
				return err
			}
		}
		return nil
	})
}

func (w *walletRepositoryImpl) Close() {
	w.store.close()
}

func (w *walletRepositoryImpl) addOrConfirmUnspent(
	tx *badger.Txn, unspent domain.Unspent,
) error {
	key := unspent.Key()
	current, err := w.getUnspent(tx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrUnspentNotFound) {
			return err
		}
		return w.store.TxInsert(tx, key.String(), unspent)
	}

	if !unspent.IsConfirmed() || current.BlockHash == unspent.BlockHash {
		return nil
	}
	current.Confirm(unspent.Height, unspent.BlockHash)
	return w.store.TxUpdate(tx, key.String(), *current)
}

func (w *walletRepositoryImpl) getWalletState(
	tx *badger.Txn,
) (*domain.WalletState, error) {
	var state domain.WalletState
	if err := w.store.TxGet(tx, walletStateKey, &state); err != nil {
		if err == badgerhold.ErrNotFound {
			return &domain.WalletState{}, nil
		}
		return nil, err
	}
	return &state, nil
}

func (w *walletRepositoryImpl) getUnspent(
	tx *badger.Txn, key domain.UnspentKey,
) (*domain.Unspent, error) {
	var unspent domain.Unspent
	if err := w.store.TxGet(tx, key.String(), &unspent); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrUnspentNotFound
		}
		return nil, err
	}
	return &unspent, nil
}

func (w *walletRepositoryImpl) findUnspentsView(
	query *badgerhold.Query,
) ([]domain.Unspent, error) {
	var unspents []domain.Unspent
	err := w.store.Badger().View(func(tx *badger.Txn) error {
		var err error
		unspents, err = w.findUnspents(tx, query)
		return err
	})
	return unspents, err
}

func (w *walletRepositoryImpl) findUnspents(
	tx *badger.Txn, query *badgerhold.Query,
) ([]domain.Unspent, error) {
	var unspents []domain.Unspent
	if err := w.store.TxFind(tx, &unspents, query); err != nil {
		return nil, err
	}
	return unspents, nil
}
