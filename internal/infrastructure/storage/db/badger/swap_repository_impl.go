package dbbadger

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

type swapRepositoryImpl struct {
	store *db
}

// NewSwapRepositoryImpl returns a badger implementation of the swap
// repository.
func NewSwapRepositoryImpl(store *db) domain.SwapRepository {
	return &swapRepositoryImpl{store}
}

func (s *swapRepositoryImpl) AddSwap(
	ctx context.Context, swap domain.SwapSession,
) error {
	if err := s.store.Insert(swap.ID, swap); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("swap with id %s already exists", swap.ID)
		}
		return err
	}
	return nil
}

func (s *swapRepositoryImpl) GetSwap(
	ctx context.Context, id string,
) (*domain.SwapSession, error) {
	var swap domain.SwapSession
	if err := s.store.Get(id, &swap); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrSwapNotFound
		}
		return nil, err
	}
	return &swap, nil
}

func (s *swapRepositoryImpl) GetAllSwaps(
	ctx context.Context,
) ([]domain.SwapSession, error) {
	var swaps []domain.SwapSession
	query := (&badgerhold.Query{}).SortBy("CreatedAt")
	if err := s.store.Find(&swaps, query); err != nil {
		return nil, err
	}
	return swaps, nil
}

func (s *swapRepositoryImpl) UpdateSwap(
	ctx context.Context,
	id string,
	updateFn func(s *domain.SwapSession) (*domain.SwapSession, error),
) error {
	return s.store.Badger().Update(func(tx *badger.Txn) error {
		var swap domain.SwapSession
		if err := s.store.TxGet(tx, id, &swap); err != nil {
			if err == badgerhold.ErrNotFound {
				return domain.ErrSwapNotFound
			}
			return err
		}

		updatedSwap, err := updateFn(&swap)
		if err != nil {
			return err
		}

		return s.store.TxUpdate(tx, id, *updatedSwap)
	})
}

func (s *swapRepositoryImpl) Close() {
	s.store.close()
}
