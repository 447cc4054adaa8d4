package domain

import "context"

// SwapRepository persists swap sessions so that failed swaps keep the data
// needed to reclaim funds.
type SwapRepository interface {
	AddSwap(ctx context.Context, swap SwapSession) error
	GetSwap(ctx context.Context, id string) (*SwapSession, error)
	GetAllSwaps(ctx context.Context) ([]SwapSession, error)
	UpdateSwap(
		ctx context.Context,
		id string,
		updateFn func(s *SwapSession) (*SwapSession, error),
	) error
	Close()
}
