package ports

import (
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
)

// RepoManager gives access to all the stores of the taker.
type RepoManager interface {
	WalletRepository() domain.WalletRepository
	SwapRepository() domain.SwapRepository
	HeaderStore() chainwatcher.HeaderStore
	Close()
}
