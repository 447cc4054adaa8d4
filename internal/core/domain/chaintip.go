package domain

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ChainTip points to the best known header.
type ChainTip struct {
	Height int32
	Hash   chainhash.Hash
	Work   *big.Int
}

// IsBetterThan returns whether the tip carries more cumulative work than the
// other one.
func (t ChainTip) IsBetterThan(other ChainTip) bool {
	if other.Work == nil {
		return t.Work != nil
	}
	if t.Work == nil {
		return false
	}
	return t.Work.Cmp(other.Work) > 0
}
