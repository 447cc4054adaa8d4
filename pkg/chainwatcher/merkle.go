package chainwatcher

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ErrBadMerkleBlock is returned for merkle blocks whose partial merkle tree is
// malformed or doesn't commit to the header's merkle root.
var ErrBadMerkleBlock = errors.New("invalid merkle block")

// partialMerkleTree walks the depth-first encoded tree of a merkleblock
// message, computing the root and collecting the matched txids.
type partialMerkleTree struct {
	numTx      uint32
	hashes     []*chainhash.Hash
	flags      []byte
	bitsUsed   int
	hashesUsed int
	matched    []chainhash.Hash
	bad        bool
}

// extractMatches verifies the partial merkle tree of the given merkleblock
// against its header and returns the matched txids in block order.
func extractMatches(msg *wire.MsgMerkleBlock) ([]chainhash.Hash, error) {
	if msg.Transactions == 0 {
		return nil, fmt.Errorf("%w: no transactions", ErrBadMerkleBlock)
	}
	if uint32(len(msg.Hashes)) > msg.Transactions {
		return nil, fmt.Errorf("%w: more hashes than txs", ErrBadMerkleBlock)
	}
	if len(msg.Flags)*8 < len(msg.Hashes) {
		return nil, fmt.Errorf("%w: not enough flag bits", ErrBadMerkleBlock)
	}

	tree := &partialMerkleTree{
		numTx:  msg.Transactions,
		hashes: msg.Hashes,
		flags:  msg.Flags,
	}

	var height uint32
	for tree.width(height) > 1 {
		height++
	}

	root := tree.traverse(height, 0)
	if tree.bad {
		return nil, fmt.Errorf("%w: malformed tree", ErrBadMerkleBlock)
	}
	if (tree.bitsUsed+7)/8 != len(msg.Flags) {
		return nil, fmt.Errorf("%w: unused flag bits", ErrBadMerkleBlock)
	}
	if tree.hashesUsed != len(msg.Hashes) {
		return nil, fmt.Errorf("%w: unused hashes", ErrBadMerkleBlock)
	}
	if root != msg.Header.MerkleRoot {
		return nil, fmt.Errorf(
			"%w: computed root %s, expected %s",
			ErrBadMerkleBlock, root, msg.Header.MerkleRoot,
		)
	}
	return tree.matched, nil
}

// width returns the number of nodes at the given height, leaves are at 0.
func (t *partialMerkleTree) width(height uint32) uint32 {
	return (t.numTx + (1 << height) - 1) >> height
}

func (t *partialMerkleTree) nextBit() (bool, bool) {
	if t.bitsUsed >= len(t.flags)*8 {
		return false, false
	}
	bit := t.flags[t.bitsUsed/8]&(1<<(uint(t.bitsUsed)%8)) != 0
	t.bitsUsed++
	return bit, true
}

func (t *partialMerkleTree) nextHash() (chainhash.Hash, bool) {
	if t.hashesUsed >= len(t.hashes) {
		return chainhash.Hash{}, false
	}
	hash := *t.hashes[t.hashesUsed]
	t.hashesUsed++
	return hash, true
}

func (t *partialMerkleTree) traverse(height, pos uint32) chainhash.Hash {
	parentOfMatch, ok := t.nextBit()
	if !ok {
		t.bad = true
		return chainhash.Hash{}
	}

	if height == 0 || !parentOfMatch {
		hash, ok := t.nextHash()
		if !ok {
			t.bad = true
			return chainhash.Hash{}
		}
		if height == 0 && parentOfMatch {
			t.matched = append(t.matched, hash)
		}
		return hash
	}

	left := t.traverse(height-1, pos*2)
	right := left
	if pos*2+1 < t.width(height-1) {
		right = t.traverse(height-1, pos*2+1)
		// identical siblings allow forging the tree (CVE-2012-2459).
		if right == left {
			t.bad = true
		}
	}
	return merkleParent(left, right)
}

func merkleParent(left, right chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}
