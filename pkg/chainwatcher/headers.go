package chainwatcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// number of locator hashes taken one by one from the tip before
	// starting to double the step.
	denseLocatorHashes = 10
)

var (
	// ErrHeaderNotFound is returned by a HeaderStore for unknown heights or
	// hashes.
	ErrHeaderNotFound = errors.New("header not found")
	// ErrOrphanHeaders is returned when the first header of a batch doesn't
	// connect to any header of the best chain.
	ErrOrphanHeaders = errors.New("headers do not connect to the best chain")
	// ErrBadHeaderLinkage ...
	ErrBadHeaderLinkage = errors.New("header does not link to the previous one")
	// ErrBadProofOfWork ...
	ErrBadProofOfWork = errors.New("header hash is higher than target")
)

// StoredHeader is a header of the best chain along with its height and the
// cumulative work of the chain up to it.
type StoredHeader struct {
	Height int32
	Header wire.BlockHeader
	Work   *big.Int
}

// Hash ...
func (h StoredHeader) Hash() chainhash.Hash {
	return h.Header.BlockHash()
}

// HeaderStore persists the best header chain.
type HeaderStore interface {
	// GetTip returns ErrHeaderNotFound if the store is empty.
	GetTip(ctx context.Context) (*StoredHeader, error)
	GetHeaderByHeight(ctx context.Context, height int32) (*StoredHeader, error)
	GetHeaderByHash(
		ctx context.Context, hash chainhash.Hash,
	) (*StoredHeader, error)
	// PutHeaders stores the given consecutive headers, replacing every
	// header with height greater or equal than the first one in a single
	// transaction.
	PutHeaders(ctx context.Context, headers []StoredHeader) error
	Close()
}

type connectResult struct {
	connected  int
	reorged    bool
	forkHeight int32
	forkHash   chainhash.Hash
}

// headerChain validates and connects headers on top of the stored chain.
type headerChain struct {
	store  HeaderStore
	params *chaincfg.Params

	lock sync.RWMutex
	tip  StoredHeader
}

func newHeaderChain(
	ctx context.Context, store HeaderStore, params *chaincfg.Params,
) (*headerChain, error) {
	tip, err := store.GetTip(ctx)
	if err != nil {
		if !errors.Is(err, ErrHeaderNotFound) {
			return nil, err
		}

		genesis := StoredHeader{
			Height: 0,
			Header: params.GenesisBlock.Header,
			Work:   blockchain.CalcWork(params.GenesisBlock.Header.Bits),
		}
		if err := store.PutHeaders(ctx, []StoredHeader{genesis}); err != nil {
			return nil, fmt.Errorf("failed to store genesis header: %w", err)
		}
		tip = &genesis
	}

	if tip.Height == 0 && tip.Hash() != *params.GenesisHash {
		return nil, fmt.Errorf(
			"header store belongs to another network, genesis %s", tip.Hash(),
		)
	}

	return &headerChain{
		store:  store,
		params: params,
		tip:    *tip,
	}, nil
}

func (c *headerChain) getTip() StoredHeader {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.tip
}

func (c *headerChain) headerByHeight(
	ctx context.Context, height int32,
) (*StoredHeader, error) {
	return c.store.GetHeaderByHeight(ctx, height)
}

// connect validates linkage and proof of work of the given headers and adds
// them to the best chain if they extend it, or if they form a branch with
// more cumulative work than the current one. Headers already part of the best
// chain are skipped.
func (c *headerChain) connect(
	ctx context.Context, headers []*wire.BlockHeader,
) (*connectResult, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	result := &connectResult{}
	if len(headers) == 0 {
		return result, nil
	}

	tipHash := c.tip.Hash()
	if headers[0].PrevBlock != tipHash {
		i := 0
		for ; i < len(headers); i++ {
			_, err := c.store.GetHeaderByHash(ctx, headers[i].BlockHash())
			if err != nil {
				if errors.Is(err, ErrHeaderNotFound) {
					break
				}
				return nil, err
			}
		}
		headers = headers[i:]
		if len(headers) == 0 {
			return result, nil
		}
	}

	parent, err := c.store.GetHeaderByHash(ctx, headers[0].PrevBlock)
	if err != nil {
		if errors.Is(err, ErrHeaderNotFound) {
			return nil, ErrOrphanHeaders
		}
		return nil, err
	}

	newHeaders := make([]StoredHeader, 0, len(headers))
	prev := *parent
	for _, h := range headers {
		if h.PrevBlock != prev.Hash() {
			return nil, ErrBadHeaderLinkage
		}
		if err := checkProofOfWork(*h, c.params.PowLimit); err != nil {
			return nil, err
		}

		header := StoredHeader{
			Height: prev.Height + 1,
			Header: *h,
			Work:   new(big.Int).Add(prev.Work, blockchain.CalcWork(h.Bits)),
		}
		newHeaders = append(newHeaders, header)
		prev = header
	}

	if parent.Hash() != tipHash {
		// side branch, switch to it only if it has more work.
		if prev.Work.Cmp(c.tip.Work) <= 0 {
			return result, nil
		}
		result.reorged = true
		result.forkHeight = parent.Height
		result.forkHash = parent.Hash()
	}

	if err := c.store.PutHeaders(ctx, newHeaders); err != nil {
		return nil, err
	}
	c.tip = prev
	result.connected = len(newHeaders)
	return result, nil
}

// locator returns the hashes used in getheaders messages: the last ones one
// by one, then with exponentially increasing steps down to genesis.
func (c *headerChain) locator(ctx context.Context) ([]*chainhash.Hash, error) {
	tip := c.getTip()

	hashes := make([]*chainhash.Hash, 0, wire.MaxBlockLocatorsPerMsg)
	step := int32(1)
	for height := tip.Height; height > 0; height -= step {
		header, err := c.store.GetHeaderByHeight(ctx, height)
		if err != nil {
			return nil, err
		}
		hash := header.Hash()
		hashes = append(hashes, &hash)
		if len(hashes) >= denseLocatorHashes {
			step *= 2
		}
	}
	hashes = append(hashes, c.params.GenesisHash)
	return hashes, nil
}

func checkProofOfWork(header wire.BlockHeader, powLimit *big.Int) error {
	target := blockchain.CompactToBig(header.Bits)
	if target.Sign() <= 0 || target.Cmp(powLimit) > 0 {
		return fmt.Errorf("%w: target out of range", ErrBadProofOfWork)
	}
	hash := header.BlockHash()
	if blockchain.HashToBig(&hash).Cmp(target) > 0 {
		return ErrBadProofOfWork
	}
	return nil
}
