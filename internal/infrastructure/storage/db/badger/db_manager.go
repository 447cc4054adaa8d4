package dbbadger

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
	"github.com/timshannon/badgerhold/v4"
)

const gcInterval = 30 * time.Minute

type repoManager struct {
	walletRepository domain.WalletRepository
	swapRepository   domain.SwapRepository
	headerStore      chainwatcher.HeaderStore
}

// NewRepoManager opens (or creates if not exists) the badger stores on disk.
// It creates a dedicated directory for wallet, headers and swaps under the
// given base dir. An empty base dir makes all stores in-memory.
func NewRepoManager(
	baseDbDir string, logger badger.Logger,
) (ports.RepoManager, error) {
	var walletDir, headersDir, swapsDir string
	if len(baseDbDir) > 0 {
		walletDir = filepath.Join(baseDbDir, "wallet")
		headersDir = filepath.Join(baseDbDir, "headers")
		swapsDir = filepath.Join(baseDbDir, "swaps")
	}

	walletDb, err := createDb(walletDir, logger)
	if err != nil {
		return nil, fmt.Errorf("opening wallet db: %w", err)
	}

	headersDb, err := createDb(headersDir, logger)
	if err != nil {
		walletDb.close()
		return nil, fmt.Errorf("opening headers db: %w", err)
	}

	swapsDb, err := createDb(swapsDir, logger)
	if err != nil {
		walletDb.close()
		headersDb.close()
		return nil, fmt.Errorf("opening swaps db: %w", err)
	}

	return &repoManager{
		walletRepository: NewWalletRepositoryImpl(walletDb),
		headerStore:      NewHeaderStoreImpl(headersDb),
		swapRepository:   NewSwapRepositoryImpl(swapsDb),
	}, nil
}

func (r *repoManager) WalletRepository() domain.WalletRepository {
	return r.walletRepository
}

func (r *repoManager) SwapRepository() domain.SwapRepository {
	return r.swapRepository
}

func (r *repoManager) HeaderStore() chainwatcher.HeaderStore {
	return r.headerStore
}

func (r *repoManager) Close() {
	r.walletRepository.Close()
	r.headerStore.Close()
	r.swapRepository.Close()
}

// db wraps a badgerhold store with the value log GC routine of on-disk dbs.
type db struct {
	*badgerhold.Store
	quit chan struct{}
}

func createDb(dbDir string, logger badger.Logger) (*db, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	d := &db{store, make(chan struct{})}

	if !isInMemory {
		ticker := time.NewTicker(gcInterval)

		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := store.Badger().RunValueLogGC(0.5); err != nil &&
						err != badger.ErrNoRewrite && logger != nil {
						logger.Errorf("value log gc: %s", err)
					}
				case <-d.quit:
					return
				}
			}
		}()
	}

	return d, nil
}

func (d *db) close() {
	close(d.quit)
	d.Store.Close()
}
