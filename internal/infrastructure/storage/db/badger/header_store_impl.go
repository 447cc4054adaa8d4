package dbbadger

import (
	"bytes"
	"context"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/dgraph-io/badger/v3"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
	"github.com/timshannon/badgerhold/v4"
)

const headerTipKey = "tip"

type headerRecord struct {
	Height int32
	Hash   string `badgerholdIndex:"Hash"`
	Header []byte
	Work   []byte
}

type headerTip struct {
	Height int32
}

type headerStoreImpl struct {
	store *db
}

// NewHeaderStoreImpl returns a badger implementation of the chain watcher
// header store.
func NewHeaderStoreImpl(store *db) chainwatcher.HeaderStore {
	return &headerStoreImpl{store}
}

func (h *headerStoreImpl) GetTip(
	ctx context.Context,
) (*chainwatcher.StoredHeader, error) {
	var header *chainwatcher.StoredHeader
	err := h.store.Badger().View(func(tx *badger.Txn) error {
		var tip headerTip
		if err := h.store.TxGet(tx, headerTipKey, &tip); err != nil {
			if err == badgerhold.ErrNotFound {
				return chainwatcher.ErrHeaderNotFound
			}
			return err
		}

		var err error
		header, err = h.getHeaderByHeight(tx, tip.Height)
		return err
	})
	return header, err
}

func (h *headerStoreImpl) GetHeaderByHeight(
	ctx context.Context, height int32,
) (*chainwatcher.StoredHeader, error) {
	var header *chainwatcher.StoredHeader
	err := h.store.Badger().View(func(tx *badger.Txn) error {
		var err error
		header, err = h.getHeaderByHeight(tx, height)
		return err
	})
	return header, err
}

func (h *headerStoreImpl) GetHeaderByHash(
	ctx context.Context, hash chainhash.Hash,
) (*chainwatcher.StoredHeader, error) {
	query := badgerhold.Where("Hash").Eq(hash.String()).Index("Hash")

	var records []headerRecord
	if err := h.store.Find(&records, query); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, chainwatcher.ErrHeaderNotFound
	}
	return fromRecord(records[0])
}

func (h *headerStoreImpl) PutHeaders(
	ctx context.Context, headers []chainwatcher.StoredHeader,
) error {
	if len(headers) == 0 {
		return ErrEmptyHeaders
	}

	return h.store.Badger().Update(func(tx *badger.Txn) error {
		query := badgerhold.Where("Height").Ge(headers[0].Height)
		if err := h.store.TxDeleteMatching(tx, headerRecord{}, query); err != nil {
			return err
		}

		for _, header := range headers {
			record, err := toRecord(header)
			if err != nil {
				return err
			}
			if err := h.store.TxInsert(tx, header.Height, record); err != nil {
				return err
			}
		}

		tip := headerTip{headers[len(headers)-1].Height}
		return h.store.TxUpsert(tx, headerTipKey, tip)
	})
}

func (h *headerStoreImpl) Close() {
	h.store.close()
}

func (h *headerStoreImpl) getHeaderByHeight(
	tx *badger.Txn, height int32,
) (*chainwatcher.StoredHeader, error) {
	var record headerRecord
	if err := h.store.TxGet(tx, height, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, chainwatcher.ErrHeaderNotFound
		}
		return nil, err
	}
	return fromRecord(record)
}

func toRecord(header chainwatcher.StoredHeader) (headerRecord, error) {
	var buf bytes.Buffer
	if err := header.Header.Serialize(&buf); err != nil {
		return headerRecord{}, err
	}
	hash := header.Hash()

	var work []byte
	if header.Work != nil {
		work = header.Work.Bytes()
	}

	return headerRecord{
		Height: header.Height,
		Hash:   hash.String(),
		Header: buf.Bytes(),
		Work:   work,
	}, nil
}

func fromRecord(record headerRecord) (*chainwatcher.StoredHeader, error) {
	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(record.Header)); err != nil {
		return nil, err
	}

	return &chainwatcher.StoredHeader{
		Height: record.Height,
		Header: header,
		Work:   new(big.Int).SetBytes(record.Work),
	}, nil
}
