package chainwatcher

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

const defaultFalsePositiveRate = 0.0001

// watchFilter is the set of scripts and outpoints the wallet is interested
// in. It builds the bloom filter sent to peers and matches transactions
// locally to discard the filter's false positives.
type watchFilter struct {
	lock      sync.RWMutex
	scripts   map[string][]byte
	outpoints map[wire.OutPoint]struct{}
	fpRate    float64
	tweak     uint32
}

func newWatchFilter(fpRate float64) *watchFilter {
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = defaultFalsePositiveRate
	}
	var tweak [4]byte
	rand.Read(tweak[:])

	return &watchFilter{
		scripts:   make(map[string][]byte),
		outpoints: make(map[wire.OutPoint]struct{}),
		fpRate:    fpRate,
		tweak:     binary.LittleEndian.Uint32(tweak[:]),
	}
}

func (f *watchFilter) addScript(script []byte) bool {
	key := hex.EncodeToString(script)

	f.lock.Lock()
	defer f.lock.Unlock()

	if _, ok := f.scripts[key]; ok {
		return false
	}
	f.scripts[key] = append([]byte{}, script...)
	return true
}

func (f *watchFilter) addOutpoint(op wire.OutPoint) bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	if _, ok := f.outpoints[op]; ok {
		return false
	}
	f.outpoints[op] = struct{}{}
	return true
}

func (f *watchFilter) size() int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return len(f.scripts) + len(f.outpoints)
}

// msgFilterLoad builds the bloom filter. Output scripts are added by their
// data pushes, as peers match on them. Matched outputs are added by peers to
// their copy of the filter so that their spends are matched too.
func (f *watchFilter) msgFilterLoad() *wire.MsgFilterLoad {
	f.lock.RLock()
	defer f.lock.RUnlock()

	elements := uint32(len(f.scripts) + len(f.outpoints))
	if elements == 0 {
		elements = 1
	}
	filter := bloom.NewFilter(elements, f.tweak, f.fpRate, wire.BloomUpdateAll)

	for _, script := range f.scripts {
		pushes, err := txscript.PushedData(script)
		if err != nil {
			filter.Add(script)
			continue
		}
		// OP_0 of witness programs pushes nothing, it would match any
		// segwit output.
		for _, data := range pushes {
			if len(data) > 0 {
				filter.Add(data)
			}
		}
	}
	for op := range f.outpoints {
		outpoint := op
		filter.AddOutPoint(&outpoint)
	}

	return filter.MsgFilterLoad()
}

// matchAndUpdate returns whether the tx pays a watched script or spends a
// watched outpoint. Outputs paying watched scripts are added to the watched
// outpoints.
func (f *watchFilter) matchAndUpdate(tx *wire.MsgTx) bool {
	f.lock.Lock()
	defer f.lock.Unlock()

	matched := false
	txHash := tx.TxHash()
	for i, out := range tx.TxOut {
		if _, ok := f.scripts[hex.EncodeToString(out.PkScript)]; ok {
			matched = true
			f.outpoints[wire.OutPoint{Hash: txHash, Index: uint32(i)}] = struct{}{}
		}
	}
	for _, in := range tx.TxIn {
		if _, ok := f.outpoints[in.PreviousOutPoint]; ok {
			matched = true
		}
	}
	return matched
}
