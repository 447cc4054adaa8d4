package chainwatcher

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var (
	regtest = &chaincfg.RegressionNetParams
	// p2wpkh scripts
	watchedScript = append([]byte{txscript.OP_0, 0x14}, make([]byte, 20)...)
	otherScript   = append([]byte{txscript.OP_0, 0x14}, bytesOf(0xaa, 20)...)
)

func bytesOf(b byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

type memHeaderStore struct {
	lock     sync.Mutex
	byHeight map[int32]StoredHeader
	tip      int32
}

func newMemHeaderStore() *memHeaderStore {
	return &memHeaderStore{byHeight: make(map[int32]StoredHeader), tip: -1}
}

func (m *memHeaderStore) GetTip(_ context.Context) (*StoredHeader, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.tip < 0 {
		return nil, ErrHeaderNotFound
	}
	h := m.byHeight[m.tip]
	return &h, nil
}

func (m *memHeaderStore) GetHeaderByHeight(
	_ context.Context, height int32,
) (*StoredHeader, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	h, ok := m.byHeight[height]
	if !ok {
		return nil, ErrHeaderNotFound
	}
	return &h, nil
}

func (m *memHeaderStore) GetHeaderByHash(
	_ context.Context, hash chainhash.Hash,
) (*StoredHeader, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, h := range m.byHeight {
		if h.Hash() == hash {
			hh := h
			return &hh, nil
		}
	}
	return nil, ErrHeaderNotFound
}

func (m *memHeaderStore) PutHeaders(
	_ context.Context, headers []StoredHeader,
) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if len(headers) == 0 {
		return nil
	}
	for h := headers[0].Height; h <= m.tip; h++ {
		delete(m.byHeight, h)
	}
	for _, h := range headers {
		m.byHeight[h.Height] = h
	}
	m.tip = headers[len(headers)-1].Height
	return nil
}

func (m *memHeaderStore) Close() {}

type mockPeer struct {
	lock         sync.Mutex
	id           int32
	lastBlock    int32
	msgs         []wire.Message
	disconnected bool
}

func newMockPeer(id, lastBlock int32) *mockPeer {
	return &mockPeer{id: id, lastBlock: lastBlock}
}

func (p *mockPeer) ID() int32        { return p.id }
func (p *mockPeer) Addr() string     { return "127.0.0.1:18444" }
func (p *mockPeer) LastBlock() int32 { return p.lastBlock }

func (p *mockPeer) QueueMessage(msg wire.Message, done chan<- struct{}) {
	p.lock.Lock()
	p.msgs = append(p.msgs, msg)
	p.lock.Unlock()
	if done != nil {
		done <- struct{}{}
	}
}

func (p *mockPeer) Disconnect() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.disconnected = true
}

// popMessages returns and clears the queued messages.
func (p *mockPeer) popMessages() []wire.Message {
	p.lock.Lock()
	defer p.lock.Unlock()
	msgs := p.msgs
	p.msgs = nil
	return msgs
}

func (p *mockPeer) lastGetData(t *testing.T) *wire.MsgGetData {
	t.Helper()
	msgs := p.popMessages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(*wire.MsgGetData); ok {
			return m
		}
	}
	t.Fatal("no getdata message queued")
	return nil
}

// testBlock is a mined block along with its transactions.
type testBlock struct {
	block *btcutil.Block
}

func (b testBlock) header() wire.BlockHeader {
	return b.block.MsgBlock().Header
}

func (b testBlock) hash() chainhash.Hash {
	return b.block.MsgBlock().BlockHash()
}

// merkleBlock returns the filtered version of the block, updating the filter
// like a serving peer does.
func (b testBlock) merkleBlock(filter *bloom.Filter) *wire.MsgMerkleBlock {
	msg, _ := bloom.NewMerkleBlock(b.block, filter)
	return msg
}

// newPeerFilter returns the filter a peer builds from our filterload.
func newPeerFilter(scripts ...[]byte) *bloom.Filter {
	filter := bloom.NewFilter(10, 0, 0.000001, wire.BloomUpdateAll)
	for _, script := range scripts {
		pushes, _ := txscript.PushedData(script)
		for _, p := range pushes {
			if len(p) > 0 {
				filter.Add(p)
			}
		}
	}
	return filter
}

var txNonce uint32

// newTx returns a tx with a unique input paying value to script.
func newTx(script []byte, value int64) *wire.MsgTx {
	txNonce++
	tx := wire.NewMsgTx(2)
	prevHash := chainhash.DoubleHashH([]byte{
		byte(txNonce), byte(txNonce >> 8), byte(txNonce >> 16), 0xff,
	})
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	tx.AddTxOut(wire.NewTxOut(value, script))
	return tx
}

func spendTx(prev *wire.MsgTx, index uint32, script []byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	prevHash := prev.TxHash()
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, index), nil, nil))
	tx.AddTxOut(wire.NewTxOut(prev.TxOut[index].Value-1000, script))
	return tx
}

var blockTime = time.Unix(1700000000, 0)

// mineBlock builds a block on top of prev containing a coinbase-like tx plus
// the given ones, and grinds the nonce to meet the regtest target.
func mineBlock(
	t *testing.T, prev chainhash.Hash, txs ...*wire.MsgTx,
) testBlock {
	t.Helper()

	all := append([]*wire.MsgTx{newTx(otherScript, 50e8)}, txs...)
	utilTxs := make([]*btcutil.Tx, 0, len(all))
	for _, tx := range all {
		utilTxs = append(utilTxs, btcutil.NewTx(tx))
	}
	merkles := blockchain.BuildMerkleTreeStore(utilTxs, false)

	blockTime = blockTime.Add(10 * time.Minute)
	header := wire.BlockHeader{
		Version:    1,
		PrevBlock:  prev,
		MerkleRoot: *merkles[len(merkles)-1],
		Timestamp:  blockTime,
		Bits:       regtest.PowLimitBits,
	}
	target := blockchain.CompactToBig(header.Bits)
	for nonce := uint32(0); ; nonce++ {
		header.Nonce = nonce
		hash := header.BlockHash()
		if blockchain.HashToBig(&hash).Cmp(target) <= 0 {
			break
		}
	}

	msgBlock := &wire.MsgBlock{Header: header, Transactions: all}
	return testBlock{block: btcutil.NewBlock(msgBlock)}
}

// mineChain mines n empty blocks on top of prev.
func mineChain(t *testing.T, prev chainhash.Hash, n int) []testBlock {
	blocks := make([]testBlock, 0, n)
	for i := 0; i < n; i++ {
		b := mineBlock(t, prev)
		blocks = append(blocks, b)
		prev = b.hash()
	}
	return blocks
}

func headersOf(blocks []testBlock) *wire.MsgHeaders {
	msg := wire.NewMsgHeaders()
	for _, b := range blocks {
		h := b.header()
		msg.AddBlockHeader(&h)
	}
	return msg
}

func newTestService(t *testing.T) *service {
	t.Helper()

	svc, err := newService(Opts{
		ChainParams:  regtest,
		HeaderStore:  newMemHeaderStore(),
		ConnectPeers: []string{"127.0.0.1"},
	})
	require.NoError(t, err)

	svc.startEventQueue()
	svc.sync.nextHeight = 1
	return svc
}

func nextEvent(t *testing.T, svc *service) Event {
	t.Helper()
	select {
	case e := <-svc.Events():
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func requireNoEvent(t *testing.T, svc *service) {
	t.Helper()
	select {
	case e := <-svc.Events():
		t.Fatalf("unexpected event %s", e.Type())
	case <-time.After(100 * time.Millisecond):
	}
}

func workOf(n int) *big.Int {
	return new(big.Int).Mul(
		big.NewInt(int64(n)), blockchain.CalcWork(regtest.PowLimitBits),
	)
}
