package chainwatcher

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
)

const (
	// max number of filtered blocks in flight.
	maxRequestedBlocks = 500
	// size after which the set of already seen mempool txs is reset.
	maxSeenTxs = 20000
)

type newPeerMsg struct {
	peer remotePeer
}

type donePeerMsg struct {
	peer remotePeer
}

type headersMsg struct {
	peer remotePeer
	msg  *wire.MsgHeaders
}

type merkleBlockMsg struct {
	peer remotePeer
	msg  *wire.MsgMerkleBlock
}

type txMsg struct {
	peer remotePeer
	tx   *wire.MsgTx
}

type invMsg struct {
	peer remotePeer
	msg  *wire.MsgInv
}

type filterChangedMsg struct{}

type broadcastMsg struct {
	tx *wire.MsgTx
}

type getPeersMsg struct {
	reply chan []remotePeer
}

type blockRequest struct {
	height int32
	hash   chainhash.Hash
}

// pendingBlock is a verified merkle block waiting for its matched txs, which
// peers send right after it.
type pendingBlock struct {
	height int32
	hash   chainhash.Hash
	header wire.BlockHeader
	txids  []chainhash.Hash
	txs    map[chainhash.Hash]*wire.MsgTx
}

func newPendingBlock(
	req blockRequest, header wire.BlockHeader, txids []chainhash.Hash,
) *pendingBlock {
	txs := make(map[chainhash.Hash]*wire.MsgTx, len(txids))
	for _, txid := range txids {
		txs[txid] = nil
	}
	return &pendingBlock{
		height: req.height,
		hash:   req.hash,
		header: header,
		txids:  txids,
		txs:    txs,
	}
}

// add returns false if the tx is not part of the block.
func (b *pendingBlock) add(tx *wire.MsgTx) bool {
	txid := tx.TxHash()
	if _, ok := b.txs[txid]; !ok {
		return false
	}
	b.txs[txid] = tx
	return true
}

func (b *pendingBlock) isComplete() bool {
	for _, tx := range b.txs {
		if tx == nil {
			return false
		}
	}
	return true
}

// syncState is owned by the sync handler goroutine.
type syncState struct {
	peers      map[int32]remotePeer
	syncPeer   remotePeer
	requested  []blockRequest
	nextHeight int32
	pending    *pendingBlock
	seenTxs    map[chainhash.Hash]struct{}
	// txs of merkle blocks that were not requested or are no longer
	// wanted, dropped when received.
	discard map[chainhash.Hash]struct{}
	current bool
}

func newSyncState() *syncState {
	return &syncState{
		peers:   make(map[int32]remotePeer),
		seenTxs: make(map[chainhash.Hash]struct{}),
		discard: make(map[chainhash.Hash]struct{}),
	}
}

func (st *syncState) isSyncPeer(p remotePeer) bool {
	return st.syncPeer != nil && st.syncPeer.ID() == p.ID()
}

func (st *syncState) markSeen(txid chainhash.Hash) {
	if len(st.seenTxs) >= maxSeenTxs {
		st.seenTxs = make(map[chainhash.Hash]struct{})
	}
	st.seenTxs[txid] = struct{}{}
}

func (st *syncState) isSeen(txid chainhash.Hash) bool {
	_, ok := st.seenTxs[txid]
	return ok
}

// syncHandler serializes every message coming from peers, so that events are
// emitted in order.
func (s *service) syncHandler() {
	defer s.wg.Done()

	for {
		select {
		case m := <-s.msgChan:
			s.handleMsg(m)
		case <-s.quit:
			return
		}
	}
}

func (s *service) handleMsg(m interface{}) {
	switch msg := m.(type) {
	case newPeerMsg:
		s.handleNewPeer(msg.peer)
	case donePeerMsg:
		s.handleDonePeer(msg.peer)
	case headersMsg:
		if s.isKnownPeer(msg.peer) {
			s.handleHeaders(msg.peer, msg.msg)
		}
	case merkleBlockMsg:
		if s.isKnownPeer(msg.peer) {
			s.handleMerkleBlock(msg.peer, msg.msg)
		}
	case txMsg:
		if s.isKnownPeer(msg.peer) {
			s.handleTx(msg.tx)
		}
	case invMsg:
		if s.isKnownPeer(msg.peer) {
			s.handleInv(msg.peer, msg.msg)
		}
	case filterChangedMsg:
		s.handleFilterChanged()
	case broadcastMsg:
		s.handleMempoolTx(msg.tx)
	case getPeersMsg:
		peers := make([]remotePeer, 0, len(s.sync.peers))
		for _, p := range s.sync.peers {
			peers = append(peers, p)
		}
		msg.reply <- peers
	default:
		s.log.Warnf("unknown sync message %T", m)
	}
}

func (s *service) isKnownPeer(p remotePeer) bool {
	_, ok := s.sync.peers[p.ID()]
	return ok
}

func (s *service) handleNewPeer(p remotePeer) {
	st := s.sync
	st.peers[p.ID()] = p
	atomic.StoreInt32(&s.peerCount, int32(len(st.peers)))
	s.updateBestHeight(p.LastBlock())

	p.QueueMessage(s.filter.msgFilterLoad(), nil)

	s.log.WithFields(logrus.Fields{
		"peer":   p.Addr(),
		"height": p.LastBlock(),
		"peers":  len(st.peers),
	}).Info("peer connected")

	if st.syncPeer == nil {
		s.startSync()
	}
}

func (s *service) handleDonePeer(p remotePeer) {
	st := s.sync
	if _, ok := st.peers[p.ID()]; !ok {
		return
	}
	delete(st.peers, p.ID())
	atomic.StoreInt32(&s.peerCount, int32(len(st.peers)))

	s.log.WithFields(logrus.Fields{
		"peer":  p.Addr(),
		"peers": len(st.peers),
	}).Info("peer disconnected")

	if st.isSyncPeer(p) {
		st.syncPeer = nil
		s.resetBlockRequests()
		s.startSync()
	}
}

// dropPeer disconnects a misbehaving peer and forgets about it right away so
// that its queued messages are ignored.
func (s *service) dropPeer(p remotePeer, reason error) {
	s.log.WithError(reason).Warnf("dropping peer %s", p.Addr())
	p.Disconnect()
	s.handleDonePeer(p)
}

func (s *service) startSync() {
	st := s.sync

	var best remotePeer
	for _, p := range st.peers {
		if best == nil || p.LastBlock() > best.LastBlock() {
			best = p
		}
	}
	if best == nil {
		s.log.Debug("no peers to sync from, waiting for connections")
		return
	}

	st.syncPeer = best
	s.log.Debugf("syncing from peer %s", best.Addr())
	s.requestHeaders(best)
}

func (s *service) resetBlockRequests() {
	st := s.sync
	for _, r := range st.requested {
		st.discard[r.hash] = struct{}{}
	}
	st.requested = nil
	st.pending = nil
	st.nextHeight = atomic.LoadInt32(&s.syncedHeight) + 1
	st.current = false
}

func (s *service) requestHeaders(p remotePeer) {
	locator, err := s.headers.locator(context.Background())
	if err != nil {
		s.log.WithError(err).Warn("failed to build block locator")
		return
	}

	msg := wire.NewMsgGetHeaders()
	for _, hash := range locator {
		if err := msg.AddBlockLocatorHash(hash); err != nil {
			break
		}
	}
	p.QueueMessage(msg, nil)
}

func (s *service) handleHeaders(p remotePeer, msg *wire.MsgHeaders) {
	st := s.sync

	res, err := s.headers.connect(context.Background(), msg.Headers)
	if err != nil {
		if errors.Is(err, ErrOrphanHeaders) && st.isSyncPeer(p) {
			s.requestHeaders(p)
			return
		}
		if errors.Is(err, ErrOrphanHeaders) {
			return
		}
		s.dropPeer(p, err)
		return
	}

	if res.reorged {
		s.handleReorg(res)
	}

	tip := s.headers.getTip()
	s.updateBestHeight(tip.Height)
	if res.connected > 0 {
		s.log.WithFields(logrus.Fields{
			"count":  res.connected,
			"height": tip.Height,
			"hash":   tip.Hash().String(),
		}).Debug("headers connected")
	}

	if len(msg.Headers) == wire.MaxBlockHeadersPerMsg {
		s.requestHeaders(p)
		return
	}
	if st.syncPeer == nil {
		st.syncPeer = p
	}
	s.requestBlocks()
}

// handleReorg rewinds block sync to the fork point.
func (s *service) handleReorg(res *connectResult) {
	st := s.sync

	s.log.WithFields(logrus.Fields{
		"fork_height": res.forkHeight,
		"fork_hash":   res.forkHash.String(),
	}).Warn("chain reorganization")

	kept := make([]blockRequest, 0, len(st.requested))
	for _, r := range st.requested {
		if r.height <= res.forkHeight {
			kept = append(kept, r)
			continue
		}
		st.discard[r.hash] = struct{}{}
	}
	st.requested = kept
	if st.pending != nil && st.pending.height > res.forkHeight {
		st.pending = nil
	}
	if st.nextHeight > res.forkHeight+1 {
		st.nextHeight = res.forkHeight + 1
	}

	if atomic.LoadInt32(&s.syncedHeight) > res.forkHeight {
		atomic.StoreInt32(&s.syncedHeight, res.forkHeight)
		s.emit(BlockDisconnectedEvent{
			ForkHeight: res.forkHeight,
			ForkHash:   res.forkHash,
		})
	}
}

// requestBlocks keeps up to maxRequestedBlocks filtered blocks in flight
// from the sync peer. Blocks are always requested in height order.
func (s *service) requestBlocks() {
	st := s.sync
	if st.syncPeer == nil {
		return
	}

	tip := s.headers.getTip()
	getData := wire.NewMsgGetData()
	for st.nextHeight <= tip.Height && len(st.requested) < maxRequestedBlocks {
		header, err := s.headers.headerByHeight(
			context.Background(), st.nextHeight,
		)
		if err != nil {
			s.log.WithError(err).Warnf(
				"failed to get header at height %d", st.nextHeight,
			)
			break
		}
		hash := header.Hash()
		if err := getData.AddInvVect(
			wire.NewInvVect(wire.InvTypeFilteredBlock, &hash),
		); err != nil {
			break
		}
		st.requested = append(st.requested, blockRequest{
			height: st.nextHeight,
			hash:   hash,
		})
		st.nextHeight++
	}

	if len(getData.InvList) > 0 {
		st.current = false
		st.syncPeer.QueueMessage(getData, nil)
		return
	}

	if len(st.requested) == 0 && st.pending == nil && !st.current {
		st.current = true
		s.log.WithField(
			"height", atomic.LoadInt32(&s.syncedHeight),
		).Info("chain synced")
	}
}

func (s *service) handleMerkleBlock(p remotePeer, msg *wire.MsgMerkleBlock) {
	st := s.sync

	txids, err := extractMatches(msg)
	if err != nil {
		s.dropPeer(p, err)
		return
	}

	hash := msg.Header.BlockHash()
	if len(st.requested) == 0 || st.requested[0].hash != hash {
		for _, txid := range txids {
			st.discard[txid] = struct{}{}
		}
		s.log.Debugf("ignoring unexpected merkle block %s", hash)
		return
	}

	if st.pending != nil {
		for _, txid := range txids {
			st.discard[txid] = struct{}{}
		}
		s.dropPeer(p, errors.New(
			"peer did not send all transactions of a filtered block",
		))
		return
	}

	req := st.requested[0]
	st.requested = st.requested[1:]
	st.pending = newPendingBlock(req, msg.Header, txids)
	if st.pending.isComplete() {
		s.connectPendingBlock()
	}
}

func (s *service) handleTx(tx *wire.MsgTx) {
	st := s.sync
	txid := tx.TxHash()

	if st.pending != nil && st.pending.add(tx) {
		if st.pending.isComplete() {
			s.connectPendingBlock()
		}
		return
	}
	if _, ok := st.discard[txid]; ok {
		delete(st.discard, txid)
		return
	}
	s.handleMempoolTx(tx)
}

func (s *service) handleMempoolTx(tx *wire.MsgTx) {
	st := s.sync
	txid := tx.TxHash()
	if st.isSeen(txid) {
		return
	}
	st.markSeen(txid)

	if !s.filter.matchAndUpdate(tx) {
		return
	}
	s.log.WithField("txid", txid.String()).Debug("mempool tx observed")
	s.emit(TransactionEvent{Tx: tx})
}

// connectPendingBlock emits the block followed by its matching txs. Txs
// matched by the bloom filter but not by the watched set are false positives
// and are dropped.
func (s *service) connectPendingBlock() {
	st := s.sync
	block := st.pending
	st.pending = nil

	matched := make([]*wire.MsgTx, 0, len(block.txids))
	for _, txid := range block.txids {
		tx := block.txs[txid]
		if s.filter.matchAndUpdate(tx) {
			matched = append(matched, tx)
		}
	}

	s.emit(BlockConnectedEvent{
		Height:  block.height,
		Hash:    block.hash,
		Header:  block.header,
		TxCount: len(matched),
	})
	for _, tx := range matched {
		st.markSeen(tx.TxHash())
		s.emit(TransactionEvent{
			Tx:        tx,
			Height:    block.height,
			BlockHash: block.hash,
		})
	}
	atomic.StoreInt32(&s.syncedHeight, block.height)

	if len(matched) > 0 {
		s.log.WithFields(logrus.Fields{
			"height": block.height,
			"txs":    len(matched),
		}).Debug("filtered block connected")
	}

	s.requestBlocks()
}

func (s *service) handleInv(p remotePeer, msg *wire.MsgInv) {
	st := s.sync

	getData := wire.NewMsgGetData()
	newBlocks := false
	for _, inv := range msg.InvList {
		switch inv.Type {
		case wire.InvTypeBlock, wire.InvTypeWitnessBlock:
			newBlocks = true
		case wire.InvTypeTx, wire.InvTypeWitnessTx:
			hash := inv.Hash
			if st.isSeen(hash) {
				continue
			}
			getData.AddInvVect(wire.NewInvVect(wire.InvTypeWitnessTx, &hash))
		}
	}

	if len(getData.InvList) > 0 {
		p.QueueMessage(getData, nil)
	}
	if newBlocks && (st.current || st.isSyncPeer(p)) {
		s.requestHeaders(p)
	}
}

func (s *service) handleFilterChanged() {
	if len(s.sync.peers) == 0 {
		return
	}
	msg := s.filter.msgFilterLoad()
	for _, p := range s.sync.peers {
		p.QueueMessage(msg, nil)
	}
	s.log.Debugf("filter reloaded with %d elements", s.filter.size())
}
