package chainwatcher

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bloom"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestSyncFilteredBlocks(t *testing.T) {
	svc := newTestService(t)
	require.True(t, svc.filter.addScript(watchedScript))

	peer := newMockPeer(1, 3)
	svc.handleNewPeer(peer)
	require.Equal(t, 1, svc.ConnectedPeers())
	require.Equal(t, int32(3), svc.BestPeerHeight())

	msgs := peer.popMessages()
	require.Len(t, msgs, 2)
	require.IsType(t, &wire.MsgFilterLoad{}, msgs[0])
	require.IsType(t, &wire.MsgGetHeaders{}, msgs[1])

	fundingTx := newTx(watchedScript, 100000)
	blocks := mineChain(t, *regtest.GenesisHash, 1)
	blocks = append(blocks, mineBlock(t, blocks[0].hash(), fundingTx))
	spendingTx := spendTx(fundingTx, 0, otherScript)
	blocks = append(blocks, mineBlock(t, blocks[1].hash(), spendingTx))

	svc.handleHeaders(peer, headersOf(blocks))
	getData := peer.lastGetData(t)
	require.Len(t, getData.InvList, 3)
	for i, inv := range getData.InvList {
		require.Equal(t, wire.InvTypeFilteredBlock, inv.Type)
		require.Equal(t, blocks[i].hash(), inv.Hash)
	}

	peerFilter := newPeerFilter(watchedScript)

	// block without matches
	svc.handleMerkleBlock(peer, blocks[0].merkleBlock(peerFilter))
	event := nextEvent(t, svc)
	require.Equal(t, BlockConnectedEvent{
		Height:  1,
		Hash:    blocks[0].hash(),
		Header:  blocks[0].header(),
		TxCount: 0,
	}, event)

	// block with a tx paying the watched script: the block event is
	// emitted once its tx is received.
	svc.handleMerkleBlock(peer, blocks[1].merkleBlock(peerFilter))
	requireNoEvent(t, svc)
	svc.handleTx(fundingTx)

	event = nextEvent(t, svc)
	require.Equal(t, BlockConnected, event.Type())
	require.Equal(t, 1, event.(BlockConnectedEvent).TxCount)
	event = nextEvent(t, svc)
	txEvent, ok := event.(TransactionEvent)
	require.True(t, ok)
	require.Equal(t, int32(2), txEvent.Height)
	require.Equal(t, fundingTx.TxHash(), txEvent.Tx.TxHash())
	require.True(t, txEvent.IsConfirmed())

	// the spend of a watched output is matched through its outpoint.
	svc.handleMerkleBlock(peer, blocks[2].merkleBlock(peerFilter))
	svc.handleTx(spendingTx)

	event = nextEvent(t, svc)
	require.Equal(t, int32(3), event.(BlockConnectedEvent).Height)
	require.Equal(t, 1, event.(BlockConnectedEvent).TxCount)
	event = nextEvent(t, svc)
	require.Equal(t, spendingTx.TxHash(), event.(TransactionEvent).Tx.TxHash())

	require.Equal(t, int32(3), svc.SyncedHeight())
	require.Equal(t, float64(1), svc.Progress())
	require.True(t, svc.sync.current)
}

func TestSyncMempool(t *testing.T) {
	svc := newTestService(t)
	require.True(t, svc.filter.addScript(watchedScript))

	peer := newMockPeer(1, 0)
	svc.handleNewPeer(peer)
	peer.popMessages()

	tx := newTx(watchedScript, 5000)
	txHash := tx.TxHash()
	inv := wire.NewMsgInv()
	inv.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &txHash))

	svc.handleInv(peer, inv)
	getData := peer.lastGetData(t)
	require.Len(t, getData.InvList, 1)
	require.Equal(t, wire.InvTypeWitnessTx, getData.InvList[0].Type)

	svc.handleTx(tx)
	event := nextEvent(t, svc)
	txEvent := event.(TransactionEvent)
	require.Zero(t, txEvent.Height)
	require.False(t, txEvent.IsConfirmed())

	// re-delivery and false positives are not emitted
	svc.handleTx(tx)
	svc.handleTx(newTx(otherScript, 5000))
	requireNoEvent(t, svc)

	// already seen txs are not requested again
	svc.handleInv(peer, inv)
	require.Empty(t, peer.popMessages())
}

func TestSyncReorg(t *testing.T) {
	svc := newTestService(t)
	require.True(t, svc.filter.addScript(watchedScript))

	peer := newMockPeer(1, 3)
	svc.handleNewPeer(peer)
	peer.popMessages()

	mainBranch := mineChain(t, *regtest.GenesisHash, 3)
	svc.handleHeaders(peer, headersOf(mainBranch))
	peer.popMessages()
	for _, b := range mainBranch {
		svc.handleMerkleBlock(peer, b.merkleBlock(newPeerFilter(watchedScript)))
		nextEvent(t, svc)
	}
	require.Equal(t, int32(3), svc.SyncedHeight())
	progress := svc.Progress()

	longBranch := mineChain(t, mainBranch[0].hash(), 3)
	svc.handleHeaders(peer, headersOf(longBranch))

	event := nextEvent(t, svc)
	require.Equal(t, BlockDisconnectedEvent{
		ForkHeight: 1,
		ForkHash:   mainBranch[0].hash(),
	}, event)
	require.Equal(t, int32(1), svc.SyncedHeight())
	require.GreaterOrEqual(t, svc.Progress(), progress)

	getData := peer.lastGetData(t)
	require.Len(t, getData.InvList, 3)
	require.Equal(t, longBranch[0].hash(), getData.InvList[0].Hash)

	for i, b := range longBranch {
		svc.handleMerkleBlock(peer, b.merkleBlock(newPeerFilter(watchedScript)))
		event := nextEvent(t, svc).(BlockConnectedEvent)
		require.Equal(t, int32(i+2), event.Height)
		require.Equal(t, b.hash(), event.Hash)
	}
}

func TestSyncMisbehavingPeers(t *testing.T) {
	t.Run("unrequested_merkle_block", func(t *testing.T) {
		svc := newTestService(t)
		peer := newMockPeer(1, 0)
		svc.handleNewPeer(peer)

		block := mineBlock(t, *regtest.GenesisHash)
		svc.handleMerkleBlock(peer, block.merkleBlock(newPeerFilter(watchedScript)))
		requireNoEvent(t, svc)
		require.False(t, peer.disconnected)
	})

	t.Run("invalid_merkle_block", func(t *testing.T) {
		svc := newTestService(t)
		peer := newMockPeer(1, 1)
		svc.handleNewPeer(peer)

		block := mineBlock(t, *regtest.GenesisHash)
		svc.handleHeaders(peer, headersOf([]testBlock{block}))

		msg := block.merkleBlock(newPeerFilter(watchedScript))
		msg.Header.MerkleRoot[0] ^= 0xff
		svc.handleMerkleBlock(peer, msg)
		require.True(t, peer.disconnected)
		require.Zero(t, svc.ConnectedPeers())
		require.Nil(t, svc.sync.syncPeer)
	})

	t.Run("invalid_headers", func(t *testing.T) {
		svc := newTestService(t)
		peer := newMockPeer(1, 3)
		other := newMockPeer(2, 2)
		svc.handleNewPeer(peer)
		svc.handleNewPeer(other)
		require.Equal(t, peer.ID(), svc.sync.syncPeer.ID())

		blocks := mineChain(t, *regtest.GenesisHash, 3)
		headers := headersOf(blocks)
		headers.Headers[1], headers.Headers[2] = headers.Headers[2], headers.Headers[1]
		svc.handleHeaders(peer, headers)

		require.True(t, peer.disconnected)
		require.Equal(t, other.ID(), svc.sync.syncPeer.ID())
	})
}

func TestWatchFilter(t *testing.T) {
	f := newWatchFilter(0)
	require.True(t, f.addScript(watchedScript))
	require.False(t, f.addScript(watchedScript))

	tx := newTx(watchedScript, 1000)
	require.True(t, f.matchAndUpdate(tx))
	require.False(t, f.matchAndUpdate(newTx(otherScript, 1000)))
	require.True(t, f.matchAndUpdate(spendTx(tx, 0, otherScript)))
	require.Equal(t, 2, f.size())

	op := wire.OutPoint{Hash: tx.TxHash(), Index: 0}
	require.False(t, f.addOutpoint(op))

	msg := f.msgFilterLoad()
	require.NotEmpty(t, msg.Filter)
	require.Equal(t, wire.BloomUpdateAll, msg.Flags)
}

func TestWatchOutpoint(t *testing.T) {
	// a coin received in a previous run, spent without change.
	coin := newTx(watchedScript, 1000)
	spend := spendTx(coin, 0, otherScript)

	f := newWatchFilter(0)
	require.True(t, f.addScript(watchedScript))
	require.True(t, f.addOutpoint(wire.OutPoint{Hash: coin.TxHash(), Index: 0}))
	require.Equal(t, 2, f.size())

	peerFilter := bloom.LoadFilter(f.msgFilterLoad())
	require.True(t, peerFilter.MatchTxAndUpdate(btcutil.NewTx(spend)))
	require.True(t, f.matchAndUpdate(spend))
}

func TestBroadcast(t *testing.T) {
	svc := newTestService(t)
	svc.started = 1
	svc.wg.Add(1)
	go svc.syncHandler()
	defer func() {
		close(svc.quit)
		svc.wg.Wait()
	}()

	tx := newTx(watchedScript, 1000)
	err := svc.Broadcast(context.Background(), tx)
	require.ErrorIs(t, err, ErrNoPeers)
	require.True(t, ErrNoPeers.Temporary())

	peer := newMockPeer(1, 0)
	svc.queueMsg(newPeerMsg{peer: peer})

	require.True(t, svc.Watch(watchedScript))
	require.False(t, svc.Watch(watchedScript))

	err = svc.Broadcast(context.Background(), tx)
	require.NoError(t, err)

	// the broadcasted tx pays a watched script and is emitted as mempool tx.
	event := nextEvent(t, svc).(TransactionEvent)
	require.Equal(t, tx.TxHash(), event.Tx.TxHash())

	broadcasted, ok := svc.getBroadcasted(tx.TxHash())
	require.True(t, ok)
	require.Equal(t, tx, broadcasted)
}

func TestStopWithoutConsumer(t *testing.T) {
	svc := newTestService(t)
	svc.emit(BlockConnectedEvent{Height: 1})
	svc.emit(BlockConnectedEvent{Height: 2})

	// nobody reads the events, stopping must not hang.
	close(svc.quit)
	svc.eventQueue.Stop()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-svc.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("event stream not closed")
		}
	}
}
