package chainwatcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/connmgr"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultTargetOutbound is the number of outbound peers to keep.
	DefaultTargetOutbound = 8

	eventQueueInitialSize = 100
	msgChanSize           = 50
	connectionRetry       = 5 * time.Second
	dialTimeout           = 30 * time.Second
	// at most one new connection attempt every dialInterval, with bursts
	// up to the target number of peers.
	dialInterval = 500 * time.Millisecond
)

var (
	// ErrMissingChainParams ...
	ErrMissingChainParams = errors.New("missing chain params")
	// ErrMissingHeaderStore ...
	ErrMissingHeaderStore = errors.New("missing header store")
)

// Opts defines the parameters needed for creating a chain watcher with
// NewService.
type Opts struct {
	ChainParams *chaincfg.Params
	HeaderStore HeaderStore
	Logger      logrus.FieldLogger
	// TargetOutbound defaults to DefaultTargetOutbound.
	TargetOutbound uint32
	// ConnectPeers, if not empty, are the only peers connected to. The
	// port can be omitted, DefaultPort is used in that case.
	ConnectPeers []string
	// DefaultPort defaults to the network's one.
	DefaultPort string
	// FalsePositiveRate of the bloom filter sent to peers.
	FalsePositiveRate float64
	UserAgentName     string
	UserAgentVersion  string
	// Dial defaults to a TCP dialer.
	Dial func(net.Addr) (net.Conn, error)
}

func (o Opts) validate() error {
	if o.ChainParams == nil {
		return ErrMissingChainParams
	}
	if o.HeaderStore == nil {
		return ErrMissingHeaderStore
	}
	if len(o.ConnectPeers) == 0 && len(o.ChainParams.DNSSeeds) == 0 {
		return ErrNoPeerSource
	}
	return nil
}

type service struct {
	params  *chaincfg.Params
	opts    Opts
	log     logrus.FieldLogger
	headers *headerChain
	filter  *watchFilter

	eventQueue *queue.ConcurrentQueue
	events     chan Event
	msgChan    chan interface{}

	connManager *connmgr.ConnManager
	addrs       *addressPool
	dialLimiter *rate.Limiter

	// every connected peer, including those still handshaking.
	livePeers sync.Map

	broadcastedLock sync.RWMutex
	broadcasted     map[chainhash.Hash]*wire.MsgTx

	syncedHeight int32
	bestHeight   int32
	peerCount    int32

	progressLock sync.Mutex
	progress     float64

	// owned by the sync handler goroutine.
	sync *syncState

	started int32
	stopped int32
	quit    chan struct{}
	wg      sync.WaitGroup
}

// NewService returns a chain watcher ready to Start. The header chain is
// loaded from the given store, so that a restarted watcher resumes from the
// last known tip.
func NewService(opts Opts) (Service, error) {
	return newService(opts)
}

func newService(opts Opts) (*service, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.TargetOutbound == 0 {
		opts.TargetOutbound = DefaultTargetOutbound
	}
	if opts.DefaultPort == "" {
		opts.DefaultPort = opts.ChainParams.DefaultPort
	}
	if opts.UserAgentName == "" {
		opts.UserAgentName = "chainwatcher"
	}
	if opts.UserAgentVersion == "" {
		opts.UserAgentVersion = "0.1.0"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Dial == nil {
		opts.Dial = func(addr net.Addr) (net.Conn, error) {
			return net.DialTimeout(addr.Network(), addr.String(), dialTimeout)
		}
	}

	headers, err := newHeaderChain(
		context.Background(), opts.HeaderStore, opts.ChainParams,
	)
	if err != nil {
		return nil, err
	}

	return &service{
		params:      opts.ChainParams,
		opts:        opts,
		log:         logger.WithField("module", "chainwatcher"),
		headers:     headers,
		filter:      newWatchFilter(opts.FalsePositiveRate),
		eventQueue:  queue.NewConcurrentQueue(eventQueueInitialSize),
		events:      make(chan Event),
		msgChan:     make(chan interface{}, msgChanSize),
		addrs:       newAddressPool(),
		dialLimiter: rate.NewLimiter(rate.Every(dialInterval), int(opts.TargetOutbound)),
		broadcasted: make(map[chainhash.Hash]*wire.MsgTx),
		sync:        newSyncState(),
		quit:        make(chan struct{}),
	}, nil
}

func (s *service) Start(fromHeight int32) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return ErrAlreadyStarted
	}
	if fromHeight < 1 {
		fromHeight = 1
	}

	s.startEventQueue()
	s.sync.nextHeight = fromHeight
	atomic.StoreInt32(&s.syncedHeight, fromHeight-1)

	s.wg.Add(1)
	go s.syncHandler()

	tipHeight, tipHash := s.Tip()
	s.log.WithFields(logrus.Fields{
		"network":     s.params.Name,
		"tip_height":  tipHeight,
		"tip_hash":    tipHash.String(),
		"from_height": fromHeight,
	}).Info("starting chain sync")

	return s.startConnManager()
}

func (s *service) Stop() {
	if atomic.LoadInt32(&s.started) == 0 {
		return
	}
	if !atomic.CompareAndSwapInt32(&s.stopped, 0, 1) {
		return
	}

	close(s.quit)
	if s.connManager != nil {
		s.connManager.Stop()
	}
	s.livePeers.Range(func(_, value interface{}) bool {
		value.(remotePeer).Disconnect()
		return true
	})
	s.wg.Wait()

	// events not yet consumed are dropped, the next run syncs them again.
	s.eventQueue.Stop()
	s.log.Info("chain sync stopped")
}

func (s *service) Watch(script []byte) bool {
	if len(script) == 0 || !s.filter.addScript(script) {
		return false
	}
	s.queueMsg(filterChangedMsg{})
	return true
}

func (s *service) WatchOutpoint(outpoint wire.OutPoint) bool {
	if !s.filter.addOutpoint(outpoint) {
		return false
	}
	s.queueMsg(filterChangedMsg{})
	return true
}

func (s *service) Events() <-chan Event {
	return s.events
}

func (s *service) Tip() (int32, chainhash.Hash) {
	tip := s.headers.getTip()
	return tip.Height, tip.Hash()
}

func (s *service) SyncedHeight() int32 {
	return atomic.LoadInt32(&s.syncedHeight)
}

func (s *service) BestPeerHeight() int32 {
	return atomic.LoadInt32(&s.bestHeight)
}

func (s *service) ConnectedPeers() int {
	return int(atomic.LoadInt32(&s.peerCount))
}

// Progress never decreases: a peer announcing a lower height or a reorg to a
// shorter chain don't move it backwards.
func (s *service) Progress() float64 {
	best := atomic.LoadInt32(&s.bestHeight)
	local := atomic.LoadInt32(&s.syncedHeight)

	s.progressLock.Lock()
	defer s.progressLock.Unlock()

	if best <= 0 {
		return s.progress
	}
	if local > best {
		best = local
	}
	if p := float64(local) / float64(best); p > s.progress {
		s.progress = p
	}
	return s.progress
}

func (s *service) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if atomic.LoadInt32(&s.started) == 0 {
		return ErrNotStarted
	}

	reply := make(chan []remotePeer, 1)
	if !s.queueMsg(getPeersMsg{reply: reply}) {
		return ErrNotStarted
	}
	var peers []remotePeer
	select {
	case peers = <-reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	if len(peers) == 0 {
		return ErrNoPeers
	}

	txHash := tx.TxHash()
	s.broadcastedLock.Lock()
	s.broadcasted[txHash] = tx
	s.broadcastedLock.Unlock()

	done := make(chan struct{}, len(peers))
	for _, p := range peers {
		p.QueueMessage(tx, done)
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrNotStarted
	}

	s.log.WithFields(logrus.Fields{
		"txid":  txHash.String(),
		"peers": len(peers),
	}).Debug("transaction broadcasted")

	s.queueMsg(broadcastMsg{tx: tx})
	return nil
}

// startEventQueue starts the unbounded queue decoupling the sync handler from
// the consumer and the goroutine converting its output to typed events.
func (s *service) startEventQueue() {
	s.eventQueue.Start()
	go func() {
		defer close(s.events)
		for {
			select {
			case item, ok := <-s.eventQueue.ChanOut():
				if !ok {
					return
				}
				event, ok := item.(Event)
				if !ok {
					continue
				}
				select {
				case s.events <- event:
				case <-s.quit:
					return
				}
			case <-s.quit:
				return
			}
		}
	}()
}

func (s *service) emit(event Event) {
	s.eventQueue.ChanIn() <- event
}

// queueMsg hands a message to the sync handler. It returns false if the
// watcher is stopping.
func (s *service) queueMsg(msg interface{}) bool {
	if atomic.LoadInt32(&s.started) == 0 {
		if _, ok := msg.(filterChangedMsg); ok {
			// the filter is loaded anyway on connection.
			return false
		}
	}
	select {
	case s.msgChan <- msg:
		return true
	case <-s.quit:
		return false
	}
}

func (s *service) updateBestHeight(height int32) {
	for {
		current := atomic.LoadInt32(&s.bestHeight)
		if height <= current {
			return
		}
		if atomic.CompareAndSwapInt32(&s.bestHeight, current, height) {
			return
		}
	}
}

func (s *service) newestBlock() (*chainhash.Hash, int32, error) {
	height, hash := s.Tip()
	return &hash, height, nil
}

func (s *service) getBroadcasted(hash chainhash.Hash) (*wire.MsgTx, bool) {
	s.broadcastedLock.RLock()
	defer s.broadcastedLock.RUnlock()
	tx, ok := s.broadcasted[hash]
	return tx, ok
}

func (s *service) String() string {
	return fmt.Sprintf("chainwatcher(%s)", s.params.Name)
}
