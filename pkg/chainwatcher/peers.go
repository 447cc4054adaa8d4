package chainwatcher

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/connmgr"
	"github.com/btcsuite/btcd/peer"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
)

// services peers must offer to serve a SPV client.
const requiredServices = wire.SFNodeNetwork | wire.SFNodeBloom | wire.SFNodeWitness

var errNoAddresses = errors.New("no known peer addresses")

// remotePeer is the subset of *peer.Peer the sync handler talks to.
type remotePeer interface {
	ID() int32
	Addr() string
	LastBlock() int32
	QueueMessage(msg wire.Message, doneChan chan<- struct{})
	Disconnect()
}

// addressPool holds the peer addresses discovered through DNS seeds.
type addressPool struct {
	lock      sync.Mutex
	addrs     map[string]struct{}
	connected map[string]struct{}
}

func newAddressPool() *addressPool {
	return &addressPool{
		addrs:     make(map[string]struct{}),
		connected: make(map[string]struct{}),
	}
}

func (p *addressPool) add(addrs ...string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	for _, addr := range addrs {
		p.addrs[addr] = struct{}{}
	}
}

// pick returns a random known address not currently in use.
func (p *addressPool) pick() (string, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	candidates := make([]string, 0, len(p.addrs))
	for addr := range p.addrs {
		if _, ok := p.connected[addr]; !ok {
			candidates = append(candidates, addr)
		}
	}
	if len(candidates) == 0 {
		return "", errNoAddresses
	}
	addr := candidates[rand.Intn(len(candidates))]
	p.connected[addr] = struct{}{}
	return addr, nil
}

func (p *addressPool) release(addr string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.connected, addr)
}

// remove forgets about an address of a peer not serving us properly.
func (p *addressPool) remove(addr string) {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.addrs, addr)
	delete(p.connected, addr)
}

func (s *service) startConnManager() error {
	cfg := &connmgr.Config{
		RetryDuration:  connectionRetry,
		TargetOutbound: s.opts.TargetOutbound,
		OnConnection:   s.outboundPeerConnected,
		Dial:           s.dial,
	}
	if len(s.opts.ConnectPeers) == 0 {
		cfg.GetNewAddress = s.newAddress
	}

	cm, err := connmgr.New(cfg)
	if err != nil {
		return err
	}
	s.connManager = cm

	if len(s.opts.ConnectPeers) > 0 {
		for _, host := range s.opts.ConnectPeers {
			addr, err := s.resolveAddr(host)
			if err != nil {
				return err
			}
			go cm.Connect(&connmgr.ConnReq{Addr: addr, Permanent: true})
		}
	} else {
		go connmgr.SeedFromDNS(
			s.params, requiredServices, net.LookupIP,
			func(addrs []*wire.NetAddressV2) {
				hosts := make([]string, 0, len(addrs))
				for _, a := range addrs {
					hosts = append(hosts, net.JoinHostPort(
						a.Addr.String(), strconv.Itoa(int(a.Port)),
					))
				}
				s.addrs.add(hosts...)
				s.log.Debugf("discovered %d peer addresses from seeds", len(hosts))
			},
		)
	}

	cm.Start()
	return nil
}

func (s *service) resolveAddr(host string) (net.Addr, error) {
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, s.opts.DefaultPort)
	}
	return net.ResolveTCPAddr("tcp", host)
}

// newAddress paces connection attempts: the connection manager asks for a
// new address right after every failure.
func (s *service) newAddress() (net.Addr, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := s.dialLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	host, err := s.addrs.pick()
	if err != nil {
		return nil, err
	}
	return s.resolveAddr(host)
}

func (s *service) dial(addr net.Addr) (net.Conn, error) {
	conn, err := s.opts.Dial(addr)
	if err != nil {
		s.addrs.release(addr.String())
		return nil, err
	}
	return conn, nil
}

// outboundPeerConnected is invoked by the connection manager when a new
// outbound connection is established.
func (s *service) outboundPeerConnected(c *connmgr.ConnReq, conn net.Conn) {
	p, err := peer.NewOutboundPeer(s.newPeerConfig(), c.Addr.String())
	if err != nil {
		s.log.WithError(err).Debugf("cannot create outbound peer %s", c.Addr)
		s.disconnectReq(c)
		return
	}
	p.AssociateConnection(conn)
	s.livePeers.Store(p.ID(), p)

	s.wg.Add(1)
	go s.peerDoneHandler(p, c)
}

// peerDoneHandler waits for the peer to disconnect, notifies the sync handler
// and asks the connection manager for a replacement.
func (s *service) peerDoneHandler(p *peer.Peer, c *connmgr.ConnReq) {
	defer s.wg.Done()

	p.WaitForDisconnect()
	s.livePeers.Delete(p.ID())
	s.addrs.release(c.Addr.String())

	select {
	case s.msgChan <- donePeerMsg{peer: p}:
	case <-s.quit:
		return
	}
	s.disconnectReq(c)
}

func (s *service) disconnectReq(c *connmgr.ConnReq) {
	select {
	case <-s.quit:
		return
	default:
	}

	if c.Permanent {
		s.connManager.Disconnect(c.ID())
		return
	}
	s.connManager.Remove(c.ID())
	go s.connManager.NewConnReq()
}

func (s *service) newPeerConfig() *peer.Config {
	return &peer.Config{
		Listeners: peer.MessageListeners{
			OnVersion: s.onVersion,
			OnVerAck: func(p *peer.Peer, _ *wire.MsgVerAck) {
				s.queueMsg(newPeerMsg{peer: p})
			},
			OnHeaders: func(p *peer.Peer, msg *wire.MsgHeaders) {
				s.queueMsg(headersMsg{peer: p, msg: msg})
			},
			OnMerkleBlock: func(p *peer.Peer, msg *wire.MsgMerkleBlock) {
				s.queueMsg(merkleBlockMsg{peer: p, msg: msg})
			},
			OnTx: func(p *peer.Peer, msg *wire.MsgTx) {
				s.queueMsg(txMsg{peer: p, tx: msg})
			},
			OnInv: func(p *peer.Peer, msg *wire.MsgInv) {
				s.queueMsg(invMsg{peer: p, msg: msg})
			},
			OnGetData: s.onGetData,
			OnReject: func(p *peer.Peer, msg *wire.MsgReject) {
				s.log.WithFields(logrus.Fields{
					"peer":   p.Addr(),
					"cmd":    msg.Cmd,
					"code":   msg.Code.String(),
					"hash":   msg.Hash.String(),
					"reason": msg.Reason,
				}).Warn("message rejected by peer")
			},
		},
		NewestBlock:      s.newestBlock,
		UserAgentName:    s.opts.UserAgentName,
		UserAgentVersion: s.opts.UserAgentVersion,
		ChainParams:      s.params,
		DisableRelayTx:   true,
	}
}

// onVersion drops peers that can't serve filtered blocks with witness data.
func (s *service) onVersion(p *peer.Peer, msg *wire.MsgVersion) *wire.MsgReject {
	if msg.Services&requiredServices != requiredServices {
		s.log.Debugf(
			"peer %s does not serve filtered witness blocks, disconnecting",
			p.Addr(),
		)
		s.addrs.remove(p.Addr())
		p.Disconnect()
		return nil
	}
	s.updateBestHeight(msg.LastBlock)
	return nil
}

// onGetData serves the transactions we broadcasted.
func (s *service) onGetData(p *peer.Peer, msg *wire.MsgGetData) {
	for _, inv := range msg.InvList {
		if inv.Type != wire.InvTypeTx && inv.Type != wire.InvTypeWitnessTx {
			continue
		}
		tx, ok := s.getBroadcasted(inv.Hash)
		if !ok {
			notFound := wire.NewMsgNotFound()
			notFound.AddInvVect(wire.NewInvVect(inv.Type, &inv.Hash))
			p.QueueMessage(notFound, nil)
			continue
		}
		p.QueueMessage(tx, nil)
	}
}
