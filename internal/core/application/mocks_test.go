package application_test

import (
	"bytes"
	"context"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
)

// **** Chain watcher ****

type mockChain struct {
	mock.Mock

	lock      sync.Mutex
	watched   [][]byte
	outpoints []wire.OutPoint
}

func (m *mockChain) Watch(script []byte) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.watched = append(m.watched, script)
	return true
}

func (m *mockChain) WatchOutpoint(outpoint wire.OutPoint) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.outpoints = append(m.outpoints, outpoint)
	return true
}

func (m *mockChain) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	args := m.Called(tx)
	return args.Error(0)
}

func (m *mockChain) Progress() float64 {
	args := m.Called()
	return args.Get(0).(float64)
}

func (m *mockChain) Tip() (int32, chainhash.Hash) {
	args := m.Called()
	return args.Get(0).(int32), chainhash.Hash{}
}

func (m *mockChain) BestPeerHeight() int32 {
	args := m.Called()
	return args.Get(0).(int32)
}

func (m *mockChain) watchedCount() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.watched)
}

func (m *mockChain) isWatched(script []byte) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, s := range m.watched {
		if bytes.Equal(s, script) {
			return true
		}
	}
	return false
}

func (m *mockChain) watchedOutpoints() []wire.OutPoint {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]wire.OutPoint{}, m.outpoints...)
}

var _ ports.ChainService = (*mockChain)(nil)

// **** Event source ****

type mockEventSource struct {
	events chan chainwatcher.Event
}

func (m *mockEventSource) Events() <-chan chainwatcher.Event {
	return m.events
}

// **** Leg ****

type mockLeg struct {
	mock.Mock
	ledger string

	lock    sync.Mutex
	watched []domain.HTLCParams
}

func (m *mockLeg) Ledger() string {
	return m.ledger
}

func (m *mockLeg) Watch(ctx context.Context, htlc domain.HTLCParams) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.watched = append(m.watched, htlc)
	return nil
}

func (m *mockLeg) watchedContracts() []domain.HTLCParams {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]domain.HTLCParams{}, m.watched...)
}

func (m *mockLeg) Identity(ctx context.Context) (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *mockLeg) Fund(
	ctx context.Context, htlc domain.HTLCParams,
) (string, error) {
	args := m.Called(htlc)
	return args.String(0), args.Error(1)
}

func (m *mockLeg) IsFunded(
	ctx context.Context, htlc domain.HTLCParams,
) (string, bool, error) {
	args := m.Called(htlc)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockLeg) Redeem(
	ctx context.Context, htlc domain.HTLCParams, secret domain.Secret,
) (string, error) {
	args := m.Called(htlc, secret)
	return args.String(0), args.Error(1)
}

func (m *mockLeg) IsConfirmed(ctx context.Context, txid string) (bool, error) {
	args := m.Called(txid)
	return args.Bool(0), args.Error(1)
}

func (m *mockLeg) Refund(
	ctx context.Context, htlc domain.HTLCParams,
) (string, error) {
	args := m.Called(htlc)
	return args.String(0), args.Error(1)
}

var _ ports.Leg = (*mockLeg)(nil)

// **** Maker ****

type mockMaker struct {
	mock.Mock
}

func (m *mockMaker) GetOrder(
	ctx context.Context, pairID string,
) (*domain.Order, error) {
	args := m.Called(pairID)

	var res *domain.Order
	if a := args.Get(0); a != nil {
		res = a.(*domain.Order)
	}
	return res, args.Error(1)
}

func (m *mockMaker) TakeOrder(
	ctx context.Context, req ports.TakeRequest,
) (*ports.TakeResponse, error) {
	args := m.Called(req)

	var res *ports.TakeResponse
	if a := args.Get(0); a != nil {
		res = a.(*ports.TakeResponse)
	}
	return res, args.Error(1)
}

var _ ports.MakerClient = (*mockMaker)(nil)
