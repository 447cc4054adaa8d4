package application_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tdex-network/tdex-taker/internal/core/application"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	dbbadger "github.com/tdex-network/tdex-taker/internal/infrastructure/storage/db/badger"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
	"github.com/tdex-network/tdex-taker/pkg/wallet"
)

var (
	ctx       = context.Background()
	testSeed  = bytes.Repeat([]byte{0x42}, 32)
	startTime = time.Unix(1700000000, 0)
	testLog   = func() logrus.FieldLogger {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		return l
	}()
)

func newTestRepoManager(t *testing.T) ports.RepoManager {
	repoManager, err := dbbadger.NewRepoManager("", nil)
	require.NoError(t, err)
	t.Cleanup(repoManager.Close)
	return repoManager
}

func newTestNetwork(t *testing.T) domain.Network {
	network, err := domain.ParseNetwork("regtest", 0)
	require.NoError(t, err)
	return network
}

func newTestAccount(t *testing.T) *wallet.Account {
	master, err := hdkeychain.NewMaster(testSeed, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	account, err := wallet.NewAccount(wallet.AccountOpts{
		ExtendedKey: master.String(),
		Network:     &chaincfg.RegressionNetParams,
	})
	require.NoError(t, err)
	return account
}

type testWallet struct {
	application.WalletService
	chain   *mockChain
	repo    domain.WalletRepository
	account *wallet.Account
}

func newTestWallet(t *testing.T) *testWallet {
	repo := newTestRepoManager(t).WalletRepository()
	return newTestWalletWithRepo(t, repo, newTestAccount(t))
}

func newTestWalletWithRepo(
	t *testing.T, repo domain.WalletRepository, account *wallet.Account,
) *testWallet {
	chain := &mockChain{}
	w, err := application.NewWalletService(application.WalletConfig{
		Network:      newTestNetwork(t),
		Account:      account,
		Repository:   repo,
		Chain:        chain,
		FeeEstimator: application.NewStaticFeeEstimator(1000),
		Clock:        clock.NewTestClock(startTime),
		Logger:       testLog,
	})
	require.NoError(t, err)

	return &testWallet{w, chain, repo, account}
}

// restart returns a wallet backed by the same store, with a fresh chain
// watcher and no in-memory state.
func (w *testWallet) restart(t *testing.T) *testWallet {
	return newTestWalletWithRepo(t, w.repo, w.account)
}

func (w *testWallet) receiveScript(t *testing.T, index uint32) []byte {
	key, err := w.account.DeriveKey(wallet.ExternalChain, index)
	require.NoError(t, err)
	return key.Script
}

// applyBlock delivers the events of a block containing the given txs, all
// of them matching the filter.
func (w *testWallet) applyBlock(t *testing.T, height int32, txs ...*wire.MsgTx) {
	blockHash := chainhash.Hash{byte(height)}
	err := w.ApplyEvent(ctx, chainwatcher.BlockConnectedEvent{
		Height:  height,
		Hash:    blockHash,
		TxCount: len(txs),
	})
	require.NoError(t, err)

	for _, tx := range txs {
		err := w.ApplyEvent(ctx, chainwatcher.TransactionEvent{
			Tx:        tx,
			Height:    height,
			BlockHash: blockHash,
		})
		require.NoError(t, err)
	}
}

// newFundingTx returns a transaction spending an unknown outpoint and paying
// value to script.
func newFundingTx(script []byte, value int64, seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{seed, 0xff}, 0), nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(value, script))
	return tx
}

func newForeignAddress(t *testing.T) string {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		bytes.Repeat([]byte{0x01}, 20), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

// runWithClock runs fn in background and moves the test clock forward every
// time it waits on it.
func runWithClock(
	t *testing.T, clk *clock.TestClock, tickSignal chan time.Duration,
	fn func() error,
) error {
	t.Helper()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn()
	}()

	for {
		select {
		case d := <-tickSignal:
			clk.SetTime(clk.Now().Add(d))
		case err := <-errChan:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("function did not return in time")
			return nil
		}
	}
}
