package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	"github.com/tdex-network/tdex-taker/pkg/chainwatcher"
	"github.com/tdex-network/tdex-taker/pkg/trypolicy"
	"github.com/tdex-network/tdex-taker/pkg/wallet"
)

// WalletService is the bitcoin ledger of the taker. Its state is mutated only
// by applying the ordered events of the chain watcher.
type WalletService interface {
	Network() domain.Network
	// DeriveAndWatch re-derives the addresses already in use and derives
	// count more receive and change addresses, adding all of them to the
	// chain watcher filter along with the outpoints of the stored unspents.
	DeriveAndWatch(ctx context.Context, count uint32) ([]domain.WatchedAddress, error)
	// WatchScript adds a script the wallet doesn't own (ie. an HTLC contract)
	// to the filter. Its outputs never count toward the balance.
	WatchScript(ctx context.Context, script []byte) error
	ApplyEvent(ctx context.Context, event chainwatcher.Event) error
	Height(ctx context.Context) (int32, error)
	Balance(ctx context.Context) (domain.Balance, error)
	ReceiveAddress(ctx context.Context, network string, index uint32) (string, error)
	// IdentityKey returns the key the taker uses in HTLC contracts.
	IdentityKey(ctx context.Context) (*wallet.DerivedKey, error)
	// Send builds and signs a transaction paying amount to address and
	// reserves the selected unspents for owner. It does not broadcast.
	Send(
		ctx context.Context, network, address string, amount uint64, owner string,
	) (*wire.MsgTx, error)
	Broadcast(ctx context.Context, network string, tx *wire.MsgTx) (string, error)
	SendToAddress(
		ctx context.Context, network, address string, amount uint64,
	) (string, error)
	BroadcastHex(ctx context.Context, network, txHex string) (string, error)
	Fee(ctx context.Context) (btcutil.Amount, error)
	UnlockUnspents(ctx context.Context, owner string) error
	// ContractUnspents returns the outputs ever paying the given watched
	// script, spent ones included.
	ContractUnspents(ctx context.Context, script []byte) ([]domain.Unspent, error)
	// IsTxConfirmed returns whether the transaction with the given id, paying
	// some watched script, is included in a connected block.
	IsTxConfirmed(ctx context.Context, txid string) (bool, error)
}

// WalletConfig holds the collaborators of the wallet service.
type WalletConfig struct {
	Network          domain.Network
	Account          *wallet.Account
	Repository       domain.WalletRepository
	Chain            ports.ChainService
	FeeEstimator     ports.FeeEstimator
	MinConfirmations int32
	LockExpiry       time.Duration
	BroadcastPolicy  trypolicy.Policy
	Clock            clock.Clock
	Logger           logrus.FieldLogger
}

func (c WalletConfig) validate() error {
	if c.Network.Params == nil {
		return fmt.Errorf("missing network")
	}
	if c.Account == nil {
		return fmt.Errorf("missing wallet account")
	}
	if c.Repository == nil {
		return fmt.Errorf("missing wallet repository")
	}
	if c.Chain == nil {
		return fmt.Errorf("missing chain service")
	}
	if c.FeeEstimator == nil {
		return fmt.Errorf("missing fee estimator")
	}
	if c.MinConfirmations < 0 {
		return fmt.Errorf("min confirmations must not be negative")
	}
	return nil
}

type scriptInfo struct {
	address   domain.WatchedAddress
	watchOnly bool
}

// pendingBlock collects the matched transactions of a connected block until
// all of them are received.
type pendingBlock struct {
	height    int32
	hash      string
	remaining int
	skip      bool
	txs       []*wire.MsgTx
}

type walletService struct {
	cfg WalletConfig
	log logrus.FieldLogger

	lock    sync.RWMutex
	scripts map[string]scriptInfo

	pending *pendingBlock

	// serializes coin selection and reservation.
	sendLock sync.Mutex
}

// NewWalletService returns the wallet ledger bound to the configured
// network.
func NewWalletService(cfg WalletConfig) (WalletService, error) {
	return newWalletService(cfg)
}

func newWalletService(cfg WalletConfig) (*walletService, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MinConfirmations == 0 {
		cfg.MinConfirmations = domain.DefaultMinConfirmations
	}
	if cfg.LockExpiry <= 0 {
		cfg.LockExpiry = DefaultLockExpiry
	}
	if cfg.BroadcastPolicy.Validate() != nil {
		cfg.BroadcastPolicy = DefaultBroadcastPolicy
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &walletService{
		cfg:     cfg,
		log:     log.WithField("service", "wallet"),
		scripts: make(map[string]scriptInfo),
	}, nil
}

func (w *walletService) Network() domain.Network {
	return w.cfg.Network
}

func (w *walletService) DeriveAndWatch(
	ctx context.Context, count uint32,
) ([]domain.WatchedAddress, error) {
	state, err := w.cfg.Repository.GetWalletState(ctx)
	if err != nil {
		return nil, err
	}
	if state.Network != "" && state.Network != w.cfg.Network.Name {
		return nil, &domain.NetworkMismatchError{
			Expected: state.Network, Got: w.cfg.Network.Name,
		}
	}

	receiveDepth := state.ReceiveDepth + count
	changeDepth := state.ChangeDepth + count

	addresses := make([]domain.WatchedAddress, 0, receiveDepth+changeDepth)
	for _, c := range []struct {
		chain uint32
		depth uint32
	}{
		{domain.ExternalChain, receiveDepth},
		{domain.InternalChain, changeDepth},
	} {
		for i := uint32(0); i < c.depth; i++ {
			addr, err := w.deriveAddress(c.chain, i)
			if err != nil {
				return nil, err
			}
			addresses = append(addresses, *addr)
		}
	}

	if err := w.cfg.Repository.UpdateWalletState(
		ctx, func(s *domain.WalletState) (*domain.WalletState, error) {
			s.Network = w.cfg.Network.Name
			s.ReceiveDepth = receiveDepth
			s.ChangeDepth = changeDepth
			return s, nil
		},
	); err != nil {
		return nil, err
	}

	w.lock.Lock()
	for _, addr := range addresses {
		w.scripts[string(addr.Script)] = scriptInfo{address: addr}
		w.cfg.Chain.Watch(addr.Script)
	}
	w.lock.Unlock()

	// spends of known coins may not pay any watched script, the filter must
	// match them by outpoint.
	outpoints, err := w.watchUnspents(ctx)
	if err != nil {
		return nil, err
	}

	w.log.WithFields(logrus.Fields{
		"account":  w.cfg.Account.Path().String(),
		"receive":  receiveDepth,
		"change":   changeDepth,
		"unspents": outpoints,
	}).Info("watching wallet addresses")

	return addresses, nil
}

func (w *walletService) watchUnspents(ctx context.Context) (int, error) {
	unspents, err := w.cfg.Repository.GetAllUnspents(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, u := range unspents {
		if u.IsSpent() {
			continue
		}
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return 0, err
		}
		w.cfg.Chain.WatchOutpoint(wire.OutPoint{Hash: *hash, Index: u.VOut})
		count++
	}
	return count, nil
}

func (w *walletService) WatchScript(ctx context.Context, script []byte) error {
	_, addrs, _, err := txscript.ExtractPkScriptAddrs(
		script, w.cfg.Network.Params,
	)
	if err != nil || len(addrs) != 1 {
		return fmt.Errorf("%w: unsupported script", ErrInvalidAddress)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	if _, ok := w.scripts[string(script)]; ok {
		return nil
	}
	w.scripts[string(script)] = scriptInfo{
		address: domain.WatchedAddress{
			Address: addrs[0].EncodeAddress(),
			Script:  script,
		},
		watchOnly: true,
	}
	w.cfg.Chain.Watch(script)
	return nil
}

func (w *walletService) ApplyEvent(
	ctx context.Context, event chainwatcher.Event,
) error {
	switch e := event.(type) {
	case chainwatcher.BlockConnectedEvent:
		return w.applyBlockConnected(ctx, e)
	case chainwatcher.TransactionEvent:
		if !e.IsConfirmed() {
			return w.applyUpdate(ctx, w.updateFromTxs(0, "", e.Tx))
		}
		return w.applyBlockTransaction(ctx, e)
	case chainwatcher.BlockDisconnectedEvent:
		w.pending = nil
		w.log.WithField("height", e.ForkHeight).Warn("blocks disconnected")
		return w.cfg.Repository.DisconnectBlocks(
			ctx, e.ForkHeight, e.ForkHash.String(),
		)
	default:
		return nil
	}
}

func (w *walletService) Height(ctx context.Context) (int32, error) {
	state, err := w.cfg.Repository.GetWalletState(ctx)
	if err != nil {
		return 0, err
	}
	return state.Height, nil
}

func (w *walletService) Balance(ctx context.Context) (domain.Balance, error) {
	state, err := w.cfg.Repository.GetWalletState(ctx)
	if err != nil {
		return domain.Balance{}, err
	}
	unspents, err := w.cfg.Repository.GetAllUnspents(ctx)
	if err != nil {
		return domain.Balance{}, err
	}

	return domain.ComputeBalance(
		unspents, state.Height, w.cfg.MinConfirmations, w.now(),
	), nil
}

func (w *walletService) ReceiveAddress(
	ctx context.Context, network string, index uint32,
) (string, error) {
	if err := w.cfg.Network.AssertNetwork(network); err != nil {
		return "", err
	}
	addr, err := w.deriveAddress(domain.ExternalChain, index)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}

func (w *walletService) IdentityKey(
	ctx context.Context,
) (*wallet.DerivedKey, error) {
	return w.cfg.Account.DeriveKey(domain.ExternalChain, 0)
}

func (w *walletService) Send(
	ctx context.Context, network, address string, amount uint64, owner string,
) (*wire.MsgTx, error) {
	if err := w.cfg.Network.AssertNetwork(network); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, domain.ErrInvalidAmount
	}
	pkScript, err := w.decodeAddress(address)
	if err != nil {
		return nil, err
	}
	if txrules.IsDustOutput(
		wire.NewTxOut(int64(amount), pkScript), txrules.DefaultRelayFeePerKb,
	) {
		return nil, ErrDustAmount
	}

	w.sendLock.Lock()
	defer w.sendLock.Unlock()

	coins, available, err := w.selectableCoins(ctx)
	if err != nil {
		return nil, err
	}
	if available < amount {
		return nil, &domain.InsufficientFundsError{
			Required: amount, Available: available,
		}
	}

	feeRate, err := w.cfg.FeeEstimator.EstimateFeePerKb(ctx)
	if err != nil {
		return nil, err
	}
	changeScript, err := w.nextChangeScript(ctx)
	if err != nil {
		return nil, err
	}

	authoredTx, err := txauthor.NewUnsignedTransaction(
		[]*wire.TxOut{wire.NewTxOut(int64(amount), pkScript)},
		feeRate,
		wallet.NewInputSource(coins),
		&txauthor.ChangeSource{
			NewScript:  func() ([]byte, error) { return changeScript, nil },
			ScriptSize: len(changeScript),
		},
	)
	if err != nil {
		var inputErr txauthor.InputSourceError
		if errors.As(err, &inputErr) {
			return nil, &domain.InsufficientFundsError{
				Required: amount, Available: available,
			}
		}
		return nil, err
	}

	if err := w.signTx(authoredTx); err != nil {
		return nil, err
	}

	keys := make([]domain.UnspentKey, 0, len(authoredTx.Tx.TxIn))
	for _, in := range authoredTx.Tx.TxIn {
		keys = append(keys, domain.UnspentKey{
			TxID: in.PreviousOutPoint.Hash.String(),
			VOut: in.PreviousOutPoint.Index,
		})
	}
	now := w.cfg.Clock.Now()
	if err := w.cfg.Repository.LockUnspents(
		ctx, keys, owner, now.Unix(), now.Add(w.cfg.LockExpiry).Unix(),
	); err != nil {
		return nil, err
	}

	w.log.WithFields(logrus.Fields{
		"txid":   authoredTx.Tx.TxHash().String(),
		"owner":  owner,
		"inputs": len(keys),
	}).Debug("transaction signed")

	return authoredTx.Tx, nil
}

func (w *walletService) Broadcast(
	ctx context.Context, network string, tx *wire.MsgTx,
) (string, error) {
	if err := w.cfg.Network.AssertNetwork(network); err != nil {
		return "", err
	}

	runner := trypolicy.NewRunner(w.cfg.BroadcastPolicy, domain.IsTransient)
	runner.Clock = w.cfg.Clock
	runner.OnRetry = func(attempt int, err error) {
		w.log.WithError(err).Debugf("broadcast attempt %d failed", attempt)
	}

	if err := runner.Run(ctx, func(ctx context.Context) (bool, error) {
		if err := w.cfg.Chain.Broadcast(ctx, tx); err != nil {
			return false, err
		}
		return true, nil
	}); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}

	txid := tx.TxHash().String()
	w.log.WithField("txid", txid).Info("transaction broadcasted")
	return txid, nil
}

func (w *walletService) SendToAddress(
	ctx context.Context, network, address string, amount uint64,
) (string, error) {
	owner := uuid.New().String()
	tx, err := w.Send(ctx, network, address, amount, owner)
	if err != nil {
		return "", err
	}

	txid, err := w.Broadcast(ctx, network, tx)
	if err != nil {
		if unlockErr := w.cfg.Repository.UnlockUnspents(
			context.Background(), owner,
		); unlockErr != nil {
			w.log.WithError(unlockErr).Warn("failed to unlock unspents")
		}
		return "", err
	}
	return txid, nil
}

func (w *walletService) BroadcastHex(
	ctx context.Context, network, txHex string,
) (string, error) {
	if err := w.cfg.Network.AssertNetwork(network); err != nil {
		return "", err
	}
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return "", fmt.Errorf("invalid transaction hex: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return "", fmt.Errorf("invalid transaction: %w", err)
	}
	return w.Broadcast(ctx, network, tx)
}

func (w *walletService) Fee(ctx context.Context) (btcutil.Amount, error) {
	return w.cfg.FeeEstimator.EstimateFeePerKb(ctx)
}

func (w *walletService) UnlockUnspents(ctx context.Context, owner string) error {
	return w.cfg.Repository.UnlockUnspents(ctx, owner)
}

func (w *walletService) ContractUnspents(
	ctx context.Context, script []byte,
) ([]domain.Unspent, error) {
	w.lock.RLock()
	info, ok := w.scripts[string(script)]
	w.lock.RUnlock()
	if !ok {
		return nil, nil
	}
	return w.cfg.Repository.GetUnspentsForAddress(ctx, info.address.Address)
}

func (w *walletService) IsTxConfirmed(
	ctx context.Context, txid string,
) (bool, error) {
	unspents, err := w.cfg.Repository.GetAllUnspents(ctx)
	if err != nil {
		return false, err
	}
	for _, u := range unspents {
		if u.TxID == txid && u.IsConfirmed() {
			return true, nil
		}
	}
	return false, nil
}

func (w *walletService) applyBlockConnected(
	ctx context.Context, e chainwatcher.BlockConnectedEvent,
) error {
	if w.pending != nil {
		w.log.Warnf(
			"dropping incomplete block %d, missing %d txs",
			w.pending.height, w.pending.remaining,
		)
	}

	state, err := w.cfg.Repository.GetWalletState(ctx)
	if err != nil {
		return err
	}

	w.pending = &pendingBlock{
		height:    e.Height,
		hash:      e.Hash.String(),
		remaining: e.TxCount,
		skip:      e.Height <= state.Height,
	}
	if w.pending.skip {
		w.log.Debugf("block %d already applied, skipping", e.Height)
	}
	return w.maybeCommitBlock(ctx)
}

func (w *walletService) applyBlockTransaction(
	ctx context.Context, e chainwatcher.TransactionEvent,
) error {
	p := w.pending
	if p == nil || p.height != e.Height || p.hash != e.BlockHash.String() {
		return fmt.Errorf(
			"%w: tx %s in block %d", ErrUnexpectedTransaction, e.Tx.TxHash(), e.Height,
		)
	}
	p.txs = append(p.txs, e.Tx)
	p.remaining--
	return w.maybeCommitBlock(ctx)
}

func (w *walletService) maybeCommitBlock(ctx context.Context) error {
	p := w.pending
	if p.remaining > 0 {
		return nil
	}
	w.pending = nil
	if p.skip {
		return nil
	}

	update := w.updateFromTxs(p.height, p.hash, p.txs...)
	if err := w.applyUpdate(ctx, update); err != nil {
		return err
	}
	if len(p.txs) > 0 {
		w.log.WithFields(logrus.Fields{
			"height": p.height,
			"txs":    len(p.txs),
		}).Info("applied block")
	}
	return nil
}

func (w *walletService) applyUpdate(
	ctx context.Context, update domain.WalletUpdate,
) error {
	if !update.IsBlock() && len(update.Unspents) == 0 && len(update.Spends) == 0 {
		return nil
	}
	return w.cfg.Repository.ApplyUpdate(ctx, update)
}

func (w *walletService) updateFromTxs(
	height int32, blockHash string, txs ...*wire.MsgTx,
) domain.WalletUpdate {
	w.lock.RLock()
	defer w.lock.RUnlock()

	update := domain.WalletUpdate{
		Spends:    make(map[domain.UnspentKey]string),
		Height:    height,
		BlockHash: blockHash,
	}
	for _, tx := range txs {
		txid := tx.TxHash().String()
		for _, in := range tx.TxIn {
			key := domain.UnspentKey{
				TxID: in.PreviousOutPoint.Hash.String(),
				VOut: in.PreviousOutPoint.Index,
			}
			update.Spends[key] = txid
		}
		for i, out := range tx.TxOut {
			info, ok := w.scripts[string(out.PkScript)]
			if !ok {
				continue
			}
			update.Unspents = append(update.Unspents, domain.Unspent{
				TxID:      txid,
				VOut:      uint32(i),
				Value:     uint64(out.Value),
				Script:    out.PkScript,
				Address:   info.address.Address,
				Height:    height,
				BlockHash: blockHash,
				WatchOnly: info.watchOnly,
			})
		}
	}
	return update
}

func (w *walletService) selectableCoins(
	ctx context.Context,
) ([]wallet.Coin, uint64, error) {
	state, err := w.cfg.Repository.GetWalletState(ctx)
	if err != nil {
		return nil, 0, err
	}
	unspents, err := w.cfg.Repository.GetAllUnspents(ctx)
	if err != nil {
		return nil, 0, err
	}

	now := w.now()
	coins := make([]wallet.Coin, 0, len(unspents))
	var total uint64
	for i := range unspents {
		u := unspents[i]
		if !u.IsSelectable(state.Height, w.cfg.MinConfirmations, now) {
			continue
		}
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, 0, err
		}
		coins = append(coins, wallet.Coin{
			OutPoint: wire.OutPoint{Hash: *hash, Index: u.VOut},
			Value:    u.Value,
			Script:   u.Script,
		})
		total += u.Value
	}
	return coins, total, nil
}

func (w *walletService) signTx(authoredTx *txauthor.AuthoredTx) error {
	tx := authoredTx.Tx
	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range tx.TxIn {
		prevOuts.AddPrevOut(in.PreviousOutPoint, &wire.TxOut{
			Value:    int64(authoredTx.PrevInputValues[i]),
			PkScript: authoredTx.PrevScripts[i],
		})
	}
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	for i := range tx.TxIn {
		pkScript := authoredTx.PrevScripts[i]
		key, err := w.keyForScript(pkScript)
		if err != nil {
			return err
		}
		witness, err := txscript.WitnessSignature(
			tx, sigHashes, i, int64(authoredTx.PrevInputValues[i]), pkScript,
			txscript.SigHashAll, key.PrivateKey, true,
		)
		if err != nil {
			return err
		}
		tx.TxIn[i].Witness = witness
	}
	return nil
}

func (w *walletService) keyForScript(script []byte) (*wallet.DerivedKey, error) {
	w.lock.RLock()
	info, ok := w.scripts[string(script)]
	w.lock.RUnlock()
	if !ok || info.watchOnly {
		return nil, fmt.Errorf("no key for script %x", script)
	}
	return w.cfg.Account.DeriveKey(info.address.Chain, info.address.Index)
}

// nextChangeScript reserves a fresh change address, extending the derivation
// depth and the filter when the derived ones are all used.
func (w *walletService) nextChangeScript(ctx context.Context) ([]byte, error) {
	var index uint32
	extended := false
	if err := w.cfg.Repository.UpdateWalletState(
		ctx, func(s *domain.WalletState) (*domain.WalletState, error) {
			index = s.ChangeIndex
			s.ChangeIndex++
			if s.ChangeIndex > s.ChangeDepth {
				s.ChangeDepth = s.ChangeIndex
				extended = true
			}
			return s, nil
		},
	); err != nil {
		return nil, err
	}

	addr, err := w.deriveAddress(domain.InternalChain, index)
	if err != nil {
		return nil, err
	}
	if extended {
		w.lock.Lock()
		w.scripts[string(addr.Script)] = scriptInfo{address: *addr}
		w.lock.Unlock()
		w.cfg.Chain.Watch(addr.Script)
	}
	return addr.Script, nil
}

func (w *walletService) deriveAddress(
	chain, index uint32,
) (*domain.WatchedAddress, error) {
	key, err := w.cfg.Account.DeriveKey(chain, index)
	if err != nil {
		return nil, err
	}
	return &domain.WatchedAddress{
		Address: key.Address.EncodeAddress(),
		Chain:   chain,
		Index:   index,
		Script:  key.Script,
	}, nil
}

func (w *walletService) decodeAddress(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, w.cfg.Network.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, err)
	}
	if !addr.IsForNet(w.cfg.Network.Params) {
		return nil, fmt.Errorf(
			"%w: %s is not a %s address", ErrInvalidAddress, address,
			w.cfg.Network.Name,
		)
	}
	return txscript.PayToAddrScript(addr)
}

func (w *walletService) now() int64 {
	return w.cfg.Clock.Now().Unix()
}
