package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
	"github.com/tdex-network/tdex-taker/internal/core/ports"
	"github.com/tdex-network/tdex-taker/pkg/htlc"
)

type bitcoinLeg struct {
	wallet WalletService
	clock  clock.Clock

	lock sync.Mutex
	// funding txs by secret hash, so that retries re-broadcast the same tx.
	fundings map[domain.SecretHash]*wire.MsgTx
}

// NewBitcoinLeg returns the ports.Leg locking bitcoins into a P2WSH HTLC
// contract through the given wallet.
func NewBitcoinLeg(wallet WalletService, clk clock.Clock) ports.Leg {
	return newBitcoinLeg(wallet, clk)
}

func newBitcoinLeg(wallet WalletService, clk clock.Clock) *bitcoinLeg {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &bitcoinLeg{
		wallet:   wallet,
		clock:    clk,
		fundings: make(map[domain.SecretHash]*wire.MsgTx),
	}
}

func (b *bitcoinLeg) Ledger() string {
	return domain.LedgerBitcoin
}

func (b *bitcoinLeg) Identity(ctx context.Context) (string, error) {
	key, err := b.wallet.IdentityKey(ctx)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(key.PubKeyHash()), nil
}

func (b *bitcoinLeg) Watch(ctx context.Context, params domain.HTLCParams) error {
	_, _, err := b.prepareContract(ctx, params)
	return err
}

func (b *bitcoinLeg) Fund(
	ctx context.Context, params domain.HTLCParams,
) (string, error) {
	contract, pkScript, err := b.prepareContract(ctx, params)
	if err != nil {
		return "", err
	}
	network := b.wallet.Network()

	b.lock.Lock()
	tx, ok := b.fundings[params.SecretHash]
	b.lock.Unlock()

	if !ok {
		// funded by a previous run, possibly still unconfirmed.
		unspents, err := b.wallet.ContractUnspents(ctx, pkScript)
		if err != nil {
			return "", err
		}
		required := params.Quantity.BigInt().Uint64()
		for _, u := range unspents {
			if u.Value >= required {
				return u.TxID, nil
			}
		}

		addr, err := contract.Address(network.Params)
		if err != nil {
			return "", err
		}
		amount := params.Quantity.BigInt().Uint64()

		tx, err = b.wallet.Send(
			ctx, network.Name, addr.EncodeAddress(), amount,
			params.SecretHash.String(),
		)
		if err != nil {
			return "", err
		}
		if !paysScript(tx, pkScript) {
			return "", fmt.Errorf("funding tx does not pay the contract")
		}

		b.lock.Lock()
		b.fundings[params.SecretHash] = tx
		b.lock.Unlock()
	}

	return b.wallet.Broadcast(ctx, network.Name, tx)
}

func (b *bitcoinLeg) IsFunded(
	ctx context.Context, params domain.HTLCParams,
) (string, bool, error) {
	_, pkScript, err := b.prepareContract(ctx, params)
	if err != nil {
		return "", false, err
	}

	unspents, err := b.wallet.ContractUnspents(ctx, pkScript)
	if err != nil {
		return "", false, err
	}
	required := params.Quantity.BigInt().Uint64()
	for _, u := range unspents {
		if u.IsConfirmed() && u.Value >= required {
			return u.TxID, true, nil
		}
	}
	return "", false, nil
}

func (b *bitcoinLeg) Redeem(
	ctx context.Context, params domain.HTLCParams, secret domain.Secret,
) (string, error) {
	if secret.Hash() != params.SecretHash {
		return "", htlc.ErrSecretMismatch
	}

	key, err := b.wallet.IdentityKey(ctx)
	if err != nil {
		return "", err
	}

	spendParams, err := b.spendParams(ctx, params, key.Script)
	if err != nil {
		return "", err
	}

	tx, err := htlc.NewRedeemTx(*spendParams, key.PrivateKey, secret)
	if err != nil {
		return "", err
	}
	return b.wallet.Broadcast(ctx, b.wallet.Network().Name, tx)
}

func (b *bitcoinLeg) IsConfirmed(ctx context.Context, txid string) (bool, error) {
	return b.wallet.IsTxConfirmed(ctx, txid)
}

func (b *bitcoinLeg) Refund(
	ctx context.Context, params domain.HTLCParams,
) (string, error) {
	if b.clock.Now().Unix() < params.Expiry {
		return "", fmt.Errorf(
			"%w: refundable after %d", ErrContractNotExpired, params.Expiry,
		)
	}

	key, err := b.wallet.IdentityKey(ctx)
	if err != nil {
		return "", err
	}

	spendParams, err := b.spendParams(ctx, params, key.Script)
	if err != nil {
		return "", err
	}

	tx, err := htlc.NewRefundTx(*spendParams, key.PrivateKey)
	if err != nil {
		return "", err
	}

	txid, err := b.wallet.Broadcast(ctx, b.wallet.Network().Name, tx)
	if err != nil {
		return "", err
	}
	if err := b.wallet.UnlockUnspents(ctx, params.SecretHash.String()); err != nil {
		return "", err
	}
	return txid, nil
}

func (b *bitcoinLeg) prepareContract(
	ctx context.Context, params domain.HTLCParams,
) (*htlc.Contract, []byte, error) {
	contract, err := contractFromParams(params)
	if err != nil {
		return nil, nil, err
	}
	pkScript, err := contract.PkScript()
	if err != nil {
		return nil, nil, err
	}
	if err := b.wallet.WatchScript(ctx, pkScript); err != nil {
		return nil, nil, err
	}
	return contract, pkScript, nil
}

func (b *bitcoinLeg) spendParams(
	ctx context.Context, params domain.HTLCParams, destination []byte,
) (*htlc.SpendParams, error) {
	contract, pkScript, err := b.prepareContract(ctx, params)
	if err != nil {
		return nil, err
	}

	unspents, err := b.wallet.ContractUnspents(ctx, pkScript)
	if err != nil {
		return nil, err
	}
	var output *domain.Unspent
	for i := range unspents {
		if !unspents[i].IsSpent() {
			output = &unspents[i]
			break
		}
	}
	if output == nil {
		return nil, fmt.Errorf("%w: %w", ErrContractNotFunded, domain.ErrTransient)
	}

	hash, err := chainhash.NewHashFromStr(output.TxID)
	if err != nil {
		return nil, err
	}
	feePerKb, err := b.wallet.Fee(ctx)
	if err != nil {
		return nil, err
	}

	return &htlc.SpendParams{
		Contract:    *contract,
		OutPoint:    wire.OutPoint{Hash: *hash, Index: output.VOut},
		Value:       int64(output.Value),
		Destination: destination,
		FeePerKb:    feePerKb,
	}, nil
}

func contractFromParams(params domain.HTLCParams) (*htlc.Contract, error) {
	if params.Ledger != domain.LedgerBitcoin {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLedger, params.Ledger)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	redeemPKH, err := decodeIdentity(params.RedeemIdentity)
	if err != nil {
		return nil, err
	}
	refundPKH, err := decodeIdentity(params.RefundIdentity)
	if err != nil {
		return nil, err
	}

	return &htlc.Contract{
		SecretHash: params.SecretHash,
		RedeemPKH:  redeemPKH,
		RefundPKH:  refundPKH,
		LockTime:   params.Expiry,
	}, nil
}

func decodeIdentity(identity string) ([20]byte, error) {
	var pkh [20]byte
	buf, err := hex.DecodeString(identity)
	if err != nil || len(buf) != len(pkh) {
		return pkh, fmt.Errorf("%w: %s", ErrInvalidIdentity, identity)
	}
	copy(pkh[:], buf)
	return pkh, nil
}

func paysScript(tx *wire.MsgTx, script []byte) bool {
	for _, out := range tx.TxOut {
		if string(out.PkScript) == string(script) {
			return true
		}
	}
	return false
}
