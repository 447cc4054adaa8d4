package htlc

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

const (
	// sig + pubkey + secret + path selector, each with its length prefix.
	redeemWitnessItemsSize = 1 + 73 + 1 + 33 + 1 + 32 + 1 + 1
	refundWitnessItemsSize = 1 + 73 + 1 + 33 + 1
)

// ErrDustOutput is returned when the contract value can't cover the fees of
// the spending transaction.
var ErrDustOutput = errors.New("contract output is dust after fees")

// SpendParams describes the contract output to spend and where to send it.
type SpendParams struct {
	Contract    Contract
	OutPoint    wire.OutPoint
	Value       int64
	Destination []byte
	FeePerKb    btcutil.Amount
}

// NewRedeemTx returns a signed transaction spending the contract output
// through the secret path.
func NewRedeemTx(
	params SpendParams, key *btcec.PrivateKey, secret [32]byte,
) (*wire.MsgTx, error) {
	script, err := params.Contract.Script()
	if err != nil {
		return nil, err
	}

	tx, err := newSpendTx(params, script, redeemWitnessItemsSize, 0)
	if err != nil {
		return nil, err
	}

	sig, err := sign(tx, params, script, key)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = RedeemWitness(
		sig, key.PubKey().SerializeCompressed(), secret[:], script,
	)
	return tx, nil
}

// NewRefundTx returns a signed transaction spending the contract output
// through the timeout path. It's final only after the contract lock time.
func NewRefundTx(
	params SpendParams, key *btcec.PrivateKey,
) (*wire.MsgTx, error) {
	script, err := params.Contract.Script()
	if err != nil {
		return nil, err
	}

	tx, err := newSpendTx(
		params, script, refundWitnessItemsSize,
		uint32(params.Contract.LockTime),
	)
	if err != nil {
		return nil, err
	}

	sig, err := sign(tx, params, script, key)
	if err != nil {
		return nil, err
	}
	tx.TxIn[0].Witness = RefundWitness(
		sig, key.PubKey().SerializeCompressed(), script,
	)
	return tx, nil
}

func newSpendTx(
	params SpendParams, script []byte, witnessItemsSize int, lockTime uint32,
) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	tx.LockTime = lockTime

	sequence := uint32(wire.MaxTxInSequenceNum)
	if lockTime > 0 {
		sequence--
	}
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: params.OutPoint,
		Sequence:         sequence,
	})
	tx.AddTxOut(wire.NewTxOut(0, params.Destination))

	witnessSize := 2 + 1 + witnessItemsSize +
		wire.VarIntSerializeSize(uint64(len(script))) + len(script)
	weight := tx.SerializeSizeStripped()*4 + witnessSize
	vsize := (weight + 3) / 4

	fee := txrules.FeeForSerializeSize(params.FeePerKb, vsize)
	value := btcutil.Amount(params.Value) - fee
	if value <= 0 || txrules.IsDustOutput(
		wire.NewTxOut(int64(value), params.Destination),
		txrules.DefaultRelayFeePerKb,
	) {
		return nil, fmt.Errorf(
			"%w: value %d, fee %d", ErrDustOutput, params.Value, fee,
		)
	}
	tx.TxOut[0].Value = int64(value)

	return tx, nil
}

func sign(
	tx *wire.MsgTx, params SpendParams, script []byte, key *btcec.PrivateKey,
) ([]byte, error) {
	pkScript, err := params.Contract.PkScript()
	if err != nil {
		return nil, err
	}
	prevOuts := txscript.NewCannedPrevOutputFetcher(pkScript, params.Value)
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	return txscript.RawTxInWitnessSignature(
		tx, sigHashes, 0, params.Value, script, txscript.SigHashAll, key,
	)
}
