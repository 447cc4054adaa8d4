// Package htlc builds and spends the P2WSH hash time locked contract used by
// the bitcoin leg of a swap:
//
//	OP_IF
//	  OP_SHA256 <secret hash> OP_EQUALVERIFY OP_DUP OP_HASH160 <redeem pkh>
//	OP_ELSE
//	  <lock time> OP_CHECKLOCKTIMEVERIFY OP_DROP OP_DUP OP_HASH160 <refund pkh>
//	OP_ENDIF
//	OP_EQUALVERIFY OP_CHECKSIG
package htlc

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrInvalidLockTime ...
	ErrInvalidLockTime = errors.New("lock time must be a positive unix timestamp")
	// ErrNotContract is returned when parsing a script not matching the
	// contract template.
	ErrNotContract = errors.New("script is not an htlc contract")
	// ErrSecretMismatch ...
	ErrSecretMismatch = errors.New("secret does not match contract hash")
)

// Contract holds the parameters of the HTLC script.
type Contract struct {
	SecretHash [32]byte
	RedeemPKH  [20]byte
	RefundPKH  [20]byte
	// LockTime is the absolute unix time after which the refund path is
	// spendable.
	LockTime int64
}

// Script returns the witness script of the contract.
func (c Contract) Script() ([]byte, error) {
	if c.LockTime <= int64(txscript.LockTimeThreshold) {
		return nil, ErrInvalidLockTime
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_IF).
		AddOp(txscript.OP_SHA256).
		AddData(c.SecretHash[:]).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(c.RedeemPKH[:]).
		AddOp(txscript.OP_ELSE).
		AddInt64(c.LockTime).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(c.RefundPKH[:]).
		AddOp(txscript.OP_ENDIF).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// Address returns the P2WSH address of the contract.
func (c Contract) Address(
	params *chaincfg.Params,
) (*btcutil.AddressWitnessScriptHash, error) {
	script, err := c.Script()
	if err != nil {
		return nil, err
	}
	scriptHash := sha256.Sum256(script)
	return btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
}

// PkScript returns the P2WSH output script paying the contract.
func (c Contract) PkScript() ([]byte, error) {
	script, err := c.Script()
	if err != nil {
		return nil, err
	}
	scriptHash := sha256.Sum256(script)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
}

// ParseContract decodes the witness script of a contract.
func ParseContract(script []byte) (*Contract, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	var (
		contract Contract
		ops      []byte
		pushes   [][]byte
	)
	for tokenizer.Next() {
		ops = append(ops, tokenizer.Opcode())
		if data := tokenizer.Data(); data != nil {
			pushes = append(pushes, data)
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotContract, err)
	}

	expected, _ := Contract{LockTime: int64(txscript.LockTimeThreshold) + 1}.Script()
	if len(ops) != 17 || len(pushes) != 4 || !sameOps(ops, expected) {
		return nil, ErrNotContract
	}
	if len(pushes[0]) != 32 || len(pushes[1]) != 20 || len(pushes[3]) != 20 {
		return nil, ErrNotContract
	}

	lockTime, err := txscript.MakeScriptNum(pushes[2], true, 5)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotContract, err)
	}

	copy(contract.SecretHash[:], pushes[0])
	copy(contract.RedeemPKH[:], pushes[1])
	contract.LockTime = int64(lockTime)
	copy(contract.RefundPKH[:], pushes[3])
	return &contract, nil
}

// RedeemWitness returns the witness spending the contract through the
// secret path.
func RedeemWitness(sig, pubKey, secret, script []byte) wire.TxWitness {
	return wire.TxWitness{sig, pubKey, secret, {0x01}, script}
}

// RefundWitness returns the witness spending the contract through the
// timeout path.
func RefundWitness(sig, pubKey, script []byte) wire.TxWitness {
	return wire.TxWitness{sig, pubKey, nil, script}
}

func sameOps(ops []byte, script []byte) bool {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	i := 0
	for tokenizer.Next() {
		if i >= len(ops) {
			return false
		}
		op := tokenizer.Opcode()
		// lock time is pushed with a variable length
		if isPush(op) && isPush(ops[i]) {
			i++
			continue
		}
		if op != ops[i] {
			return false
		}
		i++
	}
	return i == len(ops)
}

func isPush(op byte) bool {
	return op <= txscript.OP_PUSHDATA4
}
