package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// AccountOpts is the struct given to NewAccount.
type AccountOpts struct {
	// ExtendedKey is either a master private key or a BIP84 account private
	// key, base58 encoded.
	ExtendedKey string
	Account     uint32
	Network     *chaincfg.Params
}

func (o AccountOpts) validate() error {
	if o.ExtendedKey == "" {
		return ErrNullExtendedKey
	}
	if o.Network == nil {
		return ErrNullNetwork
	}
	if o.Account > MaxHardenedValue {
		return ErrOutOfRangeAccount
	}
	return nil
}

// Account derives the P2WPKH keys of a single BIP84 account. The key is kept
// in memory only.
type Account struct {
	key     *hdkeychain.ExtendedKey
	path    DerivationPath
	network *chaincfg.Params
}

// DerivedKey is a key pair derived at m/84'/coin'/account'/chain/index
// with its P2WPKH address and output script.
type DerivedKey struct {
	Path       DerivationPath
	PrivateKey *btcec.PrivateKey
	PublicKey  *btcec.PublicKey
	Address    btcutil.Address
	Script     []byte
}

// PubKeyHash returns the hash160 of the compressed public key.
func (k *DerivedKey) PubKeyHash() []byte {
	return btcutil.Hash160(k.PublicKey.SerializeCompressed())
}

// NewAccount parses the extended key and derives the account key, unless the
// given key is already at account depth.
func NewAccount(opts AccountOpts) (*Account, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	key, err := hdkeychain.NewKeyFromString(opts.ExtendedKey)
	if err != nil {
		return nil, err
	}
	if !key.IsPrivate() {
		return nil, ErrWatchOnlyKey
	}
	if !key.IsForNet(opts.Network) {
		return nil, ErrKeyNetworkMismatch
	}

	path := AccountPath(opts.Network.HDCoinType, opts.Account)
	switch key.Depth() {
	case 0:
		for _, i := range path {
			if key, err = key.Derive(i); err != nil {
				return nil, err
			}
		}
	case uint8(len(path)):
	default:
		return nil, ErrInvalidKeyDepth
	}

	return &Account{key, path, opts.Network}, nil
}

// Path returns the account derivation path.
func (a *Account) Path() DerivationPath {
	return a.path
}

// DeriveKey derives the key pair at the given chain and index.
func (a *Account) DeriveKey(chain, index uint32) (*DerivedKey, error) {
	if chain != ExternalChain && chain != InternalChain {
		return nil, ErrInvalidChain
	}
	if index > MaxHardenedValue {
		return nil, ErrInvalidDerivationPath
	}

	chainKey, err := a.key.Derive(chain)
	if err != nil {
		return nil, err
	}
	key, err := chainKey.Derive(index)
	if err != nil {
		return nil, err
	}

	prvkey, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	pubkey := prvkey.PubKey()

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pubkey.SerializeCompressed()), a.network,
	)
	if err != nil {
		return nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	return &DerivedKey{
		Path:       a.path.Child(chain, index),
		PrivateKey: prvkey,
		PublicKey:  pubkey,
		Address:    addr,
		Script:     script,
	}, nil
}
