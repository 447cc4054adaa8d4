package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// DerivationPath is the internal representation of a hierarchical
// deterministic wallet path.
type DerivationPath []uint32

// AccountPath returns the BIP84 account path m/84'/coin'/account'.
func AccountPath(coinType, account uint32) DerivationPath {
	return DerivationPath{
		hdkeychain.HardenedKeyStart + Purpose,
		hdkeychain.HardenedKeyStart + coinType,
		hdkeychain.HardenedKeyStart + account,
	}
}

// Child returns a copy of the path extended with the given elements.
func (path DerivationPath) Child(elems ...uint32) DerivationPath {
	child := make(DerivationPath, 0, len(path)+len(elems))
	child = append(child, path...)
	return append(child, elems...)
}

// String converts a binary derivation path to its canonical representation.
func (path DerivationPath) String() string {
	if len(path) <= 0 {
		return ""
	}

	result := "m"
	for _, component := range path {
		var hardened bool
		if component >= hdkeychain.HardenedKeyStart {
			component -= hdkeychain.HardenedKeyStart
			hardened = true
		}
		result = fmt.Sprintf("%s/%d", result, component)
		if hardened {
			result += "'"
		}
	}
	return result
}
