package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"
)

func TestDerivationPathString(t *testing.T) {
	h := uint32(hdkeychain.HardenedKeyStart)

	path := AccountPath(1, 0).Child(InternalChain, 7)
	require.Equal(t, DerivationPath{h + 84, h + 1, h, 1, 7}, path)
	require.Equal(t, "m/84'/1'/0'/1/7", path.String())

	// the parent is left untouched.
	parent := AccountPath(0, 2)
	child := parent.Child(ExternalChain)
	require.Len(t, parent, 3)
	require.Equal(t, "m/84'/0'/2'/0", child.String())

	require.Empty(t, DerivationPath{}.String())
}
