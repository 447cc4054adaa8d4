package chainwatcher

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestExtractMatches(t *testing.T) {
	tests := []struct {
		name        string
		numTxs      int
		matchingTxs []int
	}{
		{"no_match", 1, nil},
		{"single_tx_matching", 0, []int{0}},
		{"odd_txs", 6, []int{2}},
		{"even_txs", 7, []int{0, 5}},
		{"many_txs", 30, []int{3, 17, 29}},
	}

	for i := range tests {
		tt := tests[i]
		t.Run(tt.name, func(t *testing.T) {
			txs := make([]*wire.MsgTx, 0, tt.numTxs+len(tt.matchingTxs))
			expected := make([]chainhash.Hash, 0)
			isMatching := make(map[int]bool)
			for _, i := range tt.matchingTxs {
				isMatching[i] = true
			}
			total := tt.numTxs + len(tt.matchingTxs)
			for i := 0; i < total; i++ {
				if isMatching[i] {
					tx := newTx(watchedScript, 1000)
					txs = append(txs, tx)
					continue
				}
				txs = append(txs, newTx(otherScript, 1000))
			}

			block := mineBlock(t, *regtest.GenesisHash, txs...)
			// mineBlock prepends a tx not paying the watched script.
			for _, tx := range txs {
				if tx.TxOut[0].PkScript[2] == 0 {
					expected = append(expected, tx.TxHash())
				}
			}

			msg := block.merkleBlock(newPeerFilter(watchedScript))
			matches, err := extractMatches(msg)
			require.NoError(t, err)
			require.Equal(t, len(expected), len(matches))
			if len(expected) > 0 {
				require.Equal(t, expected, matches)
			}
		})
	}
}

func TestFailingExtractMatches(t *testing.T) {
	tx := newTx(watchedScript, 1000)
	block := mineBlock(t, *regtest.GenesisHash, tx, newTx(otherScript, 1))

	t.Run("wrong_merkle_root", func(t *testing.T) {
		msg := block.merkleBlock(newPeerFilter(watchedScript))
		msg.Header.MerkleRoot = chainhash.Hash{}
		_, err := extractMatches(msg)
		require.ErrorIs(t, err, ErrBadMerkleBlock)
	})

	t.Run("tampered_hash", func(t *testing.T) {
		msg := block.merkleBlock(newPeerFilter(watchedScript))
		forged := chainhash.DoubleHashH([]byte("forged"))
		msg.Hashes[len(msg.Hashes)-1] = &forged
		_, err := extractMatches(msg)
		require.ErrorIs(t, err, ErrBadMerkleBlock)
	})

	t.Run("missing_hashes", func(t *testing.T) {
		msg := block.merkleBlock(newPeerFilter(watchedScript))
		msg.Hashes = msg.Hashes[:1]
		_, err := extractMatches(msg)
		require.ErrorIs(t, err, ErrBadMerkleBlock)
	})

	t.Run("no_transactions", func(t *testing.T) {
		msg := block.merkleBlock(newPeerFilter(watchedScript))
		msg.Transactions = 0
		_, err := extractMatches(msg)
		require.ErrorIs(t, err, ErrBadMerkleBlock)
	})
}
