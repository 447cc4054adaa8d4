package wallet

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
)

// Coin is a spendable output.
type Coin struct {
	OutPoint wire.OutPoint
	Value    uint64
	Script   []byte
}

// NewInputSource returns a txauthor.InputSource adding the biggest coins
// first until the target is covered. If the coins are not enough, it returns
// all of them and lets txauthor fail.
func NewInputSource(coins []Coin) txauthor.InputSource {
	sorted := sortByValue(coins)

	return func(target btcutil.Amount) (
		btcutil.Amount, []*wire.TxIn, []btcutil.Amount, [][]byte, error,
	) {
		var (
			total       btcutil.Amount
			inputs      []*wire.TxIn
			inputValues []btcutil.Amount
			scripts     [][]byte
		)
		for _, c := range sorted {
			if total >= target && len(inputs) > 0 {
				break
			}
			outpoint := c.OutPoint
			inputs = append(inputs, wire.NewTxIn(&outpoint, nil, nil))
			inputValues = append(inputValues, btcutil.Amount(c.Value))
			scripts = append(scripts, c.Script)
			total += btcutil.Amount(c.Value)
		}
		return total, inputs, inputValues, scripts, nil
	}
}

func sortByValue(coins []Coin) []Coin {
	sorted := make([]Coin, len(coins))
	copy(sorted, coins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Value > sorted[j].Value
	})
	return sorted
}
