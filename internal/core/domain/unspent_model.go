package domain

import "fmt"

// UnspentKey represent the ID of an Unspent, composed by its txid and vout.
type UnspentKey struct {
	TxID string
	VOut uint32
}

func (k UnspentKey) String() string {
	return fmt.Sprintf("%s:%d", k.TxID, k.VOut)
}

// Unspent is the data structure representing a UTXO paying a watched script,
// with some other information like whether it is spent/unspent,
// confirmed/unconfirmed or locked/unlocked.
// WatchOnly unspents pay scripts the wallet observes without owning them
// (ie. HTLC contracts) and never count toward the balance.
type Unspent struct {
	TxID       string
	VOut       uint32
	Value      uint64
	Script     []byte
	Address    string
	Height     int32
	BlockHash  string
	Spent      bool
	SpentBy    string
	LockedBy   string
	LockExpiry int64
	WatchOnly  bool
}

// Balance is the wallet balance in satoshis.
type Balance struct {
	Confirmed   uint64
	Unconfirmed uint64
	Locked      uint64
}
