package domain

// IsKeyEqual returns whether the provided UnspentKey matches that or the
// current unspent.
func (u *Unspent) IsKeyEqual(key UnspentKey) bool {
	return u.TxID == key.TxID && u.VOut == key.VOut
}

// Key returns the UnspentKey of the current unspent.
func (u *Unspent) Key() UnspentKey {
	return UnspentKey{
		TxID: u.TxID,
		VOut: u.VOut,
	}
}

// IsSpent returns whether the unspent is already spent.
func (u *Unspent) IsSpent() bool {
	return u.Spent
}

// IsConfirmed returns whether the unspent is included in a connected block.
func (u *Unspent) IsConfirmed() bool {
	return u.Height > 0
}

// Confirmations returns the depth of the unspent relative to the given tip
// height.
func (u *Unspent) Confirmations(tipHeight int32) int32 {
	if !u.IsConfirmed() || tipHeight < u.Height {
		return 0
	}
	return tipHeight - u.Height + 1
}

// IsLocked returns whether the unspent is reserved by some in-flight swap at
// the given unix time.
func (u *Unspent) IsLocked(now int64) bool {
	if u.LockedBy == "" {
		return false
	}
	return u.LockExpiry == 0 || now < u.LockExpiry
}

// Spend marks the unspent as spent by the given transaction.
func (u *Unspent) Spend(txid string) {
	u.Spent = true
	u.SpentBy = txid
	u.LockedBy = ""
	u.LockExpiry = 0
}

// Confirm marks the unspent as included in the given block.
func (u *Unspent) Confirm(height int32, blockHash string) {
	u.Height = height
	u.BlockHash = blockHash
}

// Unconfirm brings the unspent back to mempool, used when its block gets
// disconnected.
func (u *Unspent) Unconfirm() {
	u.Height = 0
	u.BlockHash = ""
}

// Lock reserves the current unspent for the given owner until expiry (unix
// seconds, 0 means no expiry). Locking an unspent already reserved by the
// same owner is a no-op.
func (u *Unspent) Lock(owner string, now, expiry int64) error {
	if u.IsLocked(now) {
		if u.LockedBy != owner {
			return ErrUnspentAlreadyLocked
		}
		return nil
	}

	u.LockedBy = owner
	u.LockExpiry = expiry
	return nil
}

// Unlock marks the current locked unspent as unlocked.
func (u *Unspent) Unlock() {
	u.LockedBy = ""
	u.LockExpiry = 0
}

// IsSelectable returns whether the unspent can be used to fund a new
// transaction.
func (u *Unspent) IsSelectable(tipHeight, minConf int32, now int64) bool {
	return !u.WatchOnly && !u.IsSpent() && !u.IsLocked(now) &&
		u.Confirmations(tipHeight) >= minConf
}

// ComputeBalance sums up the values of the given unspents. Confirmed balance
// only counts unspents with depth >= minConf.
func ComputeBalance(
	unspents []Unspent, tipHeight, minConf int32, now int64,
) Balance {
	var balance Balance
	for i := range unspents {
		u := unspents[i]
		if u.WatchOnly || u.IsSpent() {
			continue
		}
		if u.IsConfirmed() && u.Confirmations(tipHeight) >= minConf {
			balance.Confirmed += u.Value
		} else {
			balance.Unconfirmed += u.Value
		}
		if u.IsLocked(now) {
			balance.Locked += u.Value
		}
	}
	return balance
}
