package domain

// WalletState is the persisted state of the wallet ledger. It's mutated only
// by applying chain events in order.
type WalletState struct {
	Network      string
	Height       int32
	BlockHash    string
	ReceiveDepth uint32
	ChangeDepth  uint32
	// ChangeIndex is the index of the next unused change address.
	ChangeIndex uint32
}

// WalletUpdate groups all the changes resulting from applying a block (or a
// mempool transaction). It's applied atomically by the repository.
type WalletUpdate struct {
	Unspents []Unspent
	Spends   map[UnspentKey]string
	// Height and BlockHash are set only for block updates.
	Height    int32
	BlockHash string
}

// IsBlock returns whether the update refers to a connected block.
func (u WalletUpdate) IsBlock() bool {
	return u.Height > 0
}
