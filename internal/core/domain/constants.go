package domain

const (
	ExternalChain = 0
	InternalChain = 1

	// DefaultAddressWindow is the number of receive and change addresses
	// derived and watched at startup.
	DefaultAddressWindow = 10
	// DefaultMinConfirmations is the depth an unspent must reach to count
	// toward the confirmed balance.
	DefaultMinConfirmations = 1

	AssetBitcoin = "bitcoin"
	AssetEther   = "ether"

	LedgerBitcoin  = "bitcoin"
	LedgerEthereum = "ethereum"
)

var assetDecimals = map[string]int32{
	AssetBitcoin: 8,
	AssetEther:   18,
}
