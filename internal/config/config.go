package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tdex-network/tdex-taker/internal/core/domain"
)

const (
	// NetworkKey is the bitcoin network the wallet is bound to: mainnet,
	// testnet, regtest, simnet or signet.
	NetworkKey = "NETWORK"
	// DatadirKey is the local data directory to store the internal state of
	// the taker.
	DatadirKey = "DATADIR"
	// LogLevelKey are the different logging levels. For reference on the
	// values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// HDKeyKey is the base58 extended private key, either the master key or
	// the BIP84 account key. It's never written to disk.
	HDKeyKey = "HD_KEY"
	// AccountKey is the BIP84 account index.
	AccountKey = "ACCOUNT"
	// AddressWindowKey is the number of receive and change addresses derived
	// and watched at startup.
	AddressWindowKey = "ADDRESS_WINDOW"
	// MaxPeersKey is the number of outbound peers to keep.
	MaxPeersKey = "MAX_PEERS"
	// ConnectPeersKey, if set, is the comma separated list of the only peers
	// to connect to.
	ConnectPeersKey = "CONNECT_PEERS"
	// PortOffsetKey shifts the default P2P port of the network.
	PortOffsetKey = "PORT_OFFSET"
	// BirthdayHeightKey is the height from which filtered blocks are
	// requested on first sync. Blocks below it are never scanned.
	BirthdayHeightKey = "BIRTHDAY_HEIGHT"
	// MinConfirmationsKey is the depth required for an unspent to be spent
	// and counted in the confirmed balance.
	MinConfirmationsKey = "MIN_CONFIRMATIONS"
	// FeeRateKey is the fee rate in sats/kvB used for new transactions.
	FeeRateKey = "FEE_RATE"
	// MakerURLKey is the endpoint of the maker negotiation API.
	MakerURLKey = "MAKER_URL"
	// EthAgentURLKey is the endpoint of the ethereum wallet agent funding and
	// redeeming the ethereum HTLC.
	EthAgentURLKey = "ETH_AGENT_URL"
	// PairKey is the trading pair to take orders for.
	PairKey = "PAIR"
	// MinRateKey is the minimum bid/ask rate accepted.
	MinRateKey = "MIN_RATE"
	// TryMaxDurationKey bounds every fund, redeem and counterparty wait.
	TryMaxDurationKey = "TRY_MAX_DURATION"
	// TryIntervalKey is the polling interval of the try policy.
	TryIntervalKey = "TRY_INTERVAL"
	// SyncPollIntervalKey is the interval between sync progress samples.
	SyncPollIntervalKey = "SYNC_POLL_INTERVAL"
	// UtxoLockExpiryKey is how long unspents selected for funding a swap
	// stay reserved.
	UtxoLockExpiryKey = "UTXO_LOCK_EXPIRY"
	// NegotiationAttemptsKey bounds order fetching and taking.
	NegotiationAttemptsKey = "NEGOTIATION_ATTEMPTS"
	// MetricsAddrKey, if set, is the <host:port> prometheus metrics are
	// served on.
	MetricsAddrKey = "METRICS_ADDR"

	DbLocation   = "db"
	LogsLocation = "logs"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("tdex-taker", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("TAKER")
	vip.AutomaticEnv()

	vip.SetDefault(NetworkKey, "testnet")
	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, int(logrus.InfoLevel))
	vip.SetDefault(AccountKey, 0)
	vip.SetDefault(AddressWindowKey, domain.DefaultAddressWindow)
	vip.SetDefault(MaxPeersKey, 8)
	vip.SetDefault(PortOffsetKey, 0)
	vip.SetDefault(BirthdayHeightKey, 0)
	vip.SetDefault(MinConfirmationsKey, domain.DefaultMinConfirmations)
	vip.SetDefault(FeeRateKey, 1000)
	vip.SetDefault(MakerURLKey, "http://localhost:2318/")
	vip.SetDefault(EthAgentURLKey, "http://localhost:8545/")
	vip.SetDefault(PairKey, "ETH-BTC")
	vip.SetDefault(MinRateKey, "0.001")
	vip.SetDefault(TryMaxDurationKey, 40*time.Minute)
	vip.SetDefault(TryIntervalKey, time.Second)
	vip.SetDefault(SyncPollIntervalKey, 3*time.Second)
	vip.SetDefault(UtxoLockExpiryKey, 2*time.Hour)
	vip.SetDefault(NegotiationAttemptsKey, 3)

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

// Set overrides the value of the given key, used to apply CLI flags on top
// of the environment.
func Set(key string, value interface{}) {
	vip.Set(key, value)
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetFloat(key string) float64 {
	return vip.GetFloat64(key)
}

// GetStringSlice accepts both comma and space separated lists, as env vars
// are split by viper on whitespace only.
func GetStringSlice(key string) []string {
	res := make([]string, 0)
	for _, value := range vip.GetStringSlice(key) {
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				res = append(res, v)
			}
		}
	}
	return res
}

func GetDuration(key string) time.Duration {
	return vip.GetDuration(key)
}

func GetBool(key string) bool {
	return vip.GetBool(key)
}

func GetDecimal(key string) decimal.Decimal {
	d, _ := decimal.NewFromString(GetString(key))
	return d
}

func GetDatadir() string {
	return GetString(DatadirKey)
}

func GetDbDir() string {
	return filepath.Join(GetDatadir(), DbLocation)
}

func GetLogsDir() string {
	return filepath.Join(GetDatadir(), LogsLocation)
}

// GetNetwork returns the network resolved from NETWORK and PORT_OFFSET.
func GetNetwork() (domain.Network, error) {
	return domain.ParseNetwork(GetString(NetworkKey), GetInt(PortOffsetKey))
}

// IsValid reports the first problem found in the current configuration,
// including values changed with Set after InitConfig.
func IsValid() error {
	return validate()
}

func validate() error {
	datadir := GetString(DatadirKey)
	if len(datadir) <= 0 {
		return fmt.Errorf("missing datadir")
	}

	if _, err := GetNetwork(); err != nil {
		return err
	}

	level := GetInt(LogLevelKey)
	if level < int(logrus.PanicLevel) || level > int(logrus.TraceLevel) {
		return fmt.Errorf("%s must be in range [0, 6]", LogLevelKey)
	}

	if GetInt(AccountKey) < 0 {
		return fmt.Errorf("%s must not be negative", AccountKey)
	}
	if GetInt(AddressWindowKey) <= 0 {
		return fmt.Errorf("%s must be greater than zero", AddressWindowKey)
	}
	if GetInt(MaxPeersKey) <= 0 {
		return fmt.Errorf("%s must be greater than zero", MaxPeersKey)
	}
	if GetInt(BirthdayHeightKey) < 0 {
		return fmt.Errorf("%s must not be negative", BirthdayHeightKey)
	}
	if GetInt(MinConfirmationsKey) < 0 {
		return fmt.Errorf("%s must not be negative", MinConfirmationsKey)
	}
	if GetInt(FeeRateKey) <= 0 {
		return fmt.Errorf("%s must be greater than zero", FeeRateKey)
	}
	if GetInt(NegotiationAttemptsKey) <= 0 {
		return fmt.Errorf("%s must be greater than zero", NegotiationAttemptsKey)
	}

	for _, key := range []string{MakerURLKey, EthAgentURLKey} {
		if _, err := url.ParseRequestURI(GetString(key)); err != nil {
			return fmt.Errorf("%s is not a valid url: %s", key, err)
		}
	}

	minRate, err := decimal.NewFromString(GetString(MinRateKey))
	if err != nil || !minRate.IsPositive() {
		return fmt.Errorf("%s must be a positive decimal number", MinRateKey)
	}

	for _, key := range []string{
		TryMaxDurationKey, TryIntervalKey, SyncPollIntervalKey, UtxoLockExpiryKey,
	} {
		if GetDuration(key) <= 0 {
			return fmt.Errorf("%s must be a positive duration", key)
		}
	}
	if GetDuration(TryIntervalKey) > GetDuration(TryMaxDurationKey) {
		return fmt.Errorf(
			"%s must not be greater than %s", TryIntervalKey, TryMaxDurationKey,
		)
	}

	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if err := makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation)); err != nil {
		return err
	}
	return makeDirectoryIfNotExists(filepath.Join(datadir, LogsLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
