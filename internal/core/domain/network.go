package domain

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

var networkAliases = map[string]string{
	"main":     "mainnet",
	"mainnet":  "mainnet",
	"testnet":  "testnet",
	"testnet3": "testnet",
	"regtest":  "regtest",
	"simnet":   "simnet",
	"signet":   "signet",
}

var networkParams = map[string]*chaincfg.Params{
	"mainnet": &chaincfg.MainNetParams,
	"testnet": &chaincfg.TestNet3Params,
	"regtest": &chaincfg.RegressionNetParams,
	"simnet":  &chaincfg.SimNetParams,
	"signet":  &chaincfg.SigNetParams,
}

// Network identifies the chain variant the wallet is bound to. It's resolved
// once at startup and never mutated afterwards.
type Network struct {
	Name       string
	Params     *chaincfg.Params
	PortOffset int
}

// ParseNetwork resolves the given name (or one of its aliases) into a
// Network. The port offset shifts the default P2P port so that more wallets
// can run on the same host.
func ParseNetwork(name string, portOffset int) (Network, error) {
	canonical, ok := networkAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, name)
	}
	if portOffset < 0 {
		return Network{}, fmt.Errorf("port offset must not be negative")
	}
	return Network{
		Name:       canonical,
		Params:     networkParams[canonical],
		PortOffset: portOffset,
	}, nil
}

// DefaultPort returns the P2P port of the network shifted by the offset.
func (n Network) DefaultPort() string {
	port, _ := strconv.Atoi(n.Params.DefaultPort)
	return strconv.Itoa(port + n.PortOffset)
}

// PeerAddress completes the given host with the network's port if missing.
func (n Network) PeerAddress(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, n.DefaultPort())
}

// AssertNetwork fails with a NetworkMismatchError if the given label doesn't
// refer to this network.
func (n Network) AssertNetwork(label string) error {
	canonical, ok := networkAliases[strings.ToLower(strings.TrimSpace(label))]
	if !ok || canonical != n.Name {
		return &NetworkMismatchError{Expected: n.Name, Got: label}
	}
	return nil
}
