// Package chain defines the Bitcoin networks the bridge can build transactions for.
// All network values are hardcoded here - no external configuration needed.
package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// ErrUnsupportedNetwork is returned for networks missing from the registry.
var ErrUnsupportedNetwork = errors.New("unsupported network")

// Network identifies a Bitcoin network.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Signet  Network = "signet"
	Regtest Network = "regtest"
)

// String implements fmt.Stringer.
func (n Network) String() string {
	return string(n)
}

// Params contains the parameters the bridge needs for a network.
type Params struct {
	Network Network
	Name    string

	// Bech32HRP is the human-readable prefix of segwit addresses.
	Bech32HRP string

	// ChainParams are the btcd parameters used for address encoding.
	ChainParams *chaincfg.Params
}

// Registry holds all network parameters indexed by network.
var registry = make(map[Network]*Params)

// Register adds network params to the registry.
func Register(network Network, params *Params) {
	registry[network] = params
}

// Get returns the params for a network.
func Get(network Network) (*Params, bool) {
	params, ok := registry[network]
	return params, ok
}

// ChainParams returns the btcd chain parameters for a network.
func ChainParams(network Network) (*chaincfg.Params, error) {
	params, ok := Get(network)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
	return params.ChainParams, nil
}

// ParseNetwork parses a network name. "testnet3" is accepted as an alias for testnet.
func ParseNetwork(s string) (Network, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "testnet3" {
		name = string(Testnet)
	}
	network := Network(name)
	if _, ok := registry[network]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, s)
	}
	return network, nil
}

// List returns all registered networks in name order.
func List() []Network {
	networks := make([]Network, 0, len(registry))
	for network := range registry {
		networks = append(networks, network)
	}
	sort.Slice(networks, func(i, j int) bool { return networks[i] < networks[j] })
	return networks
}

// IsSupported returns true if the network is registered.
func IsSupported(network Network) bool {
	_, ok := registry[network]
	return ok
}
