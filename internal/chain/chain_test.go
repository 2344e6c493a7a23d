package chain

import (
	"errors"
	"testing"
)

func TestAllNetworksRegistered(t *testing.T) {
	expected := []Network{Mainnet, Testnet, Signet, Regtest}

	for _, network := range expected {
		if !IsSupported(network) {
			t.Errorf("expected %s to be registered", network)
		}
	}

	if got := len(List()); got != len(expected) {
		t.Errorf("List() returned %d networks, want %d", got, len(expected))
	}
}

func TestBech32Prefixes(t *testing.T) {
	tests := []struct {
		network Network
		hrp     string
	}{
		{Mainnet, "bc"},
		{Testnet, "tb"},
		{Signet, "tb"},
		{Regtest, "bcrt"},
	}

	for _, tt := range tests {
		t.Run(string(tt.network), func(t *testing.T) {
			params, ok := Get(tt.network)
			if !ok {
				t.Fatalf("%s should be registered", tt.network)
			}
			if params.Bech32HRP != tt.hrp {
				t.Errorf("Bech32HRP = %s, want %s", params.Bech32HRP, tt.hrp)
			}
			if params.ChainParams == nil {
				t.Fatal("ChainParams should not be nil")
			}
			if params.ChainParams.Bech32HRPSegwit != tt.hrp {
				t.Errorf("ChainParams.Bech32HRPSegwit = %s, want %s", params.ChainParams.Bech32HRPSegwit, tt.hrp)
			}
		})
	}
}

func TestParseNetwork(t *testing.T) {
	tests := []struct {
		input   string
		want    Network
		wantErr bool
	}{
		{"mainnet", Mainnet, false},
		{"Testnet", Testnet, false},
		{"testnet3", Testnet, false},
		{" regtest ", Regtest, false},
		{"signet", Signet, false},
		{"simnet", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNetwork(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedNetwork) {
					t.Errorf("expected ErrUnsupportedNetwork, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseNetwork(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestChainParamsUnknown(t *testing.T) {
	if _, err := ChainParams(Network("litecoin")); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Errorf("expected ErrUnsupportedNetwork, got %v", err)
	}
}
