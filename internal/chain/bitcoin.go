package chain

import "github.com/btcsuite/btcd/chaincfg"

func init() {
	Register(Mainnet, &Params{
		Network:     Mainnet,
		Name:        "Bitcoin",
		Bech32HRP:   chaincfg.MainNetParams.Bech32HRPSegwit, // bc
		ChainParams: &chaincfg.MainNetParams,
	})

	// testnet3
	Register(Testnet, &Params{
		Network:     Testnet,
		Name:        "Bitcoin Testnet",
		Bech32HRP:   chaincfg.TestNet3Params.Bech32HRPSegwit, // tb
		ChainParams: &chaincfg.TestNet3Params,
	})

	Register(Signet, &Params{
		Network:     Signet,
		Name:        "Bitcoin Signet",
		Bech32HRP:   chaincfg.SigNetParams.Bech32HRPSegwit, // tb
		ChainParams: &chaincfg.SigNetParams,
	})

	Register(Regtest, &Params{
		Network:     Regtest,
		Name:        "Bitcoin Regtest",
		Bech32HRP:   chaincfg.RegressionNetParams.Bech32HRPSegwit, // bcrt
		ChainParams: &chaincfg.RegressionNetParams,
	})
}
