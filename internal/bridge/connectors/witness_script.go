package connectors

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/klingon-exchange/klingbridge/internal/bridge/scripts"
	"github.com/klingon-exchange/klingbridge/internal/chain"
)

// witnessScriptConnector is the shared part of every P2WSH connector.
type witnessScriptConnector struct {
	network       chain.Network
	witnessScript []byte
	address       *btcutil.AddressWitnessScriptHash
	pkScript      []byte
}

func newWitnessScriptConnector(network chain.Network, witnessScript []byte) (witnessScriptConnector, error) {
	params, err := networkParams(network)
	if err != nil {
		return witnessScriptConnector{}, err
	}
	address, err := scripts.WitnessScriptHashAddress(witnessScript, params)
	if err != nil {
		return witnessScriptConnector{}, err
	}
	pkScript, err := scripts.WitnessScriptHashPkScript(witnessScript)
	if err != nil {
		return witnessScriptConnector{}, err
	}
	return witnessScriptConnector{
		network:       network,
		witnessScript: witnessScript,
		address:       address,
		pkScript:      pkScript,
	}, nil
}

// Network returns the network the connector was built for.
func (c *witnessScriptConnector) Network() chain.Network {
	return c.network
}

// GenerateAddress returns the P2WSH address.
func (c *witnessScriptConnector) GenerateAddress() btcutil.Address {
	return c.address
}

// GenerateScript returns the P2WSH output script.
func (c *witnessScriptConnector) GenerateScript() []byte {
	return cloneBytes(c.pkScript)
}

// WitnessScript returns the script committed to by the output.
func (c *witnessScriptConnector) WitnessScript() []byte {
	return cloneBytes(c.witnessScript)
}

// Unlock returns the only spend path of the connector.
func (c *witnessScriptConnector) Unlock() *SpendPath {
	return &SpendPath{
		Kind:   SpendWitnessScriptHash,
		Script: cloneBytes(c.witnessScript),
	}
}

// Connector3 locks an output to the operator's key:
//
//	P2WSH(<operator pubkey> OP_CHECKSIG)
type Connector3 struct {
	witnessScriptConnector
}

// NewConnector3 builds the operator pay-to-pubkey connector.
func NewConnector3(network chain.Network, operatorPublicKey *btcec.PublicKey) (*Connector3, error) {
	if operatorPublicKey == nil {
		return nil, fmt.Errorf("%w: operator public key is nil", ErrMalformedConnectorInput)
	}
	script, err := scripts.PayToPubKeyScript(operatorPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnectorInput, err)
	}
	base, err := newWitnessScriptConnector(network, script)
	if err != nil {
		return nil, err
	}
	return &Connector3{witnessScriptConnector: base}, nil
}

// NofNConnector locks an output to all N-of-N members with a sorted
// CHECKMULTISIG script:
//
//	P2WSH(OP_n <pk_1> ... <pk_n> OP_n OP_CHECKMULTISIG)
type NofNConnector struct {
	witnessScriptConnector
	publicKeys []*btcec.PublicKey
}

// NewNofNConnector builds the cooperative multisig connector. The key order
// passed in does not matter.
func NewNofNConnector(network chain.Network, publicKeys []*btcec.PublicKey) (*NofNConnector, error) {
	sorted, err := scripts.SortPublicKeys(publicKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnectorInput, err)
	}
	script, err := scripts.NofNMultiSigScript(sorted)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnectorInput, err)
	}
	base, err := newWitnessScriptConnector(network, script)
	if err != nil {
		return nil, err
	}
	return &NofNConnector{witnessScriptConnector: base, publicKeys: sorted}, nil
}

// PublicKeys returns the member keys in script order.
func (c *NofNConnector) PublicKeys() []*btcec.PublicKey {
	return append([]*btcec.PublicKey(nil), c.publicKeys...)
}

var (
	_ Connector = (*Connector3)(nil)
	_ Connector = (*NofNConnector)(nil)
)
