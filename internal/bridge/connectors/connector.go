// Package connectors encapsulates the spending conditions of the bridge graph.
//
// A connector is built from a network and a set of public keys (or opaque
// commitments) and yields the output script and address to pay into, plus a
// SpendPath recipe for every way the output can later be unlocked. Building a
// connector is pure: identical parameters give bit-identical scripts on every
// participant.
package connectors

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingbridge/internal/bridge/scripts"
	"github.com/klingon-exchange/klingbridge/internal/chain"
)

// Connector errors
var (
	ErrMalformedConnectorInput = errors.New("malformed connector input")
	ErrLeafOutOfRange          = errors.New("taproot leaf index out of range")
	ErrWitnessLayout           = errors.New("witness does not match spend path layout")
)

// Connector is a spending condition that can be paid into.
type Connector interface {
	// GenerateAddress returns the address of the connector output.
	GenerateAddress() btcutil.Address

	// GenerateScript returns the output script (scriptPubKey) of the connector.
	GenerateScript() []byte
}

// SpendKind is the closed set of previous-output shapes the signing helper
// knows how to satisfy.
type SpendKind uint8

const (
	// SpendLegacy spends a pre-segwit P2PKH output through the signature script.
	SpendLegacy SpendKind = iota

	// SpendWitnessScriptHash spends a segwit v0 P2WSH output.
	SpendWitnessScriptHash

	// SpendTaprootKeyPath spends a P2TR output with the tweaked internal key.
	SpendTaprootKeyPath

	// SpendTaprootScriptPath spends a P2TR output by revealing one leaf.
	SpendTaprootScriptPath
)

// String implements fmt.Stringer.
func (k SpendKind) String() string {
	switch k {
	case SpendLegacy:
		return "legacy"
	case SpendWitnessScriptHash:
		return "p2wsh"
	case SpendTaprootKeyPath:
		return "taproot-key-path"
	case SpendTaprootScriptPath:
		return "taproot-script-path"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// SpendPath is the recipe for unlocking one path of a connector output.
//
// Witness layout, bottom of the stack first:
//
//	key path:            <sig>
//	CHECKMULTISIG group: <dummy> <sig_1> ... <sig_n> <extra...> <script> [control block]
//	CHECKSIG chain:      <sig_n> ... <sig_1> <extra...> <script> [control block]
//
// where sig_i belongs to the i-th key of the script in script order.
type SpendPath struct {
	Kind SpendKind

	// Script is the witness script (P2WSH), the revealed leaf (script
	// path) or the previous output script (legacy).
	Script []byte

	// ControlBlock is the serialized control block of a script path spend.
	ControlBlock []byte

	// MerkleRoot tweaks the internal key on key path spends. Nil means a
	// BIP-86 key-only output.
	MerkleRoot []byte

	// Extra holds witness items pushed above the signatures, such as a
	// revealed preimage.
	Extra [][]byte
}

// SignerKeys returns the serialized keys that must sign this path in script
// order. Key path spends return nil: the single slot belongs to the internal key.
func (p *SpendPath) SignerKeys() (keys [][]byte, multisig bool, err error) {
	switch p.Kind {
	case SpendWitnessScriptHash, SpendTaprootScriptPath:
		return scripts.SignerKeys(p.Script)
	default:
		return nil, false, nil
	}
}

// slots returns the number of signature slots and whether the path uses
// CHECKMULTISIG ordering.
func (p *SpendPath) slots() (int, bool, error) {
	if p.Kind == SpendTaprootKeyPath {
		return 1, false, nil
	}
	keys, multisig, err := p.SignerKeys()
	if err != nil {
		return 0, false, err
	}
	return len(keys), multisig, nil
}

// Witness assembles the witness stack from signatures given in script key
// order. Missing signatures (nil) are kept as empty placeholders so the
// stack layout stays fixed while signatures are still being collected.
func (p *SpendPath) Witness(sigs [][]byte) (wire.TxWitness, error) {
	if p.Kind == SpendLegacy {
		return nil, fmt.Errorf("%w: legacy spends use the signature script", ErrWitnessLayout)
	}
	n, multisig, err := p.slots()
	if err != nil {
		return nil, err
	}
	if len(sigs) != n {
		return nil, fmt.Errorf("%w: got %d signatures for %d slots", ErrWitnessLayout, len(sigs), n)
	}

	witness := make(wire.TxWitness, 0, n+len(p.Extra)+3)
	if p.Kind == SpendTaprootKeyPath {
		return append(witness, placeholder(sigs[0])), nil
	}

	if multisig {
		// CHECKMULTISIG pops one element more than it uses.
		witness = append(witness, []byte{})
		for _, sig := range sigs {
			witness = append(witness, placeholder(sig))
		}
	} else {
		for i := len(sigs) - 1; i >= 0; i-- {
			witness = append(witness, placeholder(sigs[i]))
		}
	}

	for _, item := range p.Extra {
		witness = append(witness, item)
	}
	witness = append(witness, p.Script)
	if p.Kind == SpendTaprootScriptPath {
		witness = append(witness, p.ControlBlock)
	}

	return witness, nil
}

// DecodeWitness is the inverse of Witness: it returns the signatures found in
// an existing witness, in script key order (nil where the slot is empty),
// along with the extra items. An empty witness decodes to all-nil slots.
func (p *SpendPath) DecodeWitness(witness wire.TxWitness) (sigs [][]byte, extra [][]byte, err error) {
	n, multisig, err := p.slots()
	if err != nil {
		return nil, nil, err
	}
	sigs = make([][]byte, n)
	if len(witness) == 0 {
		return sigs, nil, nil
	}

	if p.Kind == SpendTaprootKeyPath {
		if len(witness) != 1 {
			return nil, nil, fmt.Errorf("%w: key path witness has %d items", ErrWitnessLayout, len(witness))
		}
		sigs[0] = nonEmpty(witness[0])
		return sigs, nil, nil
	}

	start := 0
	if multisig {
		start = 1
	}
	trailer := 1
	if p.Kind == SpendTaprootScriptPath {
		trailer = 2
	}
	if len(witness) < start+n+trailer {
		return nil, nil, fmt.Errorf("%w: witness has %d items, need at least %d",
			ErrWitnessLayout, len(witness), start+n+trailer)
	}

	for i := 0; i < n; i++ {
		item := witness[start+i]
		if multisig {
			sigs[i] = nonEmpty(item)
		} else {
			sigs[n-1-i] = nonEmpty(item)
		}
	}
	for _, item := range witness[start+n : len(witness)-trailer] {
		extra = append(extra, item)
	}

	return sigs, extra, nil
}

func placeholder(sig []byte) []byte {
	if sig == nil {
		return []byte{}
	}
	return sig
}

func nonEmpty(item []byte) []byte {
	if len(item) == 0 {
		return nil
	}
	return append([]byte(nil), item...)
}

// networkParams resolves the btcd parameters of a network.
func networkParams(network chain.Network) (*chaincfg.Params, error) {
	params, err := chain.ChainParams(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnectorInput, err)
	}
	return params, nil
}

// xOnly normalizes a key to its even-Y (BIP-340) form so that every
// participant serializes and tweaks the same point.
func xOnly(key *btcec.PublicKey, name string) (*btcec.PublicKey, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: %s is nil", ErrMalformedConnectorInput, name)
	}
	normalized, err := schnorr.ParsePubKey(schnorr.SerializePubKey(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedConnectorInput, name, err)
	}
	return normalized, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
