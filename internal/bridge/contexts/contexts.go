// Package contexts bundles the key material each protocol role works with.
//
// Every role has a public-only form, enough to rebuild and validate any
// transaction of the graph, and a full form that adds the role's secret key
// for signing. Both forms of every role derive the same connector parameters.
package contexts

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/klingon-exchange/klingbridge/internal/bridge/connectors"
	"github.com/klingon-exchange/klingbridge/internal/bridge/scripts"
	"github.com/klingon-exchange/klingbridge/internal/chain"
)

// Context errors
var (
	ErrNilSecretKey       = errors.New("secret key is nil")
	ErrNotNofNMember      = errors.New("verifier key is not a member of the n-of-n group")
	ErrKeyAggregationFail = errors.New("n-of-n key aggregation failed")
)

// NofN is the verifier group whose unanimous signature controls the
// cooperative paths of the graph.
type NofN struct {
	// PublicKeys are the member keys sorted by compressed encoding.
	PublicKeys []*btcec.PublicKey

	// TaprootPublicKey is the MuSig2 aggregate of PublicKeys, x-only.
	TaprootPublicKey *btcec.PublicKey
}

// NewNofN builds the group from its member keys in any order.
func NewNofN(publicKeys []*btcec.PublicKey) (*NofN, error) {
	if len(publicKeys) == 0 {
		return nil, fmt.Errorf("%w: %v", connectors.ErrMalformedConnectorInput, scripts.ErrNoPublicKeys)
	}
	sorted, err := scripts.SortPublicKeys(publicKeys)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connectors.ErrMalformedConnectorInput, err)
	}

	// sort=true: every member computes the same aggregate regardless of order.
	aggKey, _, _, err := musig2.AggregateKeys(sorted, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyAggregationFail, err)
	}
	taprootKey, err := XOnly(aggKey.FinalKey)
	if err != nil {
		return nil, err
	}

	return &NofN{PublicKeys: sorted, TaprootPublicKey: taprootKey}, nil
}

// Contains reports whether key is a member of the group.
func (n *NofN) Contains(key *btcec.PublicKey) bool {
	for _, member := range n.PublicKeys {
		if member.IsEqual(key) {
			return true
		}
	}
	return false
}

// OperatorPublic is the operator's public material, available to every observer.
type OperatorPublic struct {
	Network                  chain.Network
	OperatorPublicKey        *btcec.PublicKey
	OperatorTaprootPublicKey *btcec.PublicKey
	OperatorOneTimePublicKey []byte
	NofN                     *NofN
}

// OperatorContext adds the operator's signing key.
type OperatorContext struct {
	OperatorPublic
	OperatorKeypair *btcec.PrivateKey
}

// NewOperatorPublic builds the operator's public context.
func NewOperatorPublic(
	network chain.Network,
	operatorPublicKey *btcec.PublicKey,
	operatorOneTimePublicKey []byte,
	verifierPublicKeys []*btcec.PublicKey,
) (*OperatorPublic, error) {
	if !chain.IsSupported(network) {
		return nil, fmt.Errorf("%w: %q", chain.ErrUnsupportedNetwork, network)
	}
	if operatorPublicKey == nil {
		return nil, fmt.Errorf("%w: operator public key is nil", connectors.ErrMalformedConnectorInput)
	}
	if len(operatorOneTimePublicKey) == 0 {
		return nil, fmt.Errorf("%w: one-time public key is empty", connectors.ErrMalformedConnectorInput)
	}
	taprootKey, err := XOnly(operatorPublicKey)
	if err != nil {
		return nil, err
	}
	nOfN, err := NewNofN(verifierPublicKeys)
	if err != nil {
		return nil, err
	}

	return &OperatorPublic{
		Network:                  network,
		OperatorPublicKey:        operatorPublicKey,
		OperatorTaprootPublicKey: taprootKey,
		OperatorOneTimePublicKey: append([]byte(nil), operatorOneTimePublicKey...),
		NofN:                     nOfN,
	}, nil
}

// NewOperatorContext builds the operator's signing context.
func NewOperatorContext(
	network chain.Network,
	operatorKeypair *btcec.PrivateKey,
	operatorOneTimePublicKey []byte,
	verifierPublicKeys []*btcec.PublicKey,
) (*OperatorContext, error) {
	if operatorKeypair == nil {
		return nil, ErrNilSecretKey
	}
	public, err := NewOperatorPublic(network, operatorKeypair.PubKey(), operatorOneTimePublicKey, verifierPublicKeys)
	if err != nil {
		return nil, err
	}
	return &OperatorContext{OperatorPublic: *public, OperatorKeypair: operatorKeypair}, nil
}

// VerifierPublic is what anyone knows about one verifier and the operator it watches.
type VerifierPublic struct {
	Network                  chain.Network
	VerifierPublicKey        *btcec.PublicKey
	OperatorPublicKey        *btcec.PublicKey
	OperatorTaprootPublicKey *btcec.PublicKey
	OperatorOneTimePublicKey []byte
	NofN                     *NofN
}

// VerifierContext adds the verifier's signing key.
type VerifierContext struct {
	VerifierPublic
	VerifierKeypair *btcec.PrivateKey
}

// NewVerifierPublic builds a verifier's public context. The verifier must be
// one of verifierPublicKeys.
func NewVerifierPublic(
	network chain.Network,
	verifierPublicKey *btcec.PublicKey,
	operatorPublicKey *btcec.PublicKey,
	operatorOneTimePublicKey []byte,
	verifierPublicKeys []*btcec.PublicKey,
) (*VerifierPublic, error) {
	if verifierPublicKey == nil {
		return nil, fmt.Errorf("%w: verifier public key is nil", connectors.ErrMalformedConnectorInput)
	}
	operator, err := NewOperatorPublic(network, operatorPublicKey, operatorOneTimePublicKey, verifierPublicKeys)
	if err != nil {
		return nil, err
	}
	if !operator.NofN.Contains(verifierPublicKey) {
		return nil, ErrNotNofNMember
	}

	return &VerifierPublic{
		Network:                  network,
		VerifierPublicKey:        verifierPublicKey,
		OperatorPublicKey:        operator.OperatorPublicKey,
		OperatorTaprootPublicKey: operator.OperatorTaprootPublicKey,
		OperatorOneTimePublicKey: operator.OperatorOneTimePublicKey,
		NofN:                     operator.NofN,
	}, nil
}

// NewVerifierContext builds a verifier's signing context.
func NewVerifierContext(
	network chain.Network,
	verifierKeypair *btcec.PrivateKey,
	operatorPublicKey *btcec.PublicKey,
	operatorOneTimePublicKey []byte,
	verifierPublicKeys []*btcec.PublicKey,
) (*VerifierContext, error) {
	if verifierKeypair == nil {
		return nil, ErrNilSecretKey
	}
	public, err := NewVerifierPublic(network, verifierKeypair.PubKey(), operatorPublicKey, operatorOneTimePublicKey, verifierPublicKeys)
	if err != nil {
		return nil, err
	}
	return &VerifierContext{VerifierPublic: *public, VerifierKeypair: verifierKeypair}, nil
}

// XOnly normalizes a key to its even-Y form.
func XOnly(key *btcec.PublicKey) (*btcec.PublicKey, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: public key is nil", connectors.ErrMalformedConnectorInput)
	}
	normalized, err := schnorr.ParsePubKey(schnorr.SerializePubKey(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connectors.ErrMalformedConnectorInput, err)
	}
	return normalized, nil
}

// ParsePublicKey parses a hex-encoded 33-byte compressed public key.
func ParsePublicKey(s string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", connectors.ErrMalformedConnectorInput, err)
	}
	if len(raw) != btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d",
			connectors.ErrMalformedConnectorInput, btcec.PubKeyBytesLenCompressed, len(raw))
	}
	key, err := btcec.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connectors.ErrMalformedConnectorInput, err)
	}
	return key, nil
}

// ParseXOnlyPublicKey parses a hex-encoded 32-byte BIP-340 public key.
func ParseXOnlyPublicKey(s string) (*btcec.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", connectors.ErrMalformedConnectorInput, err)
	}
	key, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", connectors.ErrMalformedConnectorInput, err)
	}
	return key, nil
}
