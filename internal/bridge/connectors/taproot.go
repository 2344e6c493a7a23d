package connectors

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/klingon-exchange/klingbridge/internal/bridge/graphs"
	"github.com/klingon-exchange/klingbridge/internal/bridge/scripts"
	"github.com/klingon-exchange/klingbridge/internal/chain"
)

// TaprootConnector is a connector paying to a P2TR output.
type TaprootConnector interface {
	Connector

	// InternalKey returns the untweaked (x-only, even Y) internal key.
	InternalKey() *btcec.PublicKey

	// MerkleRoot returns the script tree root, nil for key-only outputs.
	MerkleRoot() []byte

	// KeyPath returns the cooperative key path spend recipe.
	KeyPath() *SpendPath
}

// taprootConnector is the shared part of every P2TR connector.
//
// Leaves are assembled by txscript.AssembleTaprootScriptTree in declaration
// order; the leaf order of each connector is part of the protocol.
type taprootConnector struct {
	network     chain.Network
	internalKey *btcec.PublicKey
	leaves      []txscript.TapLeaf
	tree        *txscript.IndexedTapScriptTree
	merkleRoot  []byte
	outputKey   *btcec.PublicKey
	address     *btcutil.AddressTaproot
	pkScript    []byte
}

func newTaprootConnector(network chain.Network, internalKey *btcec.PublicKey, leafScripts ...[]byte) (taprootConnector, error) {
	params, err := networkParams(network)
	if err != nil {
		return taprootConnector{}, err
	}
	internal, err := xOnly(internalKey, "internal key")
	if err != nil {
		return taprootConnector{}, err
	}

	c := taprootConnector{network: network, internalKey: internal}

	if len(leafScripts) > 0 {
		c.leaves = make([]txscript.TapLeaf, len(leafScripts))
		for i, script := range leafScripts {
			c.leaves[i] = txscript.NewBaseTapLeaf(script)
		}
		c.tree = txscript.AssembleTaprootScriptTree(c.leaves...)
		root := c.tree.RootNode.TapHash()
		c.merkleRoot = root[:]
	}

	// A nil root yields the BIP-86 tweak for key-only outputs.
	c.outputKey = txscript.ComputeTaprootOutputKey(internal, c.merkleRoot)

	c.address, err = btcutil.NewAddressTaproot(schnorr.SerializePubKey(c.outputKey), params)
	if err != nil {
		return taprootConnector{}, fmt.Errorf("failed to create P2TR address: %w", err)
	}
	c.pkScript, err = txscript.PayToTaprootScript(c.outputKey)
	if err != nil {
		return taprootConnector{}, fmt.Errorf("failed to create P2TR script: %w", err)
	}

	return c, nil
}

// Network returns the network the connector was built for.
func (c *taprootConnector) Network() chain.Network {
	return c.network
}

// GenerateAddress returns the bech32m P2TR address.
func (c *taprootConnector) GenerateAddress() btcutil.Address {
	return c.address
}

// GenerateScript returns the P2TR output script OP_1 <output key>.
func (c *taprootConnector) GenerateScript() []byte {
	return cloneBytes(c.pkScript)
}

// InternalKey returns the untweaked internal key.
func (c *taprootConnector) InternalKey() *btcec.PublicKey {
	return c.internalKey
}

// OutputKey returns the tweaked key committed to by the output.
func (c *taprootConnector) OutputKey() *btcec.PublicKey {
	return c.outputKey
}

// MerkleRoot returns the script tree root.
func (c *taprootConnector) MerkleRoot() []byte {
	return cloneBytes(c.merkleRoot)
}

// LeafCount returns the number of script leaves.
func (c *taprootConnector) LeafCount() int {
	return len(c.leaves)
}

// LeafScript returns the script of leaf i.
func (c *taprootConnector) LeafScript(i int) ([]byte, error) {
	if i < 0 || i >= len(c.leaves) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrLeafOutOfRange, i, len(c.leaves))
	}
	return cloneBytes(c.leaves[i].Script), nil
}

// KeyPath returns the key path spend recipe.
func (c *taprootConnector) KeyPath() *SpendPath {
	return &SpendPath{
		Kind:       SpendTaprootKeyPath,
		MerkleRoot: cloneBytes(c.merkleRoot),
	}
}

// Leaf returns the script path spend recipe of leaf i, including its
// control block.
func (c *taprootConnector) Leaf(i int) (*SpendPath, error) {
	if i < 0 || i >= len(c.leaves) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrLeafOutOfRange, i, len(c.leaves))
	}
	ctrlBlock := c.tree.LeafMerkleProofs[i].ToControlBlock(c.internalKey)
	ctrlBlockBytes, err := ctrlBlock.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize control block: %w", err)
	}
	return &SpendPath{
		Kind:         SpendTaprootScriptPath,
		Script:       cloneBytes(c.leaves[i].Script),
		ControlBlock: ctrlBlockBytes,
	}, nil
}

// Connector A leaves.
const (
	// ConnectorALeafTake lets the operator alone take the output.
	ConnectorALeafTake = 0

	// ConnectorALeafChallenge lets the N-of-N spend the output to challenge.
	ConnectorALeafChallenge = 1
)

// ConnectorA is the kick-off challenge connector. Internal key: N-of-N.
//
//	leaf 0: <operator> OP_CHECKSIG
//	leaf 1: <n-of-n> OP_CHECKSIG
type ConnectorA struct {
	taprootConnector
	operatorTaprootPublicKey *btcec.PublicKey
	nOfNTaprootPublicKey     *btcec.PublicKey
}

// NewConnectorA builds connector A.
func NewConnectorA(network chain.Network, operatorTaprootPublicKey, nOfNTaprootPublicKey *btcec.PublicKey) (*ConnectorA, error) {
	operator, err := xOnly(operatorTaprootPublicKey, "operator taproot public key")
	if err != nil {
		return nil, err
	}
	nOfN, err := xOnly(nOfNTaprootPublicKey, "n-of-n taproot public key")
	if err != nil {
		return nil, err
	}

	take, err := scripts.PayToXOnlyPubKeyScript(operator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnectorInput, err)
	}
	challenge, err := scripts.PayToXOnlyPubKeyScript(nOfN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnectorInput, err)
	}

	base, err := newTaprootConnector(network, nOfN, take, challenge)
	if err != nil {
		return nil, err
	}
	return &ConnectorA{
		taprootConnector:         base,
		operatorTaprootPublicKey: operator,
		nOfNTaprootPublicKey:     nOfN,
	}, nil
}

// Connector B leaves.
const (
	// ConnectorBLeafTimeout lets the N-of-N spend after ConnectorBTimelock blocks.
	ConnectorBLeafTimeout = 0

	// ConnectorBLeafCommitment lets the N-of-N spend by revealing the
	// operator's one-time-signature commitment.
	ConnectorBLeafCommitment = 1
)

// MaxOneTimePublicKeySize bounds the commitment so it can be revealed as a
// single witness element.
const MaxOneTimePublicKeySize = txscript.MaxScriptElementSize

// ConnectorB carries the kick-off value through the dispute window.
// Internal key: N-of-N.
//
//	leaf 0: <ConnectorBTimelock> OP_CHECKSEQUENCEVERIFY OP_DROP <n-of-n> OP_CHECKSIG
//	leaf 1: OP_SHA256 <sha256(one-time public key)> OP_EQUALVERIFY <n-of-n> OP_CHECKSIG
//
// The one-time public key is opaque: it is only hashed and, when the
// commitment leaf is used, revealed verbatim.
type ConnectorB struct {
	taprootConnector
	nOfNTaprootPublicKey     *btcec.PublicKey
	operatorOneTimePublicKey []byte
	commitment               [sha256.Size]byte
}

// NewConnectorB builds connector B.
func NewConnectorB(network chain.Network, nOfNTaprootPublicKey *btcec.PublicKey, operatorOneTimePublicKey []byte) (*ConnectorB, error) {
	nOfN, err := xOnly(nOfNTaprootPublicKey, "n-of-n taproot public key")
	if err != nil {
		return nil, err
	}
	if len(operatorOneTimePublicKey) == 0 {
		return nil, fmt.Errorf("%w: one-time public key is empty", ErrMalformedConnectorInput)
	}
	if len(operatorOneTimePublicKey) > MaxOneTimePublicKeySize {
		return nil, fmt.Errorf("%w: one-time public key is %d bytes, max %d",
			ErrMalformedConnectorInput, len(operatorOneTimePublicKey), MaxOneTimePublicKeySize)
	}

	commitment := sha256.Sum256(operatorOneTimePublicKey)

	timeout, err := scripts.TimelockedXOnlyPubKeyScript(nOfN, graphs.ConnectorBTimelock)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnectorInput, err)
	}
	reveal, err := scripts.HashRevealXOnlyPubKeyScript(commitment[:], nOfN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedConnectorInput, err)
	}

	base, err := newTaprootConnector(network, nOfN, timeout, reveal)
	if err != nil {
		return nil, err
	}
	return &ConnectorB{
		taprootConnector:         base,
		nOfNTaprootPublicKey:     nOfN,
		operatorOneTimePublicKey: cloneBytes(operatorOneTimePublicKey),
		commitment:               commitment,
	}, nil
}

// Timelock returns the CSV delay of the timeout leaf. Inputs spending that
// leaf must carry it as their sequence number.
func (c *ConnectorB) Timelock() uint32 {
	return graphs.ConnectorBTimelock
}

// CommitmentPath returns the commitment leaf recipe with the revealed data
// placed above the signature.
func (c *ConnectorB) CommitmentPath(revealed []byte) (*SpendPath, error) {
	digest := sha256.Sum256(revealed)
	if !bytes.Equal(digest[:], c.commitment[:]) {
		return nil, fmt.Errorf("%w: revealed data does not match commitment", ErrMalformedConnectorInput)
	}
	path, err := c.Leaf(ConnectorBLeafCommitment)
	if err != nil {
		return nil, err
	}
	path.Extra = [][]byte{cloneBytes(revealed)}
	return path, nil
}

// TaprootKeyConnector is a key-only (BIP-86) P2TR output.
type TaprootKeyConnector struct {
	taprootConnector
}

// NewTaprootKeyConnector builds a key-only P2TR connector.
func NewTaprootKeyConnector(network chain.Network, internalKey *btcec.PublicKey) (*TaprootKeyConnector, error) {
	base, err := newTaprootConnector(network, internalKey)
	if err != nil {
		return nil, err
	}
	return &TaprootKeyConnector{taprootConnector: base}, nil
}

var (
	_ TaprootConnector = (*ConnectorA)(nil)
	_ TaprootConnector = (*ConnectorB)(nil)
	_ TaprootConnector = (*TaprootKeyConnector)(nil)
)
