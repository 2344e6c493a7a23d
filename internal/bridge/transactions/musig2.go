package transactions

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingbridge/internal/bridge/connectors"
	"github.com/klingon-exchange/klingbridge/internal/bridge/contexts"
)

// PartialSignatureSize is the size of an encoded partial signature: the
// compressed signing nonce R followed by the 32-byte scalar s.
const PartialSignatureSize = btcec.PubKeyBytesLenCompressed + 32

// MuSig2Session holds one N-of-N member's state for producing its share of a
// single aggregate Schnorr signature.
//
// Signing takes two rounds between the members:
//  1. every member calls GenerateNonce and sends the public nonce to the
//     others; each aggregates them with AggregateNonces
//  2. every member calls PartialSign; any party then merges the partial
//     signatures with CombinePartialSignatures
//
// A nonce signs exactly once. Reusing a MuSig2 nonce for two messages leaks
// the private key, so PartialSign discards the secret nonce and the next
// signature must start over with GenerateNonce.
type MuSig2Session struct {
	key  *btcec.PrivateKey
	nOfN *contexts.NofN

	nonces    *musig2.Nonces
	nonceUsed bool
}

// NewMuSig2Session creates a signing session for a member of nOfN.
func NewMuSig2Session(key *btcec.PrivateKey, nOfN *contexts.NofN) (*MuSig2Session, error) {
	if key == nil {
		return nil, contexts.ErrNilSecretKey
	}
	if nOfN == nil || !nOfN.Contains(key.PubKey()) {
		return nil, contexts.ErrNotNofNMember
	}
	return &MuSig2Session{key: key, nOfN: nOfN}, nil
}

// GenerateNonce draws a fresh nonce pair, replacing any unused one, and
// returns the public nonce to send to the other members.
func (s *MuSig2Session) GenerateNonce() ([musig2.PubNonceSize]byte, error) {
	nonces, err := musig2.GenNonces(
		musig2.WithPublicKey(s.key.PubKey()),
		musig2.WithNonceSecretKeyAux(s.key),
		musig2.WithNonceCombinedKeyAux(s.nOfN.TaprootPublicKey),
	)
	if err != nil {
		return [musig2.PubNonceSize]byte{}, fmt.Errorf("failed to generate nonces: %w", err)
	}
	s.nonces = nonces
	s.nonceUsed = false
	return nonces.PubNonce, nil
}

// PubNonce returns the current public nonce.
func (s *MuSig2Session) PubNonce() ([musig2.PubNonceSize]byte, error) {
	if s.nonces == nil {
		return [musig2.PubNonceSize]byte{}, ErrNonceNotSet
	}
	return s.nonces.PubNonce, nil
}

// PartialSign produces this member's partial signature for input index of t
// along path. aggNonce is the aggregate of every member's public nonce.
func (s *MuSig2Session) PartialSign(
	t PreSignedTransaction,
	index int,
	path *connectors.SpendPath,
	hashType txscript.SigHashType,
	aggNonce [musig2.PubNonceSize]byte,
) (*musig2.PartialSignature, error) {
	if s.nonceUsed {
		return nil, ErrNonceAlreadyUsed
	}
	if s.nonces == nil {
		return nil, ErrNonceNotSet
	}

	target, err := nOfNSigningTarget(t, index, path, hashType, s.nOfN)
	if err != nil {
		return nil, fmt.Errorf("input %d: %w", index, err)
	}

	// The nonce is spent even if signing fails below.
	secNonce := s.nonces.SecNonce
	s.nonces = nil
	s.nonceUsed = true

	signOpts := append([]musig2.SignOption{musig2.WithSortedKeys()}, target.signOpts...)
	sig, err := musig2.Sign(secNonce, s.key, aggNonce, s.nOfN.PublicKeys, target.msg, signOpts...)
	if err != nil {
		return nil, fmt.Errorf("input %d: failed to sign: %w", index, err)
	}

	log.Debug("Partially signed input", "txid", t.Tx().TxHash(), "input", index, "kind", path.Kind)
	return sig, nil
}

// AggregateNonces combines the public nonces of every N-of-N member.
func AggregateNonces(pubNonces ...[musig2.PubNonceSize]byte) ([musig2.PubNonceSize]byte, error) {
	if len(pubNonces) == 0 {
		return [musig2.PubNonceSize]byte{}, ErrNonceNotSet
	}
	aggNonce, err := musig2.AggregateNonces(pubNonces)
	if err != nil {
		return [musig2.PubNonceSize]byte{}, fmt.Errorf("failed to aggregate nonces: %w", err)
	}
	return aggNonce, nil
}

// CombinePartialSignatures merges one partial signature from every member of
// nOfN into the aggregate signature and writes it into the N-of-N slot of
// input index. The result is checked against the key the input commits to.
func CombinePartialSignatures(
	t PreSignedTransaction,
	index int,
	path *connectors.SpendPath,
	hashType txscript.SigHashType,
	nOfN *contexts.NofN,
	partials ...*musig2.PartialSignature,
) error {
	if nOfN == nil {
		return fmt.Errorf("%w: no n-of-n group", ErrKeyMismatch)
	}
	if len(partials) != len(nOfN.PublicKeys) {
		return fmt.Errorf("%w: have %d of %d", ErrPartialSigMissing, len(partials), len(nOfN.PublicKeys))
	}
	for i, p := range partials {
		if p == nil || p.S == nil || p.R == nil {
			return fmt.Errorf("%w: signature %d is empty", ErrPartialSigMissing, i)
		}
		if !p.R.IsEqual(partials[0].R) {
			return fmt.Errorf("%w: signature %d uses a different nonce", ErrPartialSigInvalid, i)
		}
	}

	target, err := nOfNSigningTarget(t, index, path, hashType, nOfN)
	if err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}

	final := musig2.CombineSigs(partials[0].R, partials, target.combineOpts...)
	if !final.Verify(target.msg[:], target.verifyKey) {
		return fmt.Errorf("input %d: %w", index, ErrPartialSigInvalid)
	}

	sig := final.Serialize()
	if hashType != txscript.SigHashDefault {
		sig = append(sig, byte(hashType))
	}

	txIn := t.Tx().TxIn[index]
	if path.Kind == connectors.SpendTaprootKeyPath {
		txIn.Witness = wire.TxWitness{sig}
	} else {
		signed := []slotSignature{{scriptKey: schnorr.SerializePubKey(nOfN.TaprootPublicKey), sig: sig}}
		if err := fillSlots(txIn, path, signed); err != nil {
			return fmt.Errorf("input %d: %w", index, err)
		}
	}

	log.Debug("Combined n-of-n signature", "txid", t.Tx().TxHash(), "input", index, "signers", len(partials))
	return nil
}

// EncodePartialSignature serializes a partial signature for transport.
func EncodePartialSignature(sig *musig2.PartialSignature) ([]byte, error) {
	if sig == nil || sig.S == nil || sig.R == nil {
		return nil, ErrPartialSigMissing
	}
	var buf bytes.Buffer
	buf.Write(sig.R.SerializeCompressed())
	if err := sig.Encode(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode partial signature: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodePartialSignature parses the output of EncodePartialSignature.
func DecodePartialSignature(b []byte) (*musig2.PartialSignature, error) {
	if len(b) != PartialSignatureSize {
		return nil, fmt.Errorf("%w: partial signature is %d bytes, want %d",
			ErrMalformedEncoding, len(b), PartialSignatureSize)
	}
	r, err := btcec.ParsePubKey(b[:btcec.PubKeyBytesLenCompressed])
	if err != nil {
		return nil, fmt.Errorf("%w: nonce: %v", ErrMalformedEncoding, err)
	}
	sig := &musig2.PartialSignature{R: r}
	if err := sig.Decode(bytes.NewReader(b[btcec.PubKeyBytesLenCompressed:])); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	return sig, nil
}

// nOfNTarget is what an aggregate N-of-N signature on one input commits to.
type nOfNTarget struct {
	msg         [32]byte
	signOpts    []musig2.SignOption
	combineOpts []musig2.CombineOption
	verifyKey   *btcec.PublicKey
}

// nOfNSigningTarget computes the sighash of input index along path and the
// tweak the aggregate key needs to match the key the input checks against.
// Key path spends tweak the aggregate into the output key; script path spends
// sign with the untweaked aggregate named in the leaf.
func nOfNSigningTarget(
	t PreSignedTransaction,
	index int,
	path *connectors.SpendPath,
	hashType txscript.SigHashType,
	nOfN *contexts.NofN,
) (*nOfNTarget, error) {
	prevOuts, fetcher, err := signingInput(t, index, path)
	if err != nil {
		return nil, err
	}
	tx, prevOut := t.Tx(), prevOuts[index]
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	target := &nOfNTarget{}

	switch path.Kind {
	case connectors.SpendTaprootKeyPath:
		if err := checkTaprootKeyPath(prevOut, nOfN.TaprootPublicKey, path.MerkleRoot); err != nil {
			return nil, err
		}
		hash, err := txscript.CalcTaprootSignatureHash(sigHashes, hashType, tx, index, fetcher)
		if err != nil {
			return nil, fmt.Errorf("failed to compute sighash: %w", err)
		}
		copy(target.msg[:], hash)

		target.verifyKey, err = schnorr.ParsePubKey(prevOut.PkScript[2:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrevOutMismatch, err)
		}
		if len(path.MerkleRoot) == 0 {
			target.signOpts = []musig2.SignOption{musig2.WithBip86SignTweak()}
			target.combineOpts = []musig2.CombineOption{
				musig2.WithBip86TweakedCombine(target.msg, nOfN.PublicKeys, true),
			}
		} else {
			target.signOpts = []musig2.SignOption{musig2.WithTaprootSignTweak(path.MerkleRoot)}
			target.combineOpts = []musig2.CombineOption{
				musig2.WithTaprootTweakedCombine(target.msg, nOfN.PublicKeys, path.MerkleRoot, true),
			}
		}

	case connectors.SpendTaprootScriptPath:
		if err := checkTaprootScriptPath(prevOut, path); err != nil {
			return nil, err
		}
		signers, _, err := path.SignerKeys()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrevOutMismatch, err)
		}
		scriptKey := schnorr.SerializePubKey(nOfN.TaprootPublicKey)
		found := false
		for _, signer := range signers {
			if bytes.Equal(signer, scriptKey) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: leaf does not check the n-of-n key", ErrKeyMismatch)
		}

		hash, err := txscript.CalcTapscriptSignaturehash(
			sigHashes, hashType, tx, index, fetcher, txscript.NewBaseTapLeaf(path.Script),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to compute sighash: %w", err)
		}
		copy(target.msg[:], hash)
		target.verifyKey = nOfN.TaprootPublicKey

	default:
		return nil, fmt.Errorf("%w: %s cannot take an aggregate signature", ErrUnsupportedSpendKind, path.Kind)
	}

	return target, nil
}
