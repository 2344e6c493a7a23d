// Package scripts builds the raw Bitcoin scripts shared by connectors and
// transaction builders. Every function here is a pure function of its
// arguments.
package scripts

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

var (
	ErrNilPublicKey   = errors.New("public key is nil")
	ErrNoPublicKeys   = errors.New("no public keys")
	ErrTooManyPubKeys = errors.New("too many public keys for multisig")
	ErrDuplicateKey   = errors.New("duplicate public key")
)

// PayToPubKeyScript returns the witness script
//
//	<pubkey> OP_CHECKSIG
//
// with the 33-byte compressed key.
func PayToPubKeyScript(pubKey *btcec.PublicKey) ([]byte, error) {
	if pubKey == nil {
		return nil, ErrNilPublicKey
	}
	return txscript.NewScriptBuilder().
		AddData(pubKey.SerializeCompressed()).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// PayToXOnlyPubKeyScript returns the tapscript leaf
//
//	<x-only pubkey> OP_CHECKSIG
func PayToXOnlyPubKeyScript(pubKey *btcec.PublicKey) ([]byte, error) {
	if pubKey == nil {
		return nil, ErrNilPublicKey
	}
	return txscript.NewScriptBuilder().
		AddData(schnorr.SerializePubKey(pubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// TimelockedXOnlyPubKeyScript returns the tapscript leaf
//
//	<blocks> OP_CHECKSEQUENCEVERIFY OP_DROP <x-only pubkey> OP_CHECKSIG
func TimelockedXOnlyPubKeyScript(pubKey *btcec.PublicKey, blocks uint32) ([]byte, error) {
	if pubKey == nil {
		return nil, ErrNilPublicKey
	}
	if blocks == 0 || blocks > 0xFFFF {
		return nil, fmt.Errorf("relative timelock must be in 1..65535 blocks, got %d", blocks)
	}
	return txscript.NewScriptBuilder().
		AddInt64(int64(blocks)).
		AddOp(txscript.OP_CHECKSEQUENCEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(schnorr.SerializePubKey(pubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// HashRevealXOnlyPubKeyScript returns the tapscript leaf
//
//	OP_SHA256 <hash> OP_EQUALVERIFY <x-only pubkey> OP_CHECKSIG
func HashRevealXOnlyPubKeyScript(hash []byte, pubKey *btcec.PublicKey) ([]byte, error) {
	if pubKey == nil {
		return nil, ErrNilPublicKey
	}
	if len(hash) != sha256.Size {
		return nil, fmt.Errorf("hash must be %d bytes, got %d", sha256.Size, len(hash))
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_SHA256).
		AddData(hash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(schnorr.SerializePubKey(pubKey)).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// SortPublicKeys returns a copy of keys sorted by their compressed encoding.
// Duplicates are rejected.
func SortPublicKeys(keys []*btcec.PublicKey) ([]*btcec.PublicKey, error) {
	sorted := make([]*btcec.PublicKey, len(keys))
	for i, k := range keys {
		if k == nil {
			return nil, ErrNilPublicKey
		}
		sorted[i] = k
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].SerializeCompressed(), sorted[j].SerializeCompressed()) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].IsEqual(sorted[i-1]) {
			return nil, ErrDuplicateKey
		}
	}
	return sorted, nil
}

// NofNMultiSigScript returns the N-of-N witness script
//
//	OP_n <pk_1> ... <pk_n> OP_n OP_CHECKMULTISIG
//
// Keys are sorted lexicographically so that every participant derives the
// same script regardless of the order it learned the keys in. Signatures for
// this script must appear on the stack in the same key order.
func NofNMultiSigScript(keys []*btcec.PublicKey) ([]byte, error) {
	if len(keys) == 0 {
		return nil, ErrNoPublicKeys
	}
	if len(keys) > txscript.MaxPubKeysPerMultiSig {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPubKeys, len(keys), txscript.MaxPubKeysPerMultiSig)
	}
	sorted, err := SortPublicKeys(keys)
	if err != nil {
		return nil, err
	}

	builder := txscript.NewScriptBuilder()
	builder.AddInt64(int64(len(sorted)))
	for _, k := range sorted {
		builder.AddData(k.SerializeCompressed())
	}
	builder.AddInt64(int64(len(sorted)))
	builder.AddOp(txscript.OP_CHECKMULTISIG)
	return builder.Script()
}

// WitnessScriptHashPkScript returns the P2WSH output script OP_0 <sha256(script)>.
func WitnessScriptHashPkScript(witnessScript []byte) ([]byte, error) {
	scriptHash := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
}

// WitnessScriptHashAddress returns the P2WSH address of a witness script.
func WitnessScriptHashAddress(witnessScript []byte, params *chaincfg.Params) (*btcutil.AddressWitnessScriptHash, error) {
	scriptHash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return nil, fmt.Errorf("failed to create P2WSH address: %w", err)
	}
	return addr, nil
}

// PayToPubKeyScriptAddress returns the P2WSH address of PayToPubKeyScript(pubKey).
func PayToPubKeyScriptAddress(pubKey *btcec.PublicKey, params *chaincfg.Params) (*btcutil.AddressWitnessScriptHash, error) {
	script, err := PayToPubKeyScript(pubKey)
	if err != nil {
		return nil, err
	}
	return WitnessScriptHashAddress(script, params)
}

// SignerKeys returns the public keys a script checks signatures against, in
// script order. A key is a data push consumed directly by OP_CHECKSIG,
// OP_CHECKSIGVERIFY or OP_CHECKSIGADD, or one of the keys of an
// OP_CHECKMULTISIG(VERIFY) group; multisig reports the latter form.
func SignerKeys(script []byte) (keys [][]byte, multisig bool, err error) {
	var (
		lastPush []byte
		group    [][]byte
	)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()

		if op >= txscript.OP_DATA_1 && op <= txscript.OP_PUSHDATA4 {
			data := append([]byte(nil), tokenizer.Data()...)
			lastPush = data
			group = append(group, data)
			continue
		}

		switch op {
		case txscript.OP_CHECKSIG, txscript.OP_CHECKSIGVERIFY, txscript.OP_CHECKSIGADD:
			if lastPush != nil {
				keys = append(keys, lastPush)
			}
		case txscript.OP_CHECKMULTISIG, txscript.OP_CHECKMULTISIGVERIFY:
			// Counts above 16 are data pushes too; keep only key-sized items.
			for _, item := range group {
				if len(item) == btcec.PubKeyBytesLenCompressed ||
					len(item) == secp256k1.PubKeyBytesLenUncompressed {
					keys = append(keys, item)
				}
			}
			multisig = true
		}

		lastPush = nil
		if !txscript.IsSmallInt(op) {
			group = nil
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to parse script: %w", err)
	}

	return keys, multisig, nil
}
