// Package transactions builds the pre-signed transactions of the bridge graph.
//
// Every phase follows the same two steps. A ...ForValidation constructor is a
// pure function of public keys and the coin being spent: any participant can
// run it and must arrive at the same unsigned transaction. The signing
// constructor runs the same function and then adds the caller's signatures on
// the inputs its role is responsible for. Signatures from several
// participants are merged with Combine.
package transactions

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// PreSignedTransaction is the view of a phase transaction used by the
// signing helper. PrevOuts and PrevScripts are not broadcast; they carry
// what is needed to recompute signature hashes without querying the chain.
// PrevOuts()[i] is the output spent by Tx().TxIn[i]; PrevScripts()[i] is the
// script signed against for that input (witness script for P2WSH, leaf script
// for Taproot script paths, nil for key path spends).
type PreSignedTransaction interface {
	Tx() *wire.MsgTx
	PrevOuts() []*wire.TxOut
	PrevScripts() [][]byte
}

// BaseTransaction is implemented by every phase transaction.
type BaseTransaction interface {
	// Finalize returns a copy of the transaction as it stands. It does not
	// check that all required signatures are present.
	Finalize() *wire.MsgTx
}

// preSigned holds the state shared by all phase transactions. Each phase
// owns its preSigned exclusively.
type preSigned struct {
	tx          *wire.MsgTx
	prevOuts    []*wire.TxOut
	prevScripts [][]byte
}

// Tx returns the transaction being signed.
func (p *preSigned) Tx() *wire.MsgTx {
	return p.tx
}

// PrevOuts returns the outputs spent by the transaction inputs, by index.
func (p *preSigned) PrevOuts() []*wire.TxOut {
	return p.prevOuts
}

// PrevScripts returns the scripts signed against, by input index.
func (p *preSigned) PrevScripts() [][]byte {
	return p.prevScripts
}

// Finalize returns a deep copy of the transaction ready for broadcast.
func (p *preSigned) Finalize() *wire.MsgTx {
	return p.tx.Copy()
}

// TxHash returns the txid. It does not change as witnesses are added.
func (p *preSigned) TxHash() chainhash.Hash {
	return p.tx.TxHash()
}

// OutputInput returns the Input spending output vout of this transaction, so
// that the next phase can be built before this one confirms.
func (p *preSigned) OutputInput(vout uint32) (Input, error) {
	if int(vout) >= len(p.tx.TxOut) {
		return Input{}, fmt.Errorf("%w: output %d of %d", ErrInvalidOutpoint, vout, len(p.tx.TxOut))
	}
	return Input{
		Outpoint: wire.OutPoint{Hash: p.tx.TxHash(), Index: vout},
		Amount:   uint64(p.tx.TxOut[vout].Value),
	}, nil
}

// Skeleton returns a copy of the transaction with all signature material
// (witnesses and signature scripts) removed.
func Skeleton(t PreSignedTransaction) *wire.MsgTx {
	skeleton := t.Tx().Copy()
	for _, txIn := range skeleton.TxIn {
		txIn.SignatureScript = nil
		txIn.Witness = nil
	}
	return skeleton
}

// SkeletonEqual reports whether two phase transactions describe the same
// unsigned transaction and the same previous-output metadata. Signatures are
// ignored, so independently signed copies compare equal.
func SkeletonEqual(a, b PreSignedTransaction) bool {
	var bufA, bufB bytes.Buffer
	if err := Skeleton(a).SerializeNoWitness(&bufA); err != nil {
		return false
	}
	if err := Skeleton(b).SerializeNoWitness(&bufB); err != nil {
		return false
	}
	if !bytes.Equal(bufA.Bytes(), bufB.Bytes()) {
		return false
	}

	prevOutsA, prevOutsB := a.PrevOuts(), b.PrevOuts()
	if len(prevOutsA) != len(prevOutsB) {
		return false
	}
	for i := range prevOutsA {
		if prevOutsA[i] == nil || prevOutsB[i] == nil {
			if prevOutsA[i] != prevOutsB[i] {
				return false
			}
			continue
		}
		if prevOutsA[i].Value != prevOutsB[i].Value ||
			!bytes.Equal(prevOutsA[i].PkScript, prevOutsB[i].PkScript) {
			return false
		}
	}

	scriptsA, scriptsB := a.PrevScripts(), b.PrevScripts()
	if len(scriptsA) != len(scriptsB) {
		return false
	}
	for i := range scriptsA {
		if !bytes.Equal(scriptsA[i], scriptsB[i]) {
			return false
		}
	}

	return true
}

// Combine merges the signatures of src into dst. Both must describe the same
// unsigned transaction. Witness slots empty in dst are filled from src, so
// contributions can be merged in any order.
func Combine(dst, src PreSignedTransaction) error {
	if !SkeletonEqual(dst, src) {
		return ErrSkeletonMismatch
	}

	dstTx, srcTx := dst.Tx(), src.Tx()
	for i, dstIn := range dstTx.TxIn {
		srcIn := srcTx.TxIn[i]

		witness, err := mergeWitness(dstIn.Witness, srcIn.Witness)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		dstIn.Witness = witness

		switch {
		case len(srcIn.SignatureScript) == 0:
		case len(dstIn.SignatureScript) == 0:
			dstIn.SignatureScript = append([]byte(nil), srcIn.SignatureScript...)
		case !bytes.Equal(dstIn.SignatureScript, srcIn.SignatureScript):
			return fmt.Errorf("input %d: %w: signature scripts differ", i, ErrWitnessConflict)
		}
	}

	log.Debug("Combined signatures", "txid", dstTx.TxHash())
	return nil
}

// mergeWitness fills empty items of dst from src. Witnesses of different
// lengths can only be merged when one side is empty.
func mergeWitness(dst, src wire.TxWitness) (wire.TxWitness, error) {
	if len(src) == 0 {
		return dst, nil
	}
	if len(dst) == 0 {
		return copyWitness(src), nil
	}
	if len(dst) != len(src) {
		return nil, fmt.Errorf("%w: witness has %d items, other has %d", ErrWitnessConflict, len(dst), len(src))
	}

	merged := copyWitness(dst)
	for i := range merged {
		switch {
		case len(src[i]) == 0:
		case len(merged[i]) == 0:
			merged[i] = append([]byte(nil), src[i]...)
		case !bytes.Equal(merged[i], src[i]):
			// Non-deterministic signers may produce different valid
			// signatures for the same slot; keep the one already present.
			log.Debug("Keeping existing witness item", "item", i)
		}
	}
	return merged, nil
}

func copyWitness(w wire.TxWitness) wire.TxWitness {
	out := make(wire.TxWitness, len(w))
	for i, item := range w {
		out[i] = append([]byte{}, item...)
	}
	return out
}
