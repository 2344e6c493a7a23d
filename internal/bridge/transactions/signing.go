package transactions

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingbridge/internal/bridge/connectors"
	"github.com/klingon-exchange/klingbridge/internal/bridge/scripts"
)

// SignInput signs input index of t along path with every key given and
// writes the signatures into the key's slot of the witness. Signatures
// already present in other slots are kept, so participants may sign in any
// order and on separate copies that are later merged with Combine.
//
// Every key must be one the path checks signatures against; a key path spend
// takes exactly one key, the untweaked internal key.
func SignInput(
	t PreSignedTransaction,
	index int,
	path *connectors.SpendPath,
	hashType txscript.SigHashType,
	keys ...*btcec.PrivateKey,
) error {
	if len(keys) == 0 {
		return ErrNoSigningKeys
	}
	for _, key := range keys {
		if key == nil {
			return ErrNoSigningKeys
		}
	}
	tx := t.Tx()
	prevOuts, fetcher, err := signingInput(t, index, path)
	if err != nil {
		return err
	}

	switch path.Kind {
	case connectors.SpendLegacy:
		err = signLegacy(tx, index, prevOuts[index], path, hashType, keys)
	case connectors.SpendWitnessScriptHash:
		err = signWitnessScriptHash(tx, index, prevOuts[index], fetcher, path, hashType, keys)
	case connectors.SpendTaprootKeyPath:
		err = signTaprootKeyPath(tx, index, prevOuts[index], fetcher, path, hashType, keys)
	case connectors.SpendTaprootScriptPath:
		err = signTaprootScriptPath(tx, index, prevOuts[index], fetcher, path, hashType, keys)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedSpendKind, path.Kind)
	}
	if err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}

	log.Debug("Signed input", "txid", tx.TxHash(), "input", index, "kind", path.Kind, "keys", len(keys))
	return nil
}

// PreSignWitnessScriptHashInput signs a P2WSH input against the witness
// script recorded in PrevScripts.
func PreSignWitnessScriptHashInput(
	t PreSignedTransaction,
	index int,
	hashType txscript.SigHashType,
	keys ...*btcec.PrivateKey,
) error {
	script, err := prevScript(t, index)
	if err != nil {
		return err
	}
	path := &connectors.SpendPath{Kind: connectors.SpendWitnessScriptHash, Script: script}
	return SignInput(t, index, path, hashType, keys...)
}

// PreSignTaprootKeyPathInput signs a P2TR key path input. merkleRoot is the
// script tree root of the output, nil for key-only outputs.
func PreSignTaprootKeyPathInput(
	t PreSignedTransaction,
	index int,
	merkleRoot []byte,
	hashType txscript.SigHashType,
	key *btcec.PrivateKey,
) error {
	path := &connectors.SpendPath{Kind: connectors.SpendTaprootKeyPath, MerkleRoot: merkleRoot}
	return SignInput(t, index, path, hashType, key)
}

// PreSignLegacyInput signs a P2PKH input.
func PreSignLegacyInput(
	t PreSignedTransaction,
	index int,
	hashType txscript.SigHashType,
	key *btcec.PrivateKey,
) error {
	if index < 0 || index >= len(t.PrevOuts()) || t.PrevOuts()[index] == nil {
		return fmt.Errorf("%w: input %d", ErrMissingPrevOut, index)
	}
	path := &connectors.SpendPath{Kind: connectors.SpendLegacy, Script: t.PrevOuts()[index].PkScript}
	return SignInput(t, index, path, hashType, key)
}

func prevScript(t PreSignedTransaction, index int) ([]byte, error) {
	prevScripts := t.PrevScripts()
	if index < 0 || index >= len(prevScripts) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrInputIndexOutOfRange, index, len(prevScripts))
	}
	if len(prevScripts[index]) == 0 {
		return nil, fmt.Errorf("%w: input %d has no previous script", ErrMissingPrevOut, index)
	}
	return prevScripts[index], nil
}

func prevOutFetcher(tx *wire.MsgTx, prevOuts []*wire.TxOut) (*txscript.MultiPrevOutFetcher, error) {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range tx.TxIn {
		if prevOuts[i] == nil {
			return nil, fmt.Errorf("%w: input %d", ErrMissingPrevOut, i)
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOuts[i])
	}
	return fetcher, nil
}

// signingInput checks that input index of t can be signed along path and
// returns the previous outputs with a fetcher over them.
func signingInput(
	t PreSignedTransaction,
	index int,
	path *connectors.SpendPath,
) ([]*wire.TxOut, *txscript.MultiPrevOutFetcher, error) {
	tx := t.Tx()
	if index < 0 || index >= len(tx.TxIn) {
		return nil, nil, fmt.Errorf("%w: %d (have %d)", ErrInputIndexOutOfRange, index, len(tx.TxIn))
	}
	prevOuts := t.PrevOuts()
	if len(prevOuts) != len(tx.TxIn) || prevOuts[index] == nil {
		return nil, nil, fmt.Errorf("%w: input %d", ErrMissingPrevOut, index)
	}
	if path == nil {
		return nil, nil, fmt.Errorf("%w: input %d: no spend path", ErrPrevOutMismatch, index)
	}
	fetcher, err := prevOutFetcher(tx, prevOuts)
	if err != nil {
		return nil, nil, err
	}
	return prevOuts, fetcher, nil
}

func signLegacy(
	tx *wire.MsgTx,
	index int,
	prevOut *wire.TxOut,
	path *connectors.SpendPath,
	hashType txscript.SigHashType,
	keys []*btcec.PrivateKey,
) error {
	if len(path.Script) > 0 && !bytes.Equal(path.Script, prevOut.PkScript) {
		return ErrPrevOutMismatch
	}
	if txscript.GetScriptClass(prevOut.PkScript) != txscript.PubKeyHashTy {
		return fmt.Errorf("%w: previous output is not P2PKH", ErrPrevOutMismatch)
	}
	if len(keys) != 1 {
		return fmt.Errorf("%w: legacy spend takes one key, got %d", ErrKeyMismatch, len(keys))
	}

	pubKey := keys[0].PubKey().SerializeCompressed()
	// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG
	if !bytes.Equal(prevOut.PkScript[3:23], btcutil.Hash160(pubKey)) {
		return ErrKeyMismatch
	}

	sig, err := txscript.RawTxInSignature(tx, index, prevOut.PkScript, hashType, keys[0])
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	sigScript, err := txscript.NewScriptBuilder().AddData(sig).AddData(pubKey).Script()
	if err != nil {
		return err
	}
	tx.TxIn[index].SignatureScript = sigScript
	return nil
}

func signWitnessScriptHash(
	tx *wire.MsgTx,
	index int,
	prevOut *wire.TxOut,
	fetcher txscript.PrevOutputFetcher,
	path *connectors.SpendPath,
	hashType txscript.SigHashType,
	keys []*btcec.PrivateKey,
) error {
	pkScript, err := scripts.WitnessScriptHashPkScript(path.Script)
	if err != nil {
		return err
	}
	if !bytes.Equal(pkScript, prevOut.PkScript) {
		return fmt.Errorf("%w: witness script does not hash to the previous output", ErrPrevOutMismatch)
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	signed := make([]slotSignature, 0, len(keys))
	for _, key := range keys {
		sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, index, prevOut.Value, path.Script, hashType, key)
		if err != nil {
			return fmt.Errorf("failed to sign: %w", err)
		}
		signed = append(signed, slotSignature{scriptKey: key.PubKey().SerializeCompressed(), sig: sig})
	}
	return fillSlots(tx.TxIn[index], path, signed)
}

func signTaprootKeyPath(
	tx *wire.MsgTx,
	index int,
	prevOut *wire.TxOut,
	fetcher txscript.PrevOutputFetcher,
	path *connectors.SpendPath,
	hashType txscript.SigHashType,
	keys []*btcec.PrivateKey,
) error {
	if len(keys) != 1 {
		return fmt.Errorf("%w: key path spend takes one key, got %d", ErrKeyMismatch, len(keys))
	}
	if err := checkTaprootKeyPath(prevOut, keys[0].PubKey(), path.MerkleRoot); err != nil {
		return err
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sig, err := txscript.RawTxInTaprootSignature(
		tx, sigHashes, index, prevOut.Value, prevOut.PkScript, path.MerkleRoot, hashType, keys[0],
	)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}
	tx.TxIn[index].Witness = wire.TxWitness{sig}
	return nil
}

func signTaprootScriptPath(
	tx *wire.MsgTx,
	index int,
	prevOut *wire.TxOut,
	fetcher txscript.PrevOutputFetcher,
	path *connectors.SpendPath,
	hashType txscript.SigHashType,
	keys []*btcec.PrivateKey,
) error {
	if err := checkTaprootScriptPath(prevOut, path); err != nil {
		return err
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	leaf := txscript.NewBaseTapLeaf(path.Script)
	signed := make([]slotSignature, 0, len(keys))
	for _, key := range keys {
		sig, err := txscript.RawTxInTapscriptSignature(
			tx, sigHashes, index, prevOut.Value, prevOut.PkScript, leaf, hashType, key,
		)
		if err != nil {
			return fmt.Errorf("failed to sign: %w", err)
		}
		signed = append(signed, slotSignature{scriptKey: schnorr.SerializePubKey(key.PubKey()), sig: sig})
	}
	return fillSlots(tx.TxIn[index], path, signed)
}

// checkTaprootKeyPath checks that internalKey tweaked by merkleRoot is the
// output key of prevOut.
func checkTaprootKeyPath(prevOut *wire.TxOut, internalKey *btcec.PublicKey, merkleRoot []byte) error {
	if !txscript.IsPayToTaproot(prevOut.PkScript) {
		return fmt.Errorf("%w: previous output is not P2TR", ErrPrevOutMismatch)
	}
	outputKey := txscript.ComputeTaprootOutputKey(internalKey, merkleRoot)
	if !bytes.Equal(schnorr.SerializePubKey(outputKey), prevOut.PkScript[2:]) {
		return ErrKeyMismatch
	}
	return nil
}

// checkTaprootScriptPath checks that the leaf of path is committed to by the
// output key of prevOut.
func checkTaprootScriptPath(prevOut *wire.TxOut, path *connectors.SpendPath) error {
	if !txscript.IsPayToTaproot(prevOut.PkScript) {
		return fmt.Errorf("%w: previous output is not P2TR", ErrPrevOutMismatch)
	}
	ctrlBlock, err := txscript.ParseControlBlock(path.ControlBlock)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPrevOutMismatch, err)
	}
	if err := txscript.VerifyTaprootLeafCommitment(ctrlBlock, prevOut.PkScript[2:], path.Script); err != nil {
		return fmt.Errorf("%w: leaf is not committed to by the output: %v", ErrPrevOutMismatch, err)
	}
	return nil
}

// slotSignature is a signature and the key, as serialized in the script,
// that it was made with.
type slotSignature struct {
	scriptKey []byte
	sig       []byte
}

// fillSlots places each signature in the slot of its script key. Slots not
// named in signed keep what the witness already holds.
func fillSlots(txIn *wire.TxIn, path *connectors.SpendPath, signed []slotSignature) error {
	signers, _, err := path.SignerKeys()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPrevOutMismatch, err)
	}
	sigs, extra, err := path.DecodeWitness(txIn.Witness)
	if err != nil {
		return err
	}

	for _, s := range signed {
		slot := -1
		for i, signer := range signers {
			if bytes.Equal(signer, s.scriptKey) {
				slot = i
				break
			}
		}
		if slot < 0 {
			return fmt.Errorf("%w: %x", ErrKeyMismatch, s.scriptKey)
		}
		sigs[slot] = s.sig
	}

	recipe := *path
	if len(recipe.Extra) == 0 {
		recipe.Extra = extra
	}
	witness, err := recipe.Witness(sigs)
	if err != nil {
		return err
	}
	txIn.Witness = witness
	return nil
}

// ValidateInput runs the script interpreter on input index with standard
// verification flags. It fails until every signature the spend path needs is
// present.
func ValidateInput(t PreSignedTransaction, index int) error {
	tx := t.Tx()
	if index < 0 || index >= len(tx.TxIn) {
		return fmt.Errorf("%w: %d (have %d)", ErrInputIndexOutOfRange, index, len(tx.TxIn))
	}
	prevOuts := t.PrevOuts()
	if len(prevOuts) != len(tx.TxIn) {
		return fmt.Errorf("%w: input %d", ErrMissingPrevOut, index)
	}
	fetcher, err := prevOutFetcher(tx, prevOuts)
	if err != nil {
		return err
	}

	vm, err := txscript.NewEngine(
		prevOuts[index].PkScript, tx, index, txscript.StandardVerifyFlags,
		nil, txscript.NewTxSigHashes(tx, fetcher), prevOuts[index].Value, fetcher,
	)
	if err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}
	if err := vm.Execute(); err != nil {
		return fmt.Errorf("input %d: %w", index, err)
	}
	return nil
}
