package transactions

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// Encoding of a pre-signed transaction:
//
//	tx            consensus serialization, witnesses included
//	varint n      number of previous outputs, equal to the number of inputs
//	n times       int64 LE value, varbytes pkScript
//	varint m      number of previous scripts, equal to the number of inputs
//	m times       varbytes script (empty for none)
//
// The txid and every signature hash are recomputable from the decoded value
// without access to the chain.

// maxScriptSize bounds a decoded script. Tapscript leaves are only limited by
// the block weight.
const maxScriptSize = wire.MaxBlockPayload

// Serialize writes the transaction and its previous-output metadata to w.
func (p *preSigned) Serialize(w io.Writer) error {
	if len(p.prevOuts) != len(p.tx.TxIn) || len(p.prevScripts) != len(p.tx.TxIn) {
		return fmt.Errorf("%w: %d inputs, %d previous outputs, %d previous scripts",
			ErrMalformedEncoding, len(p.tx.TxIn), len(p.prevOuts), len(p.prevScripts))
	}
	if err := p.tx.Serialize(w); err != nil {
		return fmt.Errorf("failed to serialize transaction: %w", err)
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(p.prevOuts))); err != nil {
		return err
	}
	var value [8]byte
	for i, prevOut := range p.prevOuts {
		if prevOut == nil {
			return fmt.Errorf("%w: input %d", ErrMissingPrevOut, i)
		}
		binary.LittleEndian.PutUint64(value[:], uint64(prevOut.Value))
		if _, err := w.Write(value[:]); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, 0, prevOut.PkScript); err != nil {
			return err
		}
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(p.prevScripts))); err != nil {
		return err
	}
	for _, script := range p.prevScripts {
		if err := wire.WriteVarBytes(w, 0, script); err != nil {
			return err
		}
	}
	return nil
}

// deserialize replaces p with the value read from r.
func (p *preSigned) deserialize(r io.Reader) error {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(r); err != nil {
		return fmt.Errorf("%w: transaction: %v", ErrMalformedEncoding, err)
	}

	count, err := readCount(r, len(tx.TxIn), "previous outputs")
	if err != nil {
		return err
	}
	prevOuts := make([]*wire.TxOut, count)
	var value [8]byte
	for i := range prevOuts {
		if _, err := io.ReadFull(r, value[:]); err != nil {
			return fmt.Errorf("%w: previous output %d value: %v", ErrMalformedEncoding, i, err)
		}
		pkScript, err := wire.ReadVarBytes(r, 0, maxScriptSize, "pkScript")
		if err != nil {
			return fmt.Errorf("%w: previous output %d script: %v", ErrMalformedEncoding, i, err)
		}
		amount := binary.LittleEndian.Uint64(value[:])
		if err := checkAmount(amount); err != nil {
			return fmt.Errorf("%w: previous output %d value: %v", ErrMalformedEncoding, i, err)
		}
		prevOuts[i] = wire.NewTxOut(int64(amount), pkScript)
	}

	count, err = readCount(r, len(tx.TxIn), "previous scripts")
	if err != nil {
		return err
	}
	prevScripts := make([][]byte, count)
	for i := range prevScripts {
		script, err := wire.ReadVarBytes(r, 0, maxScriptSize, "script")
		if err != nil {
			return fmt.Errorf("%w: previous script %d: %v", ErrMalformedEncoding, i, err)
		}
		if len(script) > 0 {
			prevScripts[i] = script
		}
	}

	p.tx = tx
	p.prevOuts = prevOuts
	p.prevScripts = prevScripts
	return nil
}

func readCount(r io.Reader, want int, field string) (int, error) {
	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %s count: %v", ErrMalformedEncoding, field, err)
	}
	if count != uint64(want) {
		return 0, fmt.Errorf("%w: %d %s for %d inputs", ErrMalformedEncoding, count, field, want)
	}
	return want, nil
}

// EncodeHex returns the hex encoding of Serialize.
func (p *preSigned) EncodeHex() (string, error) {
	var buf bytes.Buffer
	if err := p.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// decodeHex replaces p with the value encoded in s. Trailing bytes are
// rejected.
func (p *preSigned) decodeHex(s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEncoding, err)
	}
	r := bytes.NewReader(raw)
	if err := p.deserialize(r); err != nil {
		return err
	}
	if r.Len() != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedEncoding, r.Len())
	}
	return nil
}

// RawTransaction is a pre-signed transaction of any phase, as read back from
// its encoding. It can be signed, combined and finalized like the phase
// value it was encoded from.
//
// Phase types only encode: their connectors are derived from the keys they
// were built with and would not follow a decoded transaction.
type RawTransaction struct {
	preSigned
}

// Deserialize replaces r with the value read from rd.
func (r *RawTransaction) Deserialize(rd io.Reader) error {
	return r.deserialize(rd)
}

// DecodeHex replaces r with the value encoded in s. Trailing bytes are
// rejected.
func (r *RawTransaction) DecodeHex(s string) error {
	return r.decodeHex(s)
}

// DecodeRawTransaction decodes the hex encoding of any phase transaction.
func DecodeRawTransaction(s string) (*RawTransaction, error) {
	raw := &RawTransaction{}
	if err := raw.DecodeHex(s); err != nil {
		return nil, err
	}
	return raw, nil
}

var (
	_ PreSignedTransaction = (*RawTransaction)(nil)
	_ BaseTransaction      = (*RawTransaction)(nil)
)
