package transactions

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingbridge/internal/bridge/connectors"
	"github.com/klingon-exchange/klingbridge/internal/bridge/graphs"
)

// spendOf builds a one-input, one-output transaction spending pkScript.
func spendOf(t *testing.T, pkScript []byte, prevScript []byte, sequence uint32) *RawTransaction {
	t.Helper()

	input, err := NewInput("0101010101010101010101010101010101010101010101010101010101010101:3", 50_000)
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	tx := wire.NewMsgTx(2)
	txIn := wire.NewTxIn(&input.Outpoint, nil, nil)
	txIn.Sequence = sequence
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(int64(input.Amount-graphs.FeeAmount), pkScript))

	return &RawTransaction{preSigned{
		tx:          tx,
		prevOuts:    []*wire.TxOut{wire.NewTxOut(int64(input.Amount), pkScript)},
		prevScripts: [][]byte{prevScript},
	}}
}

func TestSignInputPreconditions(t *testing.T) {
	f := newFixture(t)

	k, err := f.kickOff2ForValidation(t, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2TransactionForValidation: %v", err)
	}
	unlock := k.Connector3().Unlock()
	other, err := connectors.NewConnector3(testNetwork, f.verifiers[0].PubKey())
	if err != nil {
		t.Fatalf("NewConnector3: %v", err)
	}

	tests := []struct {
		name    string
		index   int
		path    *connectors.SpendPath
		keys    []*btcec.PrivateKey
		wantErr error
	}{
		{"index too large", 1, unlock, []*btcec.PrivateKey{f.operator}, ErrInputIndexOutOfRange},
		{"negative index", -1, unlock, []*btcec.PrivateKey{f.operator}, ErrInputIndexOutOfRange},
		{"no keys", 0, unlock, nil, ErrNoSigningKeys},
		{"nil key", 0, unlock, []*btcec.PrivateKey{nil}, ErrNoSigningKeys},
		{"foreign key", 0, unlock, []*btcec.PrivateKey{f.verifiers[0]}, ErrKeyMismatch},
		{"wrong witness script", 0, other.Unlock(), []*btcec.PrivateKey{f.verifiers[0]}, ErrPrevOutMismatch},
		{"key path on p2wsh", 0, &connectors.SpendPath{Kind: connectors.SpendTaprootKeyPath}, []*btcec.PrivateKey{f.operator}, ErrPrevOutMismatch},
		{"unknown kind", 0, &connectors.SpendPath{Kind: connectors.SpendKind(42)}, []*btcec.PrivateKey{f.operator}, ErrUnsupportedSpendKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SignInput(k, tt.index, tt.path, txscript.SigHashAll, tt.keys...)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if len(k.Tx().TxIn[0].Witness) != 0 {
				t.Fatal("failed signing modified the witness")
			}
		})
	}
}

func TestSignInputMissingPrevOut(t *testing.T) {
	f := newFixture(t)

	k, err := f.kickOff2ForValidation(t, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2TransactionForValidation: %v", err)
	}
	k.prevOuts = nil

	err = SignInput(k, 0, k.Connector3().Unlock(), txscript.SigHashAll, f.operator)
	if !errors.Is(err, ErrMissingPrevOut) {
		t.Fatalf("error = %v, want %v", err, ErrMissingPrevOut)
	}
}

func TestTaprootKeyPathSpend(t *testing.T) {
	key := testKey(20)
	connector, err := connectors.NewTaprootKeyConnector(testNetwork, key.PubKey())
	if err != nil {
		t.Fatalf("NewTaprootKeyConnector: %v", err)
	}
	spend := spendOf(t, connector.GenerateScript(), nil, wire.MaxTxInSequenceNum)

	if err := PreSignTaprootKeyPathInput(spend, 0, nil, txscript.SigHashDefault, testKey(21)); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("foreign key: error = %v, want %v", err, ErrKeyMismatch)
	}
	if err := PreSignTaprootKeyPathInput(spend, 0, nil, txscript.SigHashDefault, key); err != nil {
		t.Fatalf("PreSignTaprootKeyPathInput: %v", err)
	}
	if got := len(spend.Tx().TxIn[0].Witness); got != 1 {
		t.Fatalf("witness items = %d, want 1", got)
	}
	if got := len(spend.Tx().TxIn[0].Witness[0]); got != 64 {
		t.Errorf("default sighash signature is %d bytes, want 64", got)
	}
	if err := ValidateInput(spend, 0); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
}

func TestTaprootKeyPathSpendWithScriptTree(t *testing.T) {
	key := testKey(22)
	connector, err := connectors.NewConnectorA(testNetwork, testKey(23).PubKey(), key.PubKey())
	if err != nil {
		t.Fatalf("NewConnectorA: %v", err)
	}
	spend := spendOf(t, connector.GenerateScript(), nil, wire.MaxTxInSequenceNum)

	if err := SignInput(spend, 0, connector.KeyPath(), txscript.SigHashAll, key); err != nil {
		t.Fatalf("SignInput: %v", err)
	}
	if got := len(spend.Tx().TxIn[0].Witness[0]); got != 65 {
		t.Errorf("SIGHASH_ALL signature is %d bytes, want 65", got)
	}
	if err := ValidateInput(spend, 0); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
}

func TestLegacySpend(t *testing.T) {
	key := testKey(24)
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), &chaincfg.TestNet3Params)
	if err != nil {
		t.Fatalf("NewAddressPubKeyHash: %v", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		t.Fatalf("PayToAddrScript: %v", err)
	}
	spend := spendOf(t, pkScript, pkScript, wire.MaxTxInSequenceNum)

	if err := PreSignLegacyInput(spend, 0, txscript.SigHashAll, testKey(25)); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("foreign key: error = %v, want %v", err, ErrKeyMismatch)
	}
	if err := PreSignLegacyInput(spend, 0, txscript.SigHashAll, key); err != nil {
		t.Fatalf("PreSignLegacyInput: %v", err)
	}
	if len(spend.Tx().TxIn[0].SignatureScript) == 0 {
		t.Fatal("signature script not set")
	}
	if err := ValidateInput(spend, 0); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
}

func TestConnectorBCommitmentSpend(t *testing.T) {
	signer := testKey(26)
	revealed := []byte("operator one-time public key")
	connector, err := connectors.NewConnectorB(testNetwork, signer.PubKey(), revealed)
	if err != nil {
		t.Fatalf("NewConnectorB: %v", err)
	}
	path, err := connector.CommitmentPath(revealed)
	if err != nil {
		t.Fatalf("CommitmentPath: %v", err)
	}
	spend := spendOf(t, connector.GenerateScript(), path.Script, wire.MaxTxInSequenceNum)

	if err := SignInput(spend, 0, path, txscript.SigHashDefault, signer); err != nil {
		t.Fatalf("SignInput: %v", err)
	}
	witness := spend.Tx().TxIn[0].Witness
	if len(witness) != 4 {
		t.Fatalf("witness items = %d, want <sig> <revealed> <script> <control block>", len(witness))
	}
	if string(witness[1]) != string(revealed) {
		t.Errorf("revealed item = %x, want %x", witness[1], revealed)
	}
	if err := ValidateInput(spend, 0); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
}

func TestConnectorBTimeoutSpend(t *testing.T) {
	signer := testKey(27)
	connector, err := connectors.NewConnectorB(testNetwork, signer.PubKey(), []byte{0x01})
	if err != nil {
		t.Fatalf("NewConnectorB: %v", err)
	}
	path, err := connector.Leaf(connectors.ConnectorBLeafTimeout)
	if err != nil {
		t.Fatalf("Leaf: %v", err)
	}

	early := spendOf(t, connector.GenerateScript(), path.Script, connector.Timelock()-1)
	if err := SignInput(early, 0, path, txscript.SigHashDefault, signer); err != nil {
		t.Fatalf("SignInput: %v", err)
	}
	if err := ValidateInput(early, 0); err == nil {
		t.Error("timeout leaf spent before the timelock")
	}

	mature := spendOf(t, connector.GenerateScript(), path.Script, connector.Timelock())
	if err := SignInput(mature, 0, path, txscript.SigHashDefault, signer); err != nil {
		t.Fatalf("SignInput: %v", err)
	}
	if err := ValidateInput(mature, 0); err != nil {
		t.Fatalf("ValidateInput: %v", err)
	}
}

func TestTaprootScriptPathWrongLeaf(t *testing.T) {
	signer := testKey(28)
	a, err := connectors.NewConnectorA(testNetwork, testKey(29).PubKey(), signer.PubKey())
	if err != nil {
		t.Fatalf("NewConnectorA: %v", err)
	}
	b, err := connectors.NewConnectorB(testNetwork, signer.PubKey(), []byte{0x02})
	if err != nil {
		t.Fatalf("NewConnectorB: %v", err)
	}
	foreign, err := b.Leaf(connectors.ConnectorBLeafTimeout)
	if err != nil {
		t.Fatalf("Leaf: %v", err)
	}
	spend := spendOf(t, a.GenerateScript(), foreign.Script, wire.MaxTxInSequenceNum)

	err = SignInput(spend, 0, foreign, txscript.SigHashDefault, signer)
	if !errors.Is(err, ErrPrevOutMismatch) {
		t.Fatalf("error = %v, want %v", err, ErrPrevOutMismatch)
	}
}

func TestTake1FromKickOff2(t *testing.T) {
	f := newFixture(t)

	kickOff, err := NewKickOff2Transaction(f.operatorCtx, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2Transaction: %v", err)
	}
	take, err := NewTake1TransactionFromKickOff2(f.operatorCtx, kickOff)
	if err != nil {
		t.Fatalf("NewTake1TransactionFromKickOff2: %v", err)
	}

	tx := take.Tx()
	if len(tx.TxIn) != 2 || len(tx.TxOut) != 1 {
		t.Fatalf("take has %d inputs and %d outputs, want 2 and 1", len(tx.TxIn), len(tx.TxOut))
	}
	if tx.TxIn[Take1InputConnector3].PreviousOutPoint.Hash != kickOff.TxHash() ||
		tx.TxIn[Take1InputConnector3].PreviousOutPoint.Index != KickOff2OutputConnector3 ||
		tx.TxIn[Take1InputConnectorA].PreviousOutPoint.Index != KickOff2OutputConnectorA {
		t.Error("take does not spend kick-off outputs 0 and 2")
	}
	if got, want := tx.TxOut[0].Value, int64(2*graphs.DustAmount-graphs.FeeAmount); got != want {
		t.Errorf("take amount = %d, want %d", got, want)
	}
	for i := range tx.TxIn {
		if err := ValidateInput(take, i); err != nil {
			t.Errorf("input %d: %v", i, err)
		}
	}

	v := f.verifierCtxs[1]
	connector3Input, _ := kickOff.OutputInput(KickOff2OutputConnector3)
	connectorAInput, _ := kickOff.OutputInput(KickOff2OutputConnectorA)
	unsigned, err := NewTake1TransactionForValidation(
		v.Network, v.OperatorPublicKey, v.OperatorTaprootPublicKey, v.NofN.TaprootPublicKey,
		connector3Input, connectorAInput,
	)
	if err != nil {
		t.Fatalf("NewTake1TransactionForValidation: %v", err)
	}
	if !SkeletonEqual(take, unsigned) {
		t.Error("verifier built a different take")
	}
}

func TestTake1FromRawChecksKickOffScripts(t *testing.T) {
	f := newFixture(t)

	kickOff, err := NewKickOff2Transaction(f.operatorCtx, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2Transaction: %v", err)
	}
	encoded, err := kickOff.EncodeHex()
	if err != nil {
		t.Fatalf("EncodeHex: %v", err)
	}
	decoded, err := DecodeRawTransaction(encoded)
	if err != nil {
		t.Fatalf("DecodeRawTransaction: %v", err)
	}
	take, err := NewTake1TransactionFromRaw(f.operatorCtx, decoded)
	if err != nil {
		t.Fatalf("NewTake1TransactionFromRaw: %v", err)
	}
	for i := range take.Tx().TxIn {
		if err := ValidateInput(take, i); err != nil {
			t.Errorf("input %d: %v", i, err)
		}
	}

	// forged copies the kick-off with its outputs paying to pkScripts.
	forged := func(pkScripts ...[]byte) *RawTransaction {
		tx := kickOff.Finalize()
		tx.TxOut = nil
		for _, pkScript := range pkScripts {
			tx.AddTxOut(wire.NewTxOut(int64(graphs.DustAmount), pkScript))
		}
		return &RawTransaction{preSigned{tx: tx, prevOuts: kickOff.PrevOuts(), prevScripts: kickOff.PrevScripts()}}
	}
	anyoneCanSpend := []byte{txscript.OP_TRUE}
	connector3 := kickOff.Connector3().GenerateScript()
	connectorB := kickOff.ConnectorB().GenerateScript()
	connectorA := kickOff.ConnectorA().GenerateScript()

	tests := []struct {
		name    string
		kickOff *RawTransaction
		wantErr error
	}{
		{"anyone-can-spend outputs", forged(anyoneCanSpend, anyoneCanSpend, anyoneCanSpend), ErrPrevOutMismatch},
		{"connector 3 replaced", forged(anyoneCanSpend, connectorB, connectorA), ErrPrevOutMismatch},
		{"connector A replaced", forged(connector3, connectorB, anyoneCanSpend), ErrPrevOutMismatch},
		{"outputs swapped", forged(connectorA, connectorB, connector3), ErrPrevOutMismatch},
		{"too few outputs", forged(connector3, connectorB), ErrInvalidOutpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTake1TransactionFromRaw(f.operatorCtx, tt.kickOff); !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTake1Underflow(t *testing.T) {
	f := newFixture(t)
	v := f.verifierCtxs[0]

	small := f.fundingInput
	small.Amount = graphs.DustAmount / 2
	_, err := NewTake1TransactionForValidation(
		v.Network, v.OperatorPublicKey, v.OperatorTaprootPublicKey, v.NofN.TaprootPublicKey,
		small, small,
	)
	if !errors.Is(err, ErrAmountUnderflow) {
		t.Fatalf("error = %v, want %v", err, ErrAmountUnderflow)
	}
}

func TestOutputInputOutOfRange(t *testing.T) {
	f := newFixture(t)

	k, err := f.kickOff2ForValidation(t, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2TransactionForValidation: %v", err)
	}
	if _, err := k.OutputInput(3); !errors.Is(err, ErrInvalidOutpoint) {
		t.Fatalf("error = %v, want %v", err, ErrInvalidOutpoint)
	}
	input, err := k.OutputInput(KickOff2OutputConnectorB)
	if err != nil {
		t.Fatalf("OutputInput: %v", err)
	}
	if input.Amount != 97_000 || input.Outpoint.Hash != k.TxHash() {
		t.Errorf("OutputInput = %v", input)
	}
}
