package transactions

import (
	"bytes"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingbridge/internal/bridge/connectors"
	"github.com/klingon-exchange/klingbridge/internal/bridge/graphs"
)

func TestKickOff2Outputs(t *testing.T) {
	f := newFixture(t)

	k, err := f.kickOff2ForValidation(t, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2TransactionForValidation: %v", err)
	}
	tx := k.Tx()

	if tx.Version != 2 || tx.LockTime != 0 {
		t.Errorf("version/locktime = %d/%d, want 2/0", tx.Version, tx.LockTime)
	}
	if len(tx.TxIn) != 1 {
		t.Fatalf("inputs = %d, want 1", len(tx.TxIn))
	}
	if tx.TxIn[0].PreviousOutPoint != f.fundingInput.Outpoint {
		t.Errorf("outpoint = %v, want %v", tx.TxIn[0].PreviousOutPoint, f.fundingInput.Outpoint)
	}
	if tx.TxIn[0].Sequence != wire.MaxTxInSequenceNum {
		t.Errorf("sequence = %x, want %x", tx.TxIn[0].Sequence, wire.MaxTxInSequenceNum)
	}

	want := []struct {
		value  int64
		script []byte
	}{
		{1_000, k.Connector3().GenerateScript()},
		{97_000, k.ConnectorB().GenerateScript()},
		{1_000, k.ConnectorA().GenerateScript()},
	}
	if len(tx.TxOut) != len(want) {
		t.Fatalf("outputs = %d, want %d", len(tx.TxOut), len(want))
	}
	var total int64
	for i, w := range want {
		if tx.TxOut[i].Value != w.value {
			t.Errorf("output %d value = %d, want %d", i, tx.TxOut[i].Value, w.value)
		}
		if !bytes.Equal(tx.TxOut[i].PkScript, w.script) {
			t.Errorf("output %d script = %x, want %x", i, tx.TxOut[i].PkScript, w.script)
		}
		total += tx.TxOut[i].Value
	}
	if uint64(total)+graphs.FeeAmount != f.fundingInput.Amount {
		t.Errorf("outputs + fee = %d, want %d", uint64(total)+graphs.FeeAmount, f.fundingInput.Amount)
	}

	if len(k.PrevOuts()) != 1 || k.PrevOuts()[0].Value != int64(f.fundingInput.Amount) {
		t.Fatalf("prevouts = %v", k.PrevOuts())
	}
	if !bytes.Equal(k.PrevOuts()[0].PkScript, k.Connector3().GenerateScript()) {
		t.Errorf("prevout script is not the operator pay-to-pubkey script")
	}
	if !bytes.Equal(k.PrevScripts()[0], k.Connector3().WitnessScript()) {
		t.Errorf("prev script is not the operator witness script")
	}
}

func TestKickOff2Amounts(t *testing.T) {
	f := newFixture(t)
	minimum := graphs.FeeAmount + 3*graphs.DustAmount

	tests := []struct {
		name    string
		amount  uint64
		wantB   int64
		wantErr error
	}{
		{"zero", 0, 0, ErrAmountUnderflow},
		{"below minimum", minimum - 1, 0, ErrAmountUnderflow},
		{"exact minimum", minimum, int64(graphs.DustAmount), nil},
		{"typical", 100_000, 97_000, nil},
		{"above supply", 21_000_000*100_000_000 + 1, 0, ErrAmountOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := f.fundingInput
			input.Amount = tt.amount

			k, err := f.kickOff2ForValidation(t, input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := k.Tx().TxOut[KickOff2OutputConnectorB].Value; got != tt.wantB {
				t.Errorf("connector B amount = %d, want %d", got, tt.wantB)
			}
		})
	}
}

func TestKickOff2Deterministic(t *testing.T) {
	f := newFixture(t)

	a, err := f.kickOff2ForValidation(t, f.fundingInput)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	b, err := NewKickOff2TransactionFromPublic(&f.operatorCtx.OperatorPublic, f.fundingInput)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if a.TxHash() != b.TxHash() {
		t.Errorf("txid differs: %s != %s", a.TxHash(), b.TxHash())
	}
	if !SkeletonEqual(a, b) {
		t.Error("skeletons differ")
	}

	for i, v := range f.verifierCtxs {
		k, err := NewKickOff2TransactionForValidation(
			v.Network, v.OperatorPublicKey, v.OperatorOneTimePublicKey,
			v.OperatorTaprootPublicKey, v.NofN.TaprootPublicKey, f.fundingInput,
		)
		if err != nil {
			t.Fatalf("verifier %d: %v", i, err)
		}
		if !SkeletonEqual(a, k) {
			t.Errorf("verifier %d built a different kick-off", i)
		}
	}
}

func TestKickOff2SignedMatchesValidation(t *testing.T) {
	f := newFixture(t)

	signed, err := NewKickOff2Transaction(f.operatorCtx, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2Transaction: %v", err)
	}
	unsigned, err := f.kickOff2ForValidation(t, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2TransactionForValidation: %v", err)
	}

	if !SkeletonEqual(signed, unsigned) {
		t.Fatal("signed kick-off does not match the validation build")
	}
	if signed.TxHash() != unsigned.TxHash() {
		t.Error("signing changed the txid")
	}
	if err := ValidateInput(signed, 0); err != nil {
		t.Errorf("signed input does not validate: %v", err)
	}
	if err := ValidateInput(unsigned, 0); err == nil {
		t.Error("unsigned input validated")
	}

	witness := signed.Tx().TxIn[0].Witness
	if len(witness) != 2 || !bytes.Equal(witness[1], signed.PrevScripts()[0]) {
		t.Errorf("witness = %x, want <sig> <witness script>", witness)
	}
}

func TestKickOff2SignIdempotent(t *testing.T) {
	f := newFixture(t)

	k, err := NewKickOff2Transaction(f.operatorCtx, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2Transaction: %v", err)
	}
	before := k.Finalize()

	if err := PreSignWitnessScriptHashInput(k, 0, txscript.SigHashAll, f.operator); err != nil {
		t.Fatalf("re-sign: %v", err)
	}
	after := k.Tx().TxIn[0].Witness
	if len(after) != len(before.TxIn[0].Witness) {
		t.Fatalf("witness length changed: %d -> %d", len(before.TxIn[0].Witness), len(after))
	}
	for i := range after {
		if !bytes.Equal(after[i], before.TxIn[0].Witness[i]) {
			t.Errorf("witness item %d changed after re-signing", i)
		}
	}
}

func TestKickOff2MalformedKeys(t *testing.T) {
	f := newFixture(t)
	v := f.verifierCtxs[0]

	tests := []struct {
		name string
		ots  []byte
	}{
		{"empty one-time key", nil},
		{"oversized one-time key", make([]byte, connectors.MaxOneTimePublicKeySize+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewKickOff2TransactionForValidation(
				v.Network, v.OperatorPublicKey, tt.ots,
				v.OperatorTaprootPublicKey, v.NofN.TaprootPublicKey, f.fundingInput,
			)
			if !errors.Is(err, connectors.ErrMalformedConnectorInput) {
				t.Fatalf("error = %v, want %v", err, connectors.ErrMalformedConnectorInput)
			}
		})
	}

	_, err := NewKickOff2TransactionForValidation(
		v.Network, nil, v.OperatorOneTimePublicKey,
		v.OperatorTaprootPublicKey, v.NofN.TaprootPublicKey, f.fundingInput,
	)
	if !errors.Is(err, connectors.ErrMalformedConnectorInput) {
		t.Fatalf("nil operator key: error = %v", err)
	}
}

func TestFinalizeReturnsCopy(t *testing.T) {
	f := newFixture(t)

	k, err := NewKickOff2Transaction(f.operatorCtx, f.fundingInput)
	if err != nil {
		t.Fatalf("NewKickOff2Transaction: %v", err)
	}
	final := k.Finalize()
	final.TxOut[0].Value = 1
	final.TxIn[0].Witness = nil

	if k.Tx().TxOut[0].Value != int64(graphs.DustAmount) {
		t.Error("Finalize shares outputs with the transaction")
	}
	if len(k.Tx().TxIn[0].Witness) == 0 {
		t.Error("Finalize shares inputs with the transaction")
	}
}
