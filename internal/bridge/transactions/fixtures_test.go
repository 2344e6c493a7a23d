package transactions

import (
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/klingon-exchange/klingbridge/internal/bridge/contexts"
	"github.com/klingon-exchange/klingbridge/internal/chain"
)

const testNetwork = chain.Testnet

// testKey derives a fixed private key from a seed byte.
func testKey(seed byte) *btcec.PrivateKey {
	digest := sha256.Sum256([]byte{'k', 'e', 'y', seed})
	key, _ := btcec.PrivKeyFromBytes(digest[:])
	return key
}

type fixture struct {
	operator     *btcec.PrivateKey
	verifiers    []*btcec.PrivateKey
	verifierKeys []*btcec.PublicKey
	oneTimeKey   []byte
	operatorCtx  *contexts.OperatorContext
	verifierCtxs []*contexts.VerifierContext
	fundingInput Input
	depositInput Input
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		operator:   testKey(1),
		oneTimeKey: testKey(9).PubKey().SerializeCompressed(),
	}
	for seed := byte(2); seed <= 4; seed++ {
		key := testKey(seed)
		f.verifiers = append(f.verifiers, key)
		f.verifierKeys = append(f.verifierKeys, key.PubKey())
	}

	var err error
	f.operatorCtx, err = contexts.NewOperatorContext(testNetwork, f.operator, f.oneTimeKey, f.verifierKeys)
	if err != nil {
		t.Fatalf("NewOperatorContext: %v", err)
	}
	for _, key := range f.verifiers {
		ctx, err := contexts.NewVerifierContext(testNetwork, key, f.operator.PubKey(), f.oneTimeKey, f.verifierKeys)
		if err != nil {
			t.Fatalf("NewVerifierContext: %v", err)
		}
		f.verifierCtxs = append(f.verifierCtxs, ctx)
	}

	f.fundingInput, err = NewInput(strings.Repeat("ab", 32)+":0", 100_000)
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	f.depositInput, err = NewInput(strings.Repeat("cd", 32)+":1", 250_000)
	if err != nil {
		t.Fatalf("NewInput: %v", err)
	}
	return f
}

func (f *fixture) kickOff2ForValidation(t *testing.T, input Input) (*KickOff2Transaction, error) {
	t.Helper()
	v := f.verifierCtxs[0]
	return NewKickOff2TransactionForValidation(
		v.Network,
		v.OperatorPublicKey,
		v.OperatorOneTimePublicKey,
		v.OperatorTaprootPublicKey,
		v.NofN.TaprootPublicKey,
		input,
	)
}
