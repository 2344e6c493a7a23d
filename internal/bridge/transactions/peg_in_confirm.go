package transactions

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingbridge/internal/bridge/connectors"
	"github.com/klingon-exchange/klingbridge/internal/bridge/contexts"
	"github.com/klingon-exchange/klingbridge/internal/bridge/graphs"
	"github.com/klingon-exchange/klingbridge/internal/chain"
)

// PegInConfirmTransaction moves a deposit held by the N-of-N multisig into
// the N-of-N Taproot output the rest of the graph spends from. Every verifier
// signs its own slot; the transaction is complete once all slots are filled.
type PegInConfirmTransaction struct {
	preSigned

	deposit *connectors.NofNConnector
	vault   *connectors.TaprootKeyConnector
}

// NewPegInConfirmTransactionForValidation builds the unsigned peg-in
// confirmation from public data.
func NewPegInConfirmTransactionForValidation(
	network chain.Network,
	nOfNPublicKeys []*btcec.PublicKey,
	nOfNTaprootPublicKey *btcec.PublicKey,
	input Input,
) (*PegInConfirmTransaction, error) {
	if err := checkAmount(input.Amount); err != nil {
		return nil, err
	}
	amount, err := checkedSub(input.Amount, graphs.FeeAmount)
	if err != nil {
		return nil, err
	}
	if amount < graphs.DustAmount {
		return nil, fmt.Errorf("%w: peg-in output %d sat below dust", ErrAmountUnderflow, amount)
	}

	deposit, err := connectors.NewNofNConnector(network, nOfNPublicKeys)
	if err != nil {
		return nil, err
	}
	vault, err := connectors.NewTaprootKeyConnector(network, nOfNTaprootPublicKey)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	txIn := wire.NewTxIn(&input.Outpoint, nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(int64(amount), vault.GenerateScript()))

	p := &PegInConfirmTransaction{
		preSigned: preSigned{
			tx:          tx,
			prevOuts:    []*wire.TxOut{wire.NewTxOut(int64(input.Amount), deposit.GenerateScript())},
			prevScripts: [][]byte{deposit.WitnessScript()},
		},
		deposit: deposit,
		vault:   vault,
	}

	log.Debug("Built peg-in confirm", "txid", tx.TxHash(), "signers", len(nOfNPublicKeys), "amount", amount)
	return p, nil
}

// NewPegInConfirmTransaction builds the peg-in confirmation and adds the
// verifier's signature.
func NewPegInConfirmTransaction(ctx *contexts.VerifierContext, input Input) (*PegInConfirmTransaction, error) {
	if ctx == nil || ctx.VerifierKeypair == nil {
		return nil, contexts.ErrNilSecretKey
	}
	p, err := NewPegInConfirmTransactionForValidation(ctx.Network, ctx.NofN.PublicKeys, ctx.NofN.TaprootPublicKey, input)
	if err != nil {
		return nil, err
	}
	if err := p.Sign(ctx.VerifierKeypair); err != nil {
		return nil, err
	}
	return p, nil
}

// Sign adds the signature of one N-of-N member.
func (p *PegInConfirmTransaction) Sign(key *btcec.PrivateKey) error {
	if err := SignInput(p, 0, p.deposit.Unlock(), txscript.SigHashAll, key); err != nil {
		return fmt.Errorf("failed to sign peg-in confirm: %w", err)
	}
	return nil
}

// Vault returns the connector of the confirmed output.
func (p *PegInConfirmTransaction) Vault() *connectors.TaprootKeyConnector {
	return p.vault
}

var (
	_ PreSignedTransaction = (*PegInConfirmTransaction)(nil)
	_ BaseTransaction      = (*PegInConfirmTransaction)(nil)
)
