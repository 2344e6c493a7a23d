package transactions

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/klingon-exchange/klingbridge/internal/bridge/connectors"
	"github.com/klingon-exchange/klingbridge/internal/bridge/contexts"
	"github.com/klingon-exchange/klingbridge/internal/bridge/graphs"
	"github.com/klingon-exchange/klingbridge/internal/chain"
)

// Take1 input indexes.
const (
	Take1InputConnector3 = 0
	Take1InputConnectorA = 1
)

// Take1Transaction is the operator's unchallenged exit: it sweeps kick-off
// outputs 0 (connector 3) and 2 (connector A, take leaf) back to the
// operator's pay-to-pubkey script.
type Take1Transaction struct {
	preSigned

	connectorA *connectors.ConnectorA
}

// NewTake1TransactionForValidation builds the unsigned take from public data.
func NewTake1TransactionForValidation(
	network chain.Network,
	operatorPublicKey *btcec.PublicKey,
	operatorTaprootPublicKey *btcec.PublicKey,
	nOfNTaprootPublicKey *btcec.PublicKey,
	connector3Input Input,
	connectorAInput Input,
) (*Take1Transaction, error) {
	if err := checkAmount(connector3Input.Amount); err != nil {
		return nil, err
	}
	if err := checkAmount(connectorAInput.Amount); err != nil {
		return nil, err
	}
	total, err := checkedAdd(connector3Input.Amount, connectorAInput.Amount)
	if err != nil {
		return nil, err
	}
	amount, err := checkedSub(total, graphs.FeeAmount)
	if err != nil {
		return nil, err
	}
	if amount < graphs.DustAmount {
		return nil, fmt.Errorf("%w: take output %d sat below dust", ErrAmountUnderflow, amount)
	}

	connector3, err := connectors.NewConnector3(network, operatorPublicKey)
	if err != nil {
		return nil, err
	}
	connectorA, err := connectors.NewConnectorA(network, operatorTaprootPublicKey, nOfNTaprootPublicKey)
	if err != nil {
		return nil, err
	}
	takeLeaf, err := connectorA.LeafScript(connectors.ConnectorALeafTake)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	for _, input := range []Input{connector3Input, connectorAInput} {
		txIn := wire.NewTxIn(&input.Outpoint, nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum
		tx.AddTxIn(txIn)
	}
	tx.AddTxOut(wire.NewTxOut(int64(amount), connector3.GenerateScript()))

	t := &Take1Transaction{
		preSigned: preSigned{
			tx: tx,
			prevOuts: []*wire.TxOut{
				wire.NewTxOut(int64(connector3Input.Amount), connector3.GenerateScript()),
				wire.NewTxOut(int64(connectorAInput.Amount), connectorA.GenerateScript()),
			},
			prevScripts: [][]byte{connector3.WitnessScript(), takeLeaf},
		},
		connectorA: connectorA,
	}

	log.Debug("Built take 1", "txid", tx.TxHash(), "amount", amount)
	return t, nil
}

// NewTake1Transaction builds the take and signs both inputs with the
// operator key.
func NewTake1Transaction(ctx *contexts.OperatorContext, connector3Input, connectorAInput Input) (*Take1Transaction, error) {
	if ctx == nil || ctx.OperatorKeypair == nil {
		return nil, contexts.ErrNilSecretKey
	}
	t, err := NewTake1TransactionForValidation(
		ctx.Network,
		ctx.OperatorPublicKey,
		ctx.OperatorTaprootPublicKey,
		ctx.NofN.TaprootPublicKey,
		connector3Input,
		connectorAInput,
	)
	if err != nil {
		return nil, err
	}

	if err := PreSignWitnessScriptHashInput(t, Take1InputConnector3, txscript.SigHashAll, ctx.OperatorKeypair); err != nil {
		return nil, fmt.Errorf("failed to sign take 1: %w", err)
	}
	takePath, err := t.connectorA.Leaf(connectors.ConnectorALeafTake)
	if err != nil {
		return nil, err
	}
	if err := SignInput(t, Take1InputConnectorA, takePath, txscript.SigHashDefault, ctx.OperatorKeypair); err != nil {
		return nil, fmt.Errorf("failed to sign take 1: %w", err)
	}
	return t, nil
}

// NewTake1TransactionFromKickOff2 builds and signs the take spending the
// outputs of kick-off.
func NewTake1TransactionFromKickOff2(ctx *contexts.OperatorContext, kickOff *KickOff2Transaction) (*Take1Transaction, error) {
	return NewTake1TransactionFromRaw(ctx, kickOff)
}

// NewTake1TransactionFromRaw builds and signs the take spending outputs 0
// and 2 of a kick-off given in any form, typically a decoded RawTransaction.
// Both outputs must pay to the connectors ctx derives.
func NewTake1TransactionFromRaw(ctx *contexts.OperatorContext, kickOff PreSignedTransaction) (*Take1Transaction, error) {
	if ctx == nil || ctx.OperatorKeypair == nil {
		return nil, contexts.ErrNilSecretKey
	}
	outputs := kickOff.Tx().TxOut
	if len(outputs) <= KickOff2OutputConnectorA {
		return nil, fmt.Errorf("%w: kick-off has %d outputs, need %d",
			ErrInvalidOutpoint, len(outputs), KickOff2OutputConnectorA+1)
	}

	connector3, err := connectors.NewConnector3(ctx.Network, ctx.OperatorPublicKey)
	if err != nil {
		return nil, err
	}
	connectorA, err := connectors.NewConnectorA(ctx.Network, ctx.OperatorTaprootPublicKey, ctx.NofN.TaprootPublicKey)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(outputs[KickOff2OutputConnector3].PkScript, connector3.GenerateScript()) {
		return nil, fmt.Errorf("%w: kick-off output %d is not connector 3", ErrPrevOutMismatch, KickOff2OutputConnector3)
	}
	if !bytes.Equal(outputs[KickOff2OutputConnectorA].PkScript, connectorA.GenerateScript()) {
		return nil, fmt.Errorf("%w: kick-off output %d is not connector A", ErrPrevOutMismatch, KickOff2OutputConnectorA)
	}

	txid := kickOff.Tx().TxHash()
	connector3Input := Input{
		Outpoint: wire.OutPoint{Hash: txid, Index: KickOff2OutputConnector3},
		Amount:   uint64(outputs[KickOff2OutputConnector3].Value),
	}
	connectorAInput := Input{
		Outpoint: wire.OutPoint{Hash: txid, Index: KickOff2OutputConnectorA},
		Amount:   uint64(outputs[KickOff2OutputConnectorA].Value),
	}
	return NewTake1Transaction(ctx, connector3Input, connectorAInput)
}

var (
	_ PreSignedTransaction = (*Take1Transaction)(nil)
	_ BaseTransaction      = (*Take1Transaction)(nil)
)
