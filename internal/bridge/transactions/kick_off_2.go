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

// KickOff2 output indexes.
const (
	KickOff2OutputConnector3 = 0
	KickOff2OutputConnectorB = 1
	KickOff2OutputConnectorA = 2
)

// KickOff2Transaction opens the dispute window of a withdrawal. It spends an
// operator-owned P2WSH pay-to-pubkey coin into three connectors:
//
//	0: DustAmount                   -> connector 3 (operator)
//	1: input - FeeAmount - 2*Dust   -> connector B (timeout / commitment)
//	2: DustAmount                   -> connector A (take / challenge)
type KickOff2Transaction struct {
	preSigned

	connector3 *connectors.Connector3
	connectorA *connectors.ConnectorA
	connectorB *connectors.ConnectorB
}

// NewKickOff2TransactionForValidation builds the unsigned kick-off from
// public data. Every participant computes the same transaction from the same
// arguments.
func NewKickOff2TransactionForValidation(
	network chain.Network,
	operatorPublicKey *btcec.PublicKey,
	operatorOneTimePublicKey []byte,
	operatorTaprootPublicKey *btcec.PublicKey,
	nOfNTaprootPublicKey *btcec.PublicKey,
	input Input,
) (*KickOff2Transaction, error) {
	if err := checkAmount(input.Amount); err != nil {
		return nil, err
	}
	minimum := graphs.FeeAmount + 3*graphs.DustAmount
	if input.Amount < minimum {
		return nil, fmt.Errorf("%w: kick-off input %d sat below minimum %d sat",
			ErrAmountUnderflow, input.Amount, minimum)
	}
	connectorBAmount, err := checkedSub(input.Amount, graphs.FeeAmount+2*graphs.DustAmount)
	if err != nil {
		return nil, err
	}

	// The funding coin is locked by the same operator script as connector 3.
	connector3, err := connectors.NewConnector3(network, operatorPublicKey)
	if err != nil {
		return nil, err
	}
	connectorA, err := connectors.NewConnectorA(network, operatorTaprootPublicKey, nOfNTaprootPublicKey)
	if err != nil {
		return nil, err
	}
	connectorB, err := connectors.NewConnectorB(network, nOfNTaprootPublicKey, operatorOneTimePublicKey)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(2)
	tx.LockTime = 0
	txIn := wire.NewTxIn(&input.Outpoint, nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum
	tx.AddTxIn(txIn)

	tx.AddTxOut(wire.NewTxOut(int64(graphs.DustAmount), connector3.GenerateScript()))
	tx.AddTxOut(wire.NewTxOut(int64(connectorBAmount), connectorB.GenerateScript()))
	tx.AddTxOut(wire.NewTxOut(int64(graphs.DustAmount), connectorA.GenerateScript()))

	k := &KickOff2Transaction{
		preSigned: preSigned{
			tx:          tx,
			prevOuts:    []*wire.TxOut{wire.NewTxOut(int64(input.Amount), connector3.GenerateScript())},
			prevScripts: [][]byte{connector3.WitnessScript()},
		},
		connector3: connector3,
		connectorA: connectorA,
		connectorB: connectorB,
	}

	log.Debug("Built kick-off 2",
		"txid", tx.TxHash(),
		"input", input,
		"connector_b_amount", connectorBAmount,
	)
	return k, nil
}

// NewKickOff2Transaction builds the kick-off and signs its input with the
// operator key.
func NewKickOff2Transaction(ctx *contexts.OperatorContext, input Input) (*KickOff2Transaction, error) {
	if ctx == nil || ctx.OperatorKeypair == nil {
		return nil, contexts.ErrNilSecretKey
	}
	k, err := NewKickOff2TransactionForValidation(
		ctx.Network,
		ctx.OperatorPublicKey,
		ctx.OperatorOneTimePublicKey,
		ctx.OperatorTaprootPublicKey,
		ctx.NofN.TaprootPublicKey,
		input,
	)
	if err != nil {
		return nil, err
	}
	if err := PreSignWitnessScriptHashInput(k, 0, txscript.SigHashAll, ctx.OperatorKeypair); err != nil {
		return nil, fmt.Errorf("failed to sign kick-off 2: %w", err)
	}
	return k, nil
}

// NewKickOff2TransactionFromPublic builds the unsigned kick-off from an
// operator's public context.
func NewKickOff2TransactionFromPublic(public *contexts.OperatorPublic, input Input) (*KickOff2Transaction, error) {
	return NewKickOff2TransactionForValidation(
		public.Network,
		public.OperatorPublicKey,
		public.OperatorOneTimePublicKey,
		public.OperatorTaprootPublicKey,
		public.NofN.TaprootPublicKey,
		input,
	)
}

// Connector3 returns the connector of output 0.
func (k *KickOff2Transaction) Connector3() *connectors.Connector3 {
	return k.connector3
}

// ConnectorB returns the connector of output 1.
func (k *KickOff2Transaction) ConnectorB() *connectors.ConnectorB {
	return k.connectorB
}

// ConnectorA returns the connector of output 2.
func (k *KickOff2Transaction) ConnectorA() *connectors.ConnectorA {
	return k.connectorA
}

var (
	_ PreSignedTransaction = (*KickOff2Transaction)(nil)
	_ BaseTransaction      = (*KickOff2Transaction)(nil)
)
