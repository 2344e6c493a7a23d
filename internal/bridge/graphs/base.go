// Package graphs holds the protocol constants shared by every transaction of
// the bridge graph. Changing any of them is a protocol upgrade: all operators
// and verifiers must agree on the same values or they will build different
// transactions.
package graphs

const (
	// FeeAmount is the fixed fee in satoshis paid by each graph transaction.
	FeeAmount uint64 = 1_000

	// DustAmount is the value in satoshis of connector outputs that only
	// carry a spending condition.
	DustAmount uint64 = 1_000

	// NumBlocksPerWeek is ~1 week of Bitcoin blocks (10 min target).
	NumBlocksPerWeek uint32 = 1_008

	// ConnectorBTimelock is the CSV delay before the N-of-N timeout leaf of
	// connector B becomes spendable.
	ConnectorBTimelock = NumBlocksPerWeek
)
