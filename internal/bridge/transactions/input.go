package transactions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Input is a coin to spend: its outpoint and value in satoshis. Locating the
// coin on chain is the caller's job.
type Input struct {
	Outpoint wire.OutPoint
	Amount   uint64
}

// NewInput builds an Input from a "txid:vout" string.
func NewInput(outpoint string, amount uint64) (Input, error) {
	op, err := ParseOutpoint(outpoint)
	if err != nil {
		return Input{}, err
	}
	return Input{Outpoint: op, Amount: amount}, nil
}

// String implements fmt.Stringer.
func (i Input) String() string {
	return fmt.Sprintf("%s (%d sat)", i.Outpoint, i.Amount)
}

// ParseOutpoint parses "txid:vout".
func ParseOutpoint(s string) (wire.OutPoint, error) {
	txid, vout, ok := strings.Cut(s, ":")
	if !ok {
		return wire.OutPoint{}, fmt.Errorf("%w: %q: expected txid:vout", ErrInvalidOutpoint, s)
	}
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidOutpoint, s, err)
	}
	index, err := strconv.ParseUint(vout, 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("%w: %q: %v", ErrInvalidOutpoint, s, err)
	}
	return *wire.NewOutPoint(hash, uint32(index)), nil
}

// checkAmount rejects values above the total supply so they can be stored
// in a wire.TxOut.
func checkAmount(amount uint64) error {
	if amount > uint64(btcutil.MaxSatoshi) {
		return fmt.Errorf("%w: %d sat exceeds max supply", ErrAmountOverflow, amount)
	}
	return nil
}

// checkedSub returns a-b, failing instead of wrapping around.
func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, fmt.Errorf("%w: %d - %d", ErrAmountUnderflow, a, b)
	}
	return a - b, nil
}

// checkedAdd returns a+b, failing above the total supply.
func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: %d + %d", ErrAmountOverflow, a, b)
	}
	if err := checkAmount(sum); err != nil {
		return 0, err
	}
	return sum, nil
}
