package transactions

import "errors"

// Construction errors
var (
	// ErrAmountUnderflow means the input cannot pay the fee and keep every
	// output at or above the dust amount.
	ErrAmountUnderflow = errors.New("amount underflow")

	// ErrAmountOverflow means an amount exceeds the total bitcoin supply.
	ErrAmountOverflow = errors.New("amount overflow")
)

// Signing errors
var (
	ErrInputIndexOutOfRange = errors.New("input index out of range")
	ErrMissingPrevOut       = errors.New("previous output missing")
	ErrPrevOutMismatch      = errors.New("spend path does not match previous output")
	ErrUnsupportedSpendKind = errors.New("unsupported spend kind")
	ErrNoSigningKeys        = errors.New("no signing keys")

	// ErrKeyMismatch means a signing key is not one the previous output
	// script checks against; its signature could never be accepted.
	ErrKeyMismatch = errors.New("signing key does not match previous output")
)

// Validation errors
var (
	ErrSkeletonMismatch  = errors.New("unsigned transactions differ")
	ErrWitnessConflict   = errors.New("conflicting witness data")
	ErrMalformedEncoding = errors.New("malformed pre-signed transaction encoding")
	ErrInvalidOutpoint   = errors.New("invalid outpoint")
)

// MuSig2 errors
var (
	ErrNonceNotSet       = errors.New("musig2 nonce not set")
	ErrNonceAlreadyUsed  = errors.New("musig2 nonce already used - generate a new nonce")
	ErrPartialSigMissing = errors.New("partial signature missing")
	ErrPartialSigInvalid = errors.New("partial signatures do not combine to a valid signature")
)
