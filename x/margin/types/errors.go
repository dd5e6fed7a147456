package types

import (
	"cosmossdk.io/errors"
)

// Module error codes
var (
	ErrAccountNotFound     = errors.Register("margin", 1, "account not found")
	ErrUnknownAsset        = errors.Register("margin", 2, "asset is not pending in this assertion")
	ErrAlreadySet          = errors.Register("margin", 3, "asset value already set")
	ErrIncompleteAssertion = errors.Register("margin", 4, "assertion finalized with assets remaining")
	ErrStalePrice          = errors.Register("margin", 5, "price attestation too old")
	ErrInvalidAttestation  = errors.Register("margin", 6, "invalid price attestation")
	ErrInsufficientMargin  = errors.Register("margin", 7, "equity below required margin")
	ErrInsufficientBalance = errors.Register("margin", 8, "amount exceeds holdings")
	ErrPositionNotFound    = errors.Register("margin", 9, "position not found")
	ErrInvalidQuantity     = errors.Register("margin", 10, "quantity must be positive")
	ErrAssertionMismatch   = errors.Register("margin", 11, "assertion does not belong to this account")
	ErrInvalidLeverage     = errors.Register("margin", 12, "leverage outside allowed range")
)
