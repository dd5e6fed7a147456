package types

import (
	"cosmossdk.io/errors"
)

// Module error codes
var (
	ErrVaultNotFound      = errors.Register("vault", 1, "vault not found")
	ErrVaultDeprecated    = errors.Register("vault", 2, "vault is deprecated")
	ErrInsufficientShares = errors.Register("vault", 3, "lp amount exceeds holdings")
	ErrInsufficientCoin   = errors.Register("vault", 4, "coin amount exceeds vault balance")
	ErrZeroAmount         = errors.Register("vault", 5, "amount must be positive")
	ErrBalanceOverflow    = errors.Register("vault", 6, "vault balance exceeds uint64")
	ErrVaultInsolvent     = errors.Register("vault", 7, "vault drained with lp outstanding")
)
