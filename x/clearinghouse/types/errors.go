package types

import (
	"cosmossdk.io/errors"
)

// Module error codes
var (
	ErrNotLiquidatable          = errors.Register("clearinghouse", 1, "account is not liquidatable")
	ErrInvalidLiquidationConfig = errors.Register("clearinghouse", 2, "invalid liquidation configuration")
	ErrOutcomeNotFound          = errors.Register("clearinghouse", 3, "liquidation outcome not found")
)
