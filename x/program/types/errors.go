package types

import (
	"cosmossdk.io/errors"
)

// Module error codes
var (
	ErrInvalidConfig   = errors.Register("program", 1, "invalid program configuration")
	ErrUnauthorized    = errors.Register("program", 2, "unauthorized")
	ErrFeedMismatch    = errors.Register("program", 3, "price feed does not match token")
	ErrTokenNotFound   = errors.Register("program", 4, "token not found")
	ErrTokenDeprecated = errors.Register("program", 5, "token is deprecated")
	ErrProgramNotFound = errors.Register("program", 6, "program not found")
	ErrProgramExists   = errors.Register("program", 7, "program already exists")
)
