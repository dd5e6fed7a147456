package types

import (
	"encoding/hex"
	"time"
)

// Module name and store key
const (
	ModuleName = "program"
	StoreKey   = ModuleName
)

// Shared-decimal precision bounds. The precision is fixed at program creation
// and never changes afterwards; every stored normalized value depends on it.
const (
	MinSharedDecimals = 1
	MaxSharedDecimals = 18
)

// FeedIDLength is the hex-encoded length of a 32-byte price feed identifier.
const FeedIDLength = 64

// OracleKind identifies the oracle network a price feed belongs to
type OracleKind int

const (
	OracleKindUnspecified OracleKind = iota
	OracleKindPyth
)

func (k OracleKind) String() string {
	switch k {
	case OracleKindPyth:
		return "pyth"
	default:
		return "unspecified"
	}
}

// ExponentConvention selects how a price attestation's exponent is turned
// into a decimals count. The sign interpretation is an explicit program
// parameter rather than an assumption baked into the arithmetic.
type ExponentConvention int

const (
	// ExponentNegativeDecimals treats a negative exponent as the decimals
	// count (Pyth style: expo -8 means 8 decimals).
	ExponentNegativeDecimals ExponentConvention = iota
	// ExponentPositiveDecimals treats a positive exponent as the decimals
	// count.
	ExponentPositiveDecimals
)

func (c ExponentConvention) String() string {
	if c == ExponentPositiveDecimals {
		return "positive"
	}
	return "negative"
}

// TokenIdentifier describes one supported token: its key, native decimal
// precision, and the oracle feed that prices it. Immutable once referenced by
// an open position or collateral entry; Deprecated only blocks new usage.
type TokenIdentifier struct {
	TokenKey    string     `json:"token_key"`
	Decimals    uint8      `json:"decimals"`
	PriceFeedID string     `json:"price_feed_id"` // 32-byte id, hex encoded
	OracleKind  OracleKind `json:"oracle_kind"`
	Deprecated  bool       `json:"deprecated"`
}

// Validate checks the identifier shape
func (t *TokenIdentifier) Validate() error {
	if t.TokenKey == "" {
		return ErrInvalidConfig.Wrap("empty token key")
	}
	if len(t.PriceFeedID) != FeedIDLength {
		return ErrInvalidConfig.Wrapf("feed id for %s must be %d hex chars, got %d", t.TokenKey, FeedIDLength, len(t.PriceFeedID))
	}
	if _, err := hex.DecodeString(t.PriceFeedID); err != nil {
		return ErrInvalidConfig.Wrapf("feed id for %s is not hex: %v", t.TokenKey, err)
	}
	if t.OracleKind == OracleKindUnspecified {
		return ErrInvalidConfig.Wrapf("token %s has no oracle kind", t.TokenKey)
	}
	return nil
}

// Program is the market configuration all accounts reference: the ordered
// token catalogs, the shared fixed-point precision, and oracle validation
// parameters.
type Program struct {
	ProgramID           string             `json:"program_id"`
	Authority           string             `json:"authority"`
	SharedDecimals      uint8              `json:"shared_decimals"`
	SupportedCollateral []TokenIdentifier  `json:"supported_collateral"`
	SupportedPositions  []TokenIdentifier  `json:"supported_positions"`
	MaxPriceAge         time.Duration      `json:"max_price_age"`
	ExponentConvention  ExponentConvention `json:"exponent_convention"`
	CreatedAt           int64              `json:"created_at"`
}

// DefaultMaxPriceAge bounds how old an attested price may be before it is
// rejected as stale.
const DefaultMaxPriceAge = 30 * time.Second

// ProgramConfig contains the parameters for creating a program
type ProgramConfig struct {
	ProgramID           string
	Authority           string
	SharedDecimals      uint8
	SupportedCollateral []TokenIdentifier
	SupportedPositions  []TokenIdentifier
	MaxPriceAge         time.Duration
	ExponentConvention  ExponentConvention
}

// Validate validates the program configuration
func (c *ProgramConfig) Validate() error {
	if c.ProgramID == "" {
		return ErrInvalidConfig.Wrap("empty program id")
	}
	if c.Authority == "" {
		return ErrInvalidConfig.Wrap("empty authority")
	}
	if c.SharedDecimals < MinSharedDecimals || c.SharedDecimals > MaxSharedDecimals {
		return ErrInvalidConfig.Wrapf("shared decimals %d outside [%d, %d]", c.SharedDecimals, MinSharedDecimals, MaxSharedDecimals)
	}
	if len(c.SupportedCollateral) == 0 {
		return ErrInvalidConfig.Wrap("no supported collateral tokens")
	}
	if len(c.SupportedPositions) == 0 {
		return ErrInvalidConfig.Wrap("no supported position tokens")
	}
	for i := range c.SupportedCollateral {
		if err := c.SupportedCollateral[i].Validate(); err != nil {
			return err
		}
	}
	for i := range c.SupportedPositions {
		if err := c.SupportedPositions[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// NewProgram creates a program from a validated config
func NewProgram(config ProgramConfig) (*Program, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	maxAge := config.MaxPriceAge
	if maxAge == 0 {
		maxAge = DefaultMaxPriceAge
	}
	return &Program{
		ProgramID:           config.ProgramID,
		Authority:           config.Authority,
		SharedDecimals:      config.SharedDecimals,
		SupportedCollateral: config.SupportedCollateral,
		SupportedPositions:  config.SupportedPositions,
		MaxPriceAge:         maxAge,
		ExponentConvention:  config.ExponentConvention,
		CreatedAt:           time.Now().Unix(),
	}, nil
}

// CollateralToken returns the collateral token at index
func (p *Program) CollateralToken(index uint32) (*TokenIdentifier, error) {
	if int(index) >= len(p.SupportedCollateral) {
		return nil, ErrTokenNotFound.Wrapf("collateral index %d out of range (%d supported)", index, len(p.SupportedCollateral))
	}
	return &p.SupportedCollateral[index], nil
}

// PositionToken returns the position token at index
func (p *Program) PositionToken(index uint32) (*TokenIdentifier, error) {
	if int(index) >= len(p.SupportedPositions) {
		return nil, ErrTokenNotFound.Wrapf("position index %d out of range (%d supported)", index, len(p.SupportedPositions))
	}
	return &p.SupportedPositions[index], nil
}

// FindCollateralByKey scans the collateral catalog for a token key. Catalogs
// are small admin-curated lists; a linear scan is enough.
func (p *Program) FindCollateralByKey(key string) (uint32, *TokenIdentifier, error) {
	for i := range p.SupportedCollateral {
		if p.SupportedCollateral[i].TokenKey == key {
			return uint32(i), &p.SupportedCollateral[i], nil
		}
	}
	return 0, nil, ErrTokenNotFound.Wrapf("collateral token %s", key)
}

// FindPositionByKey scans the position catalog for a token key
func (p *Program) FindPositionByKey(key string) (uint32, *TokenIdentifier, error) {
	for i := range p.SupportedPositions {
		if p.SupportedPositions[i].TokenKey == key {
			return uint32(i), &p.SupportedPositions[i], nil
		}
	}
	return 0, nil, ErrTokenNotFound.Wrapf("position token %s", key)
}

// PriceDecimals converts an attestation exponent into a decimals count under
// the program's convention.
func (p *Program) PriceDecimals(exponent int64) (uint8, error) {
	decimals := exponent
	if p.ExponentConvention == ExponentNegativeDecimals {
		decimals = -exponent
	}
	if decimals < 0 || decimals > MaxSharedDecimals {
		return 0, ErrInvalidConfig.Wrapf("exponent %d invalid under %s convention", exponent, p.ExponentConvention)
	}
	return uint8(decimals), nil
}

// AdminCap is the capability credential for privileged operations. Privileged
// keeper operations take it as an explicit parameter and verify it against
// the program's stored authority instead of consulting ambient state.
type AdminCap struct {
	ProgramID string `json:"program_id"`
	Owner     string `json:"owner"`
}

// Authorizes reports whether the capability covers the given program
func (c AdminCap) Authorizes(p *Program) bool {
	return c.ProgramID == p.ProgramID && c.Owner == p.Authority
}
