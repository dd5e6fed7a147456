package types

// Module name and store key
const (
	ModuleName = "margin"
	StoreKey   = ModuleName
)

// LeverageScale is the fixed-point scale of Position.Leverage: a stored value
// of 250 means 2.5x. MinLeverage is 1x.
const (
	LeverageScale uint32 = 100
	MinLeverage   uint32 = 100
	MaxLeverage   uint32 = 100 * 100
)

// Direction is the side of a position
type Direction int

const (
	Long Direction = iota
	Short
)

func (d Direction) String() string {
	if d == Short {
		return "short"
	}
	return "long"
}

// CollateralRecord is one posted collateral marker: raw units in the token's
// native decimals. An account may hold several markers for the same token
// index; marker order is the deterministic seizure order during settlement.
type CollateralRecord struct {
	TokenIndex uint32 `json:"token_index"`
	RawAmount  uint64 `json:"raw_amount"`
}

// Position is one open leveraged position. Created after a solvency
// pre-check, mutated only by close or liquidation, destroyed on full close.
type Position struct {
	PositionID         string    `json:"position_id"`
	TokenIndex         uint32    `json:"token_index"`
	Direction          Direction `json:"direction"`
	RawSize            uint64    `json:"raw_size"`
	Leverage           uint32    `json:"leverage"`
	EntryPrice         uint64    `json:"entry_price"`
	EntryPriceDecimals uint8     `json:"entry_price_decimals"`
	OpenedAt           int64     `json:"opened_at"`
}

// Account holds an owner's collateral markers and open positions within one
// program. Records always reference token indices valid in the program's
// catalogs.
type Account struct {
	AccountID  string             `json:"account_id"`
	ProgramID  string             `json:"program_id"`
	Owner      string             `json:"owner"`
	Collateral []CollateralRecord `json:"collateral"`
	Positions  []Position         `json:"positions"`
}

// FindPosition returns the slice index of a position by id, or -1
func (a *Account) FindPosition(positionID string) int {
	for i := range a.Positions {
		if a.Positions[i].PositionID == positionID {
			return i
		}
	}
	return -1
}

// FundedCollateralIndices returns the marker indices with a non-zero balance,
// in marker order
func (a *Account) FundedCollateralIndices() []uint32 {
	var indices []uint32
	for i := range a.Collateral {
		if a.Collateral[i].RawAmount > 0 {
			indices = append(indices, uint32(i))
		}
	}
	return indices
}

// PositionIndices returns the slice indices of all open positions
func (a *Account) PositionIndices() []uint32 {
	var indices []uint32
	for i := range a.Positions {
		indices = append(indices, uint32(i))
	}
	return indices
}

// PriceAttestation is the oracle input consumed by value-assertion calls:
// one attested price for one feed, with the exponent interpreted under the
// program's convention.
type PriceAttestation struct {
	FeedID      string `json:"feed_id"`
	Price       uint64 `json:"price"`
	Exponent    int64  `json:"exponent"`
	Confidence  uint64 `json:"confidence"`
	PublishTime int64  `json:"publish_time"` // unix seconds
}
