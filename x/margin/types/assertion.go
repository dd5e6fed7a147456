package types

import (
	"sort"
	"time"

	"cosmossdk.io/math"
)

// Mark pins the exact attested price an assertion used for one asset, so
// settlement reuses the same snapshot instead of re-touching the oracle.
type Mark struct {
	Price    uint64 `json:"price"`
	Decimals uint8  `json:"decimals"`
}

// AssertionKind separates the collateral and position phases
type AssertionKind int

const (
	CollateralAssertion AssertionKind = iota
	PositionAssertion
)

func (k AssertionKind) String() string {
	if k == PositionAssertion {
		return "position"
	}
	return "collateral"
}

// ValueAssertion is the staged accumulator: it is created referencing every
// index the account currently holds, collects one normalized value per index
// across repeated calls, and can only be consumed through Finalize once no
// index remains. All fields are unexported: the only way to obtain a usable
// total is to price every asset and finalize, which is what prevents a
// solvency decision from being made on partial data.
type ValueAssertion struct {
	kind      AssertionKind
	accountID string
	programID string
	startedAt time.Time
	remaining map[uint32]struct{}
	marks     map[uint32]Mark

	collateralTotal math.Int

	pnlTotal      math.Int
	marginTotal   math.Int
	notionalTotal math.Int
	priced        int
}

// NewValueAssertion starts an accumulator over the given indices. For the
// collateral kind the indices are funded marker positions; for the position
// kind they are open position positions.
func NewValueAssertion(kind AssertionKind, accountID, programID string, indices []uint32) *ValueAssertion {
	remaining := make(map[uint32]struct{}, len(indices))
	for _, idx := range indices {
		remaining[idx] = struct{}{}
	}
	return &ValueAssertion{
		kind:            kind,
		accountID:       accountID,
		programID:       programID,
		startedAt:       time.Now(),
		remaining:       remaining,
		marks:           make(map[uint32]Mark),
		collateralTotal: math.ZeroInt(),
		pnlTotal:        math.ZeroInt(),
		marginTotal:     math.ZeroInt(),
		notionalTotal:   math.ZeroInt(),
	}
}

// Kind returns the assertion phase
func (va *ValueAssertion) Kind() AssertionKind {
	return va.kind
}

// AccountID returns the account this assertion prices
func (va *ValueAssertion) AccountID() string {
	return va.accountID
}

// ProgramID returns the owning program
func (va *ValueAssertion) ProgramID() string {
	return va.programID
}

// StartedAt returns when the assertion was opened
func (va *ValueAssertion) StartedAt() time.Time {
	return va.startedAt
}

// Remaining returns the sorted indices not yet priced
func (va *ValueAssertion) Remaining() []uint32 {
	out := make([]uint32, 0, len(va.remaining))
	for idx := range va.remaining {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Pending reports whether an index still awaits its value
func (va *ValueAssertion) Pending(index uint32) bool {
	_, ok := va.remaining[index]
	return ok
}

func (va *ValueAssertion) claim(index uint32, mark Mark) error {
	if _, ok := va.remaining[index]; !ok {
		if _, set := va.marks[index]; set {
			return ErrAlreadySet.Wrapf("index %d", index)
		}
		return ErrUnknownAsset.Wrapf("index %d", index)
	}
	delete(va.remaining, index)
	va.marks[index] = mark
	return nil
}

// AddCollateralValue records the normalized value of one collateral marker.
// The keeper is responsible for feed, staleness, and normalization checks;
// the assertion only enforces the exactly-once contract.
func (va *ValueAssertion) AddCollateralValue(index uint32, value math.Int, mark Mark) error {
	if va.kind != CollateralAssertion {
		return ErrUnknownAsset.Wrap("collateral value on a position assertion")
	}
	if err := va.claim(index, mark); err != nil {
		return err
	}
	va.collateralTotal = va.collateralTotal.Add(value)
	return nil
}

// AddPositionValue records one position's signed PnL, required margin, and
// notional at its mark
func (va *ValueAssertion) AddPositionValue(index uint32, pnl, requiredMargin, notional math.Int, mark Mark) error {
	if va.kind != PositionAssertion {
		return ErrUnknownAsset.Wrap("position value on a collateral assertion")
	}
	if err := va.claim(index, mark); err != nil {
		return err
	}
	va.pnlTotal = va.pnlTotal.Add(pnl)
	va.marginTotal = va.marginTotal.Add(requiredMargin)
	va.notionalTotal = va.notionalTotal.Add(notional)
	va.priced++
	return nil
}

// FinalizeCollateral consumes a completed collateral assertion. Fails with
// IncompleteAssertion while any marker remains unpriced.
func (va *ValueAssertion) FinalizeCollateral() (*FinalizedCollateral, error) {
	if va.kind != CollateralAssertion {
		return nil, ErrIncompleteAssertion.Wrap("not a collateral assertion")
	}
	if len(va.remaining) > 0 {
		return nil, ErrIncompleteAssertion.Wrapf("%d collateral markers unpriced", len(va.remaining))
	}
	return &FinalizedCollateral{
		accountID: va.accountID,
		total:     va.collateralTotal,
		marks:     va.marks,
	}, nil
}

// FinalizePositions consumes a completed position assertion
func (va *ValueAssertion) FinalizePositions() (*FinalizedPositions, error) {
	if va.kind != PositionAssertion {
		return nil, ErrIncompleteAssertion.Wrap("not a position assertion")
	}
	if len(va.remaining) > 0 {
		return nil, ErrIncompleteAssertion.Wrapf("%d positions unpriced", len(va.remaining))
	}
	return &FinalizedPositions{
		accountID:      va.accountID,
		pnl:            va.pnlTotal,
		requiredMargin: va.marginTotal,
		notional:       va.notionalTotal,
		marks:          va.marks,
		count:          va.priced,
	}, nil
}

// FinalizedCollateral is the completed collateral total plus the per-marker
// marks it was computed at. Constructed only by FinalizeCollateral.
type FinalizedCollateral struct {
	accountID string
	total     math.Int
	marks     map[uint32]Mark
}

// AccountID returns the priced account
func (fc *FinalizedCollateral) AccountID() string { return fc.accountID }

// Total returns the summed normalized collateral value
func (fc *FinalizedCollateral) Total() math.Int { return fc.total }

// Mark returns the pinned price for a marker index
func (fc *FinalizedCollateral) Mark(index uint32) (Mark, bool) {
	m, ok := fc.marks[index]
	return m, ok
}

// FinalizedPositions is the completed position-side aggregate: signed PnL,
// required margin, and closed notional, plus per-position marks.
type FinalizedPositions struct {
	accountID      string
	pnl            math.Int
	requiredMargin math.Int
	notional       math.Int
	marks          map[uint32]Mark
	count          int
}

// AccountID returns the priced account
func (fp *FinalizedPositions) AccountID() string { return fp.accountID }

// PnL returns the summed signed PnL across positions
func (fp *FinalizedPositions) PnL() math.Int { return fp.pnl }

// RequiredMargin returns the summed required margin
func (fp *FinalizedPositions) RequiredMargin() math.Int { return fp.requiredMargin }

// Notional returns the summed position notional at the marks
func (fp *FinalizedPositions) Notional() math.Int { return fp.notional }

// Count returns how many positions were priced
func (fp *FinalizedPositions) Count() int { return fp.count }

// Mark returns the pinned price for a position index
func (fp *FinalizedPositions) Mark(index uint32) (Mark, bool) {
	m, ok := fp.marks[index]
	return m, ok
}
