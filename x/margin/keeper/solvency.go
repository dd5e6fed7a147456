package keeper

import (
	"cosmossdk.io/math"

	"github.com/openalpha/margin-core/x/margin/types"
)

// The solvency engine only accepts finalized totals. It never touches the
// oracle: equity and required margin are always evaluated against the single
// consistent set of marks the assertions were priced at.

// Equity is collateral value plus summed signed position PnL
func Equity(collateral *types.FinalizedCollateral, positions *types.FinalizedPositions) math.Int {
	return collateral.Total().Add(positions.PnL())
}

// IsLiquidatable reports whether equity has fallen below required margin
func IsLiquidatable(collateral *types.FinalizedCollateral, positions *types.FinalizedPositions) bool {
	return Equity(collateral, positions).LT(positions.RequiredMargin())
}

// MarginShortfall returns required margin minus equity: positive when the
// account is liquidatable, zero or negative when solvent. Surfaced to callers
// so clients can explain by how much a check failed.
func MarginShortfall(collateral *types.FinalizedCollateral, positions *types.FinalizedPositions) math.Int {
	return positions.RequiredMargin().Sub(Equity(collateral, positions))
}

// checkSolvencyWith re-runs the solvency test treating a hypothetical extra
// position as already open. Used by the open-position pre-check.
func checkSolvencyWith(
	collateral *types.FinalizedCollateral,
	positions *types.FinalizedPositions,
	extraMargin math.Int,
) error {
	equity := Equity(collateral, positions)
	required := positions.RequiredMargin().Add(extraMargin)
	if equity.LT(required) {
		return types.ErrInsufficientMargin.Wrapf(
			"equity %s below required margin %s, shortfall %s", equity, required, required.Sub(equity))
	}
	return nil
}
