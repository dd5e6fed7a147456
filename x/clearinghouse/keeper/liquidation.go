package keeper

import (
	"fmt"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/openalpha/margin-core/metrics"
	"github.com/openalpha/margin-core/pkg/fixedpoint"
	"github.com/openalpha/margin-core/x/clearinghouse/types"
	marginkeeper "github.com/openalpha/margin-core/x/margin/keeper"
	margintypes "github.com/openalpha/margin-core/x/margin/types"
	programtypes "github.com/openalpha/margin-core/x/program/types"
)

// Liquidate settles an insolvent account: closes every open position at the
// marks the finalized totals were priced at, seizes collateral in marker
// order to cover the realized loss, socializes any bad debt against the
// supplied vaults, and carves liquidator reward and protocol fee from the
// remaining collateral. The whole settlement runs inside a cache context and
// commits only on full success; a non-liquidatable account is rejected with
// no state change.
func (k *Keeper) Liquidate(
	ctx sdk.Context,
	accountID string,
	liquidator string,
	collateral *margintypes.FinalizedCollateral,
	positions *margintypes.FinalizedPositions,
	vaultIDs []string,
) (*types.LiquidationOutcome, error) {
	account := k.marginKeeper.GetAccount(ctx, accountID)
	if account == nil {
		return nil, margintypes.ErrAccountNotFound.Wrap(accountID)
	}
	if collateral.AccountID() != accountID || positions.AccountID() != accountID {
		return nil, margintypes.ErrAssertionMismatch.Wrapf(
			"totals priced for %s/%s", collateral.AccountID(), positions.AccountID())
	}
	if positions.Count() != len(account.Positions) {
		return nil, margintypes.ErrAssertionMismatch.Wrapf(
			"totals cover %d positions, account holds %d", positions.Count(), len(account.Positions))
	}
	program := k.programKeeper.GetProgram(ctx, account.ProgramID)
	if program == nil {
		return nil, programtypes.ErrProgramNotFound.Wrap(account.ProgramID)
	}

	liquidatable := marginkeeper.IsLiquidatable(collateral, positions)
	metrics.GetCollector().RecordSolvencyCheck(account.ProgramID, liquidatable)
	if !liquidatable {
		surplus := marginkeeper.Equity(collateral, positions).Sub(positions.RequiredMargin())
		return nil, types.ErrNotLiquidatable.Wrapf(
			"equity exceeds required margin by %s", surplus)
	}

	cacheCtx, write := ctx.CacheContext()

	realized := positions.PnL()
	outcome := &types.LiquidationOutcome{
		OutcomeID:        k.generateOutcomeID(cacheCtx),
		AccountID:        accountID,
		Liquidator:       liquidator,
		PositionsClosed:  len(account.Positions),
		RealizedPnL:      realized,
		CollateralSeized: make(map[uint32]uint64),
		VaultShortfall:   make(map[string]uint64),
		LiquidatorReward: make(map[uint32]uint64),
		ProtocolFee:      make(map[uint32]uint64),
		Timestamp:        ctx.BlockTime().Unix(),
	}

	closedPositions := account.Positions
	account.Positions = nil

	// Realized loss comes out of posted collateral first, in marker order.
	lossRemaining := math.ZeroInt()
	if realized.IsNegative() {
		var err error
		lossRemaining, err = k.seizeByValue(account, program, collateral, realized.Neg(), outcome.CollateralSeized)
		if err != nil {
			return nil, err
		}
	}

	// Collateral exhausted: socialize the rest against the funding vaults.
	badDebt := lossRemaining.IsPositive()
	if badDebt {
		for _, vaultID := range vaultIDs {
			if !lossRemaining.IsPositive() {
				break
			}
			if !lossRemaining.IsUint64() {
				return nil, fixedpoint.ErrOverflow.Wrapf("vault shortfall %s", lossRemaining)
			}
			covered, _, err := k.vaultKeeper.CoverShortfall(cacheCtx, vaultID, lossRemaining.Uint64())
			if err != nil {
				return nil, err
			}
			if covered > 0 {
				outcome.VaultShortfall[vaultID] += covered
				lossRemaining = lossRemaining.Sub(math.NewIntFromUint64(covered))
			}
		}
		if lossRemaining.IsPositive() {
			// Even the vaults could not cover everything. Record the
			// remainder; the settlement still completes.
			if !lossRemaining.IsUint64() {
				return nil, fixedpoint.ErrOverflow.Wrapf("unrecovered debt %s", lossRemaining)
			}
			outcome.UnrecoveredDebt = lossRemaining.Uint64()
		}
	}

	// Reward and fee only when the account's own collateral covered the loss.
	if !badDebt {
		notional := positions.Notional()
		reward := bpsOf(notional, k.config.LiquidatorRewardBps)
		fee := bpsOf(notional, k.config.ProtocolFeeBps)
		if _, err := k.seizeByValue(account, program, collateral, reward, outcome.LiquidatorReward); err != nil {
			return nil, err
		}
		if _, err := k.seizeByValue(account, program, collateral, fee, outcome.ProtocolFee); err != nil {
			return nil, err
		}
	}

	k.marginKeeper.SetAccount(cacheCtx, account)
	k.SetOutcome(cacheCtx, outcome)
	write()

	for _, position := range closedPositions {
		ctx.EventManager().EmitEvent(
			sdk.NewEvent("position_liquidated",
				sdk.NewAttribute("account_id", accountID),
				sdk.NewAttribute("position_id", position.PositionID),
				sdk.NewAttribute("outcome_id", outcome.OutcomeID),
				sdk.NewAttribute("liquidator", liquidator),
			),
		)
	}
	for markerIndex, seized := range outcome.CollateralSeized {
		ctx.EventManager().EmitEvent(
			sdk.NewEvent("collateral_marker_liquidated",
				sdk.NewAttribute("account_id", accountID),
				sdk.NewAttribute("marker_index", fmt.Sprintf("%d", markerIndex)),
				sdk.NewAttribute("seized", fmt.Sprintf("%d", seized)),
				sdk.NewAttribute("outcome_id", outcome.OutcomeID),
			),
		)
	}

	k.logger.Info("account liquidated",
		"account_id", accountID,
		"outcome_id", outcome.OutcomeID,
		"positions_closed", outcome.PositionsClosed,
		"realized_pnl", realized.String(),
		"unrecovered_debt", outcome.UnrecoveredDebt,
		"liquidator", liquidator,
	)
	metrics.GetCollector().RecordLiquidation(
		account.ProgramID, outcome.PositionsClosed, float64(outcome.UnrecoveredDebt))

	return outcome, nil
}

// seizeByValue deducts up to target value from the account's collateral
// markers in marker order, pricing each marker at its pinned mark. Seized raw
// amounts are the minimal covering amounts, so rounding never favors the
// account. Returns the value still uncovered after all markers.
func (k *Keeper) seizeByValue(
	account *margintypes.Account,
	program *programtypes.Program,
	collateral *margintypes.FinalizedCollateral,
	target math.Int,
	out map[uint32]uint64,
) (math.Int, error) {
	remaining := target
	for i := range account.Collateral {
		if !remaining.IsPositive() {
			break
		}
		marker := &account.Collateral[i]
		if marker.RawAmount == 0 {
			continue
		}
		mark, ok := collateral.Mark(uint32(i))
		if !ok {
			// Marker was empty when the assertion started; nothing priced it.
			continue
		}
		token, err := program.CollateralToken(marker.TokenIndex)
		if err != nil {
			return remaining, err
		}

		need, err := fixedpoint.AmountForTargetValue(
			token.Decimals, mark.Price, mark.Decimals, remaining, program.SharedDecimals)
		if err != nil {
			return remaining, err
		}
		take := need
		if take > marker.RawAmount {
			take = marker.RawAmount
		}
		value, err := fixedpoint.NormalizeRawValue(
			take, mark.Price, token.Decimals, mark.Decimals, program.SharedDecimals)
		if err != nil {
			return remaining, err
		}

		marker.RawAmount -= take
		out[uint32(i)] += take
		remaining = remaining.Sub(value)
	}
	if remaining.IsNegative() {
		remaining = math.ZeroInt()
	}
	return remaining, nil
}

// bpsOf returns value * bps / 10000, floored
func bpsOf(value math.Int, bps uint32) math.Int {
	return value.Mul(math.NewInt(int64(bps))).Quo(math.NewInt(types.BpsDenominator))
}
