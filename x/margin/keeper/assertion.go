package keeper

import (
	"fmt"
	"time"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/openalpha/margin-core/metrics"
	"github.com/openalpha/margin-core/pkg/fixedpoint"
	"github.com/openalpha/margin-core/x/margin/types"
	programtypes "github.com/openalpha/margin-core/x/program/types"
)

// validateAttestation checks one attested price against a catalog token:
// feed identity, staleness against the block clock, and the exponent
// convention. Returns the mark to pin. Validation happens before any
// mutation, so a rejection leaves all state untouched.
func (k *Keeper) validateAttestation(
	ctx sdk.Context,
	program *programtypes.Program,
	token *programtypes.TokenIdentifier,
	att types.PriceAttestation,
) (types.Mark, error) {
	if att.Price == 0 {
		return types.Mark{}, types.ErrInvalidAttestation.Wrapf("zero price for feed %s", att.FeedID)
	}
	if err := k.programKeeper.ValidateFeedMatch(token, att.FeedID); err != nil {
		return types.Mark{}, err
	}
	decimals, err := program.PriceDecimals(att.Exponent)
	if err != nil {
		return types.Mark{}, err
	}

	age := ctx.BlockTime().Sub(time.Unix(att.PublishTime, 0))
	if age < 0 {
		return types.Mark{}, types.ErrInvalidAttestation.Wrapf(
			"feed %s published %s after block time", att.FeedID, -age)
	}
	if age > program.MaxPriceAge {
		metrics.GetCollector().RecordStalePriceRejection(program.ProgramID, token.TokenKey)
		return types.Mark{}, types.ErrStalePrice.Wrapf(
			"feed %s published %s ago, max age %s", att.FeedID, age, program.MaxPriceAge)
	}

	metrics.GetCollector().RecordAttestation(program.ProgramID, token.TokenKey)
	return types.Mark{Price: att.Price, Decimals: decimals}, nil
}

// recordIfComplete observes start-to-finalize latency once the last index is
// priced
func recordIfComplete(assertion *types.ValueAssertion) {
	if len(assertion.Remaining()) > 0 {
		return
	}
	elapsedMs := float64(time.Since(assertion.StartedAt()).Nanoseconds()) / 1e6
	metrics.GetCollector().RecordAssertionLatency(
		assertion.ProgramID(), assertion.Kind().String(), elapsedMs)
}

// StartCollateralValueAssertion opens the collateral phase of a solvency
// check: every funded marker must be priced before the total can be used.
func (k *Keeper) StartCollateralValueAssertion(ctx sdk.Context, accountID string) (*types.ValueAssertion, error) {
	account, _, err := k.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	assertion := types.NewValueAssertion(
		types.CollateralAssertion, accountID, account.ProgramID, account.FundedCollateralIndices())

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("start_collateral_value_assertion",
			sdk.NewAttribute("account_id", accountID),
			sdk.NewAttribute("markers", fmt.Sprintf("%d", len(assertion.Remaining()))),
		),
	)
	return assertion, nil
}

// StartPositionValueAssertion opens the position phase
func (k *Keeper) StartPositionValueAssertion(ctx sdk.Context, accountID string) (*types.ValueAssertion, error) {
	account, _, err := k.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	assertion := types.NewValueAssertion(
		types.PositionAssertion, accountID, account.ProgramID, account.PositionIndices())

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("start_position_value_assertion",
			sdk.NewAttribute("account_id", accountID),
			sdk.NewAttribute("positions", fmt.Sprintf("%d", len(assertion.Remaining()))),
		),
	)
	return assertion, nil
}

// SetCollateralValue prices one collateral marker into the assertion. The
// marker's value is its raw balance times the attested price, floor-normalized
// to shared decimals so collateral is never overvalued.
func (k *Keeper) SetCollateralValue(
	ctx sdk.Context,
	assertion *types.ValueAssertion,
	markerIndex uint32,
	att types.PriceAttestation,
) error {
	account, program, err := k.loadAccount(ctx, assertion.AccountID())
	if err != nil {
		return err
	}
	if int(markerIndex) >= len(account.Collateral) {
		return types.ErrUnknownAsset.Wrapf("marker index %d", markerIndex)
	}
	marker := account.Collateral[markerIndex]
	token, err := program.CollateralToken(marker.TokenIndex)
	if err != nil {
		return err
	}

	mark, err := k.validateAttestation(ctx, program, token, att)
	if err != nil {
		return err
	}

	value, err := fixedpoint.NormalizeRawValue(
		marker.RawAmount, mark.Price, token.Decimals, mark.Decimals, program.SharedDecimals)
	if err != nil {
		return err
	}
	if err := assertion.AddCollateralValue(markerIndex, value, mark); err != nil {
		return err
	}
	recordIfComplete(assertion)
	return nil
}

// SetPositionValue prices one open position into the assertion: signed PnL at
// the mark, the notional, and the required margin. PnL is the difference of
// the floor-normalized mark and entry values; required margin is
// ceil(notional / leverage) so rounding never under-requires margin.
func (k *Keeper) SetPositionValue(
	ctx sdk.Context,
	assertion *types.ValueAssertion,
	positionIndex uint32,
	att types.PriceAttestation,
) error {
	account, program, err := k.loadAccount(ctx, assertion.AccountID())
	if err != nil {
		return err
	}
	if int(positionIndex) >= len(account.Positions) {
		return types.ErrUnknownAsset.Wrapf("position index %d", positionIndex)
	}
	position := account.Positions[positionIndex]
	token, err := program.PositionToken(position.TokenIndex)
	if err != nil {
		return err
	}

	mark, err := k.validateAttestation(ctx, program, token, att)
	if err != nil {
		return err
	}

	pnl, notional, err := positionPnL(&position, token.Decimals, mark, program.SharedDecimals)
	if err != nil {
		return err
	}
	required := requiredMargin(notional, position.Leverage)
	if err := assertion.AddPositionValue(positionIndex, pnl, required, notional, mark); err != nil {
		return err
	}
	recordIfComplete(assertion)
	return nil
}

// positionPnL returns the signed PnL and the notional of a position at a
// mark, both in shared decimals
func positionPnL(position *types.Position, tokenDecimals uint8, mark types.Mark, sharedDecimals uint8) (pnl, notional math.Int, err error) {
	markValue, err := fixedpoint.NormalizeRawValue(
		position.RawSize, mark.Price, tokenDecimals, mark.Decimals, sharedDecimals)
	if err != nil {
		return math.ZeroInt(), math.ZeroInt(), err
	}
	entryValue, err := fixedpoint.NormalizeRawValue(
		position.RawSize, position.EntryPrice, tokenDecimals, position.EntryPriceDecimals, sharedDecimals)
	if err != nil {
		return math.ZeroInt(), math.ZeroInt(), err
	}

	if position.Direction == types.Long {
		pnl = markValue.Sub(entryValue)
	} else {
		pnl = entryValue.Sub(markValue)
	}
	return pnl, markValue, nil
}

// requiredMargin is ceil(notional * LeverageScale / leverage)
func requiredMargin(notional math.Int, leverage uint32) math.Int {
	lev := math.NewInt(int64(leverage))
	scaled := notional.Mul(math.NewInt(int64(types.LeverageScale)))
	q := scaled.Quo(lev)
	if !q.Mul(lev).Equal(scaled) {
		q = q.Add(math.OneInt())
	}
	return q
}
