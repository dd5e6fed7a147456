package keeper

import (
	"fmt"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"

	"github.com/openalpha/margin-core/pkg/fixedpoint"
	"github.com/openalpha/margin-core/x/margin/types"
	programtypes "github.com/openalpha/margin-core/x/program/types"
)

// SettlementTokenIndex is the collateral catalog index position PnL settles
// in. The first listed collateral token is the program's settlement currency.
const SettlementTokenIndex uint32 = 0

// OpenPosition opens a leveraged position after a solvency pre-check. The
// caller supplies finalized totals over the account's current holdings and a
// fresh attestation for the market token; the check treats the new position
// as already open and rejects with InsufficientMargin if the account would be
// immediately liquidatable.
func (k *Keeper) OpenPosition(
	ctx sdk.Context,
	accountID string,
	tokenIndex uint32,
	direction types.Direction,
	rawSize uint64,
	leverage uint32,
	entry types.PriceAttestation,
	collateral *types.FinalizedCollateral,
	positions *types.FinalizedPositions,
) (*types.Position, error) {
	if rawSize == 0 {
		return nil, types.ErrInvalidQuantity.Wrap("position of zero size")
	}
	if leverage < types.MinLeverage || leverage > types.MaxLeverage {
		return nil, types.ErrInvalidLeverage.Wrapf("leverage %d outside [%d, %d]", leverage, types.MinLeverage, types.MaxLeverage)
	}
	account, program, err := k.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if collateral.AccountID() != accountID || positions.AccountID() != accountID {
		return nil, types.ErrAssertionMismatch.Wrapf("totals priced for %s/%s", collateral.AccountID(), positions.AccountID())
	}
	token, err := program.PositionToken(tokenIndex)
	if err != nil {
		return nil, err
	}
	if token.Deprecated {
		return nil, programtypes.ErrTokenDeprecated.Wrapf("position token %s", token.TokenKey)
	}

	mark, err := k.validateAttestation(ctx, program, token, entry)
	if err != nil {
		return nil, err
	}
	notional, err := fixedpoint.NormalizeRawValue(
		rawSize, mark.Price, token.Decimals, mark.Decimals, program.SharedDecimals)
	if err != nil {
		return nil, err
	}
	if err := checkSolvencyWith(collateral, positions, requiredMargin(notional, leverage)); err != nil {
		return nil, err
	}

	position := types.Position{
		PositionID:         uuid.NewString(),
		TokenIndex:         tokenIndex,
		Direction:          direction,
		RawSize:            rawSize,
		Leverage:           leverage,
		EntryPrice:         mark.Price,
		EntryPriceDecimals: mark.Decimals,
		OpenedAt:           ctx.BlockTime().Unix(),
	}
	account.Positions = append(account.Positions, position)
	k.SetAccount(ctx, account)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("open_position",
			sdk.NewAttribute("account_id", accountID),
			sdk.NewAttribute("position_id", position.PositionID),
			sdk.NewAttribute("token_key", token.TokenKey),
			sdk.NewAttribute("direction", direction.String()),
			sdk.NewAttribute("size", fmt.Sprintf("%d", rawSize)),
			sdk.NewAttribute("leverage", fmt.Sprintf("%d", leverage)),
			sdk.NewAttribute("entry_price", fmt.Sprintf("%d", mark.Price)),
		),
	)

	k.logger.Info("position opened",
		"account_id", accountID, "position_id", position.PositionID,
		"token_key", token.TokenKey, "direction", direction.String(),
		"size", rawSize, "leverage", leverage)
	return &position, nil
}

// ClosePosition closes one position at a fresh mark and settles its PnL in
// the program's settlement token against an LP vault. A loss is seized from
// the account's settlement-token markers in marker order (minimal covering
// amounts, so rounding favors the protocol) and absorbed by the vault; a
// profit is funded by the vault and credited as a new marker, floored so the
// vault never overpays. The whole settlement is all-or-nothing.
func (k *Keeper) ClosePosition(
	ctx sdk.Context,
	accountID string,
	positionID string,
	vaultID string,
	positionPrice types.PriceAttestation,
	settlementPrice types.PriceAttestation,
) (math.Int, error) {
	account, program, err := k.loadAccount(ctx, accountID)
	if err != nil {
		return math.ZeroInt(), err
	}
	idx := account.FindPosition(positionID)
	if idx < 0 {
		return math.ZeroInt(), types.ErrPositionNotFound.Wrap(positionID)
	}
	position := account.Positions[idx]

	posToken, err := program.PositionToken(position.TokenIndex)
	if err != nil {
		return math.ZeroInt(), err
	}
	settToken, err := program.CollateralToken(SettlementTokenIndex)
	if err != nil {
		return math.ZeroInt(), err
	}
	mark, err := k.validateAttestation(ctx, program, posToken, positionPrice)
	if err != nil {
		return math.ZeroInt(), err
	}
	settMark, err := k.validateAttestation(ctx, program, settToken, settlementPrice)
	if err != nil {
		return math.ZeroInt(), err
	}

	pnl, _, err := positionPnL(&position, posToken.Decimals, mark, program.SharedDecimals)
	if err != nil {
		return math.ZeroInt(), err
	}

	cacheCtx, write := ctx.CacheContext()

	switch {
	case pnl.IsNegative():
		recovered, err := k.seizeSettlementLoss(account, program, settToken.Decimals, settMark, pnl.Neg())
		if err != nil {
			return math.ZeroInt(), err
		}
		if err := k.vaultKeeper.AbsorbGain(cacheCtx, vaultID, recovered); err != nil {
			return math.ZeroInt(), err
		}
	case pnl.IsPositive():
		payout, err := fixedpoint.AmountForValueAtMost(
			settToken.Decimals, settMark.Price, settMark.Decimals, pnl, program.SharedDecimals)
		if err != nil {
			return math.ZeroInt(), err
		}
		paidValue, err := fixedpoint.NormalizeRawValue(
			payout, settMark.Price, settToken.Decimals, settMark.Decimals, program.SharedDecimals)
		if err != nil {
			return math.ZeroInt(), err
		}
		if !paidValue.IsUint64() {
			return math.ZeroInt(), fixedpoint.ErrOverflow.Wrapf("payout value %s", paidValue)
		}
		if err := k.vaultKeeper.FundPayout(cacheCtx, vaultID, paidValue.Uint64()); err != nil {
			return math.ZeroInt(), err
		}
		if payout > 0 {
			account.Collateral = append(account.Collateral, types.CollateralRecord{
				TokenIndex: SettlementTokenIndex,
				RawAmount:  payout,
			})
		}
	}

	account.Positions = append(account.Positions[:idx], account.Positions[idx+1:]...)
	k.SetAccount(cacheCtx, account)
	write()

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("close_position",
			sdk.NewAttribute("account_id", accountID),
			sdk.NewAttribute("position_id", positionID),
			sdk.NewAttribute("token_key", posToken.TokenKey),
			sdk.NewAttribute("realized_pnl", pnl.String()),
			sdk.NewAttribute("mark_price", fmt.Sprintf("%d", mark.Price)),
		),
	)

	k.logger.Info("position closed",
		"account_id", accountID, "position_id", positionID, "realized_pnl", pnl.String())
	return pnl, nil
}

// seizeSettlementLoss deducts a loss value from the account's
// settlement-token markers in marker order. Mutates the in-memory account
// only; the caller persists. Returns the recovered value, which is at least
// the loss, and fails with InsufficientBalance if the markers cannot cover it.
func (k *Keeper) seizeSettlementLoss(
	account *types.Account,
	program *programtypes.Program,
	settDecimals uint8,
	settMark types.Mark,
	loss math.Int,
) (uint64, error) {
	remaining := loss
	recovered := math.ZeroInt()

	for i := range account.Collateral {
		marker := &account.Collateral[i]
		if marker.TokenIndex != SettlementTokenIndex || marker.RawAmount == 0 {
			continue
		}
		need, err := fixedpoint.AmountForTargetValue(
			settDecimals, settMark.Price, settMark.Decimals, remaining, program.SharedDecimals)
		if err != nil {
			return 0, err
		}
		take := need
		if take > marker.RawAmount {
			take = marker.RawAmount
		}
		value, err := fixedpoint.NormalizeRawValue(
			take, settMark.Price, settDecimals, settMark.Decimals, program.SharedDecimals)
		if err != nil {
			return 0, err
		}
		marker.RawAmount -= take
		recovered = recovered.Add(value)
		remaining = remaining.Sub(value)
		if !remaining.IsPositive() {
			break
		}
	}

	if remaining.IsPositive() {
		return 0, types.ErrInsufficientBalance.Wrapf(
			"settlement collateral short by %s to cover loss %s", remaining, loss)
	}
	if !recovered.IsUint64() {
		return 0, fixedpoint.ErrOverflow.Wrapf("recovered value %s", recovered)
	}
	return recovered.Uint64(), nil
}
