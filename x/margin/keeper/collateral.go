package keeper

import (
	"fmt"
	"math"

	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/openalpha/margin-core/pkg/fixedpoint"
	"github.com/openalpha/margin-core/x/margin/types"
	programtypes "github.com/openalpha/margin-core/x/program/types"
)

// DepositCollateral posts a new collateral marker on the account. Each
// deposit creates its own marker; markers of the same token are merged
// explicitly through CombineCollateral.
func (k *Keeper) DepositCollateral(ctx sdk.Context, accountID string, tokenIndex uint32, amount uint64) (uint32, error) {
	if amount == 0 {
		return 0, types.ErrInvalidQuantity.Wrap("deposit of zero")
	}
	account, program, err := k.loadAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	token, err := program.CollateralToken(tokenIndex)
	if err != nil {
		return 0, err
	}
	if token.Deprecated {
		return 0, programtypes.ErrTokenDeprecated.Wrapf("collateral token %s", token.TokenKey)
	}

	account.Collateral = append(account.Collateral, types.CollateralRecord{
		TokenIndex: tokenIndex,
		RawAmount:  amount,
	})
	k.SetAccount(ctx, account)
	markerIndex := uint32(len(account.Collateral) - 1)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("collateral_deposit",
			sdk.NewAttribute("account_id", accountID),
			sdk.NewAttribute("token_key", token.TokenKey),
			sdk.NewAttribute("marker_index", fmt.Sprintf("%d", markerIndex)),
			sdk.NewAttribute("amount", fmt.Sprintf("%d", amount)),
		),
	)

	k.logger.Info("collateral deposited",
		"account_id", accountID, "token_key", token.TokenKey, "amount", amount, "marker_index", markerIndex)
	return markerIndex, nil
}

// WithdrawCollateral releases raw units from one marker. While the account
// has open positions the caller must supply finalized totals proving the
// account stays solvent after the release; the withdrawn value is priced at
// the marker's pinned mark.
func (k *Keeper) WithdrawCollateral(
	ctx sdk.Context,
	accountID string,
	markerIndex uint32,
	amount uint64,
	collateral *types.FinalizedCollateral,
	positions *types.FinalizedPositions,
) error {
	if amount == 0 {
		return types.ErrInvalidQuantity.Wrap("withdrawal of zero")
	}
	account, program, err := k.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if int(markerIndex) >= len(account.Collateral) {
		return types.ErrUnknownAsset.Wrapf("marker index %d", markerIndex)
	}
	marker := &account.Collateral[markerIndex]
	if marker.RawAmount < amount {
		return types.ErrInsufficientBalance.Wrapf("marker holds %d, withdrawal of %d", marker.RawAmount, amount)
	}

	if len(account.Positions) > 0 {
		if collateral == nil || positions == nil {
			return types.ErrIncompleteAssertion.Wrap("withdrawal with open positions requires finalized totals")
		}
		if collateral.AccountID() != accountID || positions.AccountID() != accountID {
			return types.ErrAssertionMismatch.Wrapf("totals priced for %s/%s", collateral.AccountID(), positions.AccountID())
		}
		mark, ok := collateral.Mark(markerIndex)
		if !ok {
			return types.ErrUnknownAsset.Wrapf("no mark for marker %d", markerIndex)
		}
		token, err := program.CollateralToken(marker.TokenIndex)
		if err != nil {
			return err
		}
		// Value the released units at the same snapshot the totals used.
		released, err := fixedpoint.NormalizeRawValue(amount, mark.Price, token.Decimals, mark.Decimals, program.SharedDecimals)
		if err != nil {
			return err
		}
		equity := collateral.Total().Sub(released).Add(positions.PnL())
		required := positions.RequiredMargin()
		if equity.LT(required) {
			return types.ErrInsufficientMargin.Wrapf("equity after withdrawal %s below required margin %s", equity, required)
		}
	}

	marker.RawAmount -= amount
	k.SetAccount(ctx, account)

	token, _ := program.CollateralToken(marker.TokenIndex)
	ctx.EventManager().EmitEvent(
		sdk.NewEvent("collateral_withdraw",
			sdk.NewAttribute("account_id", accountID),
			sdk.NewAttribute("token_key", token.TokenKey),
			sdk.NewAttribute("marker_index", fmt.Sprintf("%d", markerIndex)),
			sdk.NewAttribute("amount", fmt.Sprintf("%d", amount)),
		),
	)

	k.logger.Info("collateral withdrawn",
		"account_id", accountID, "marker_index", markerIndex, "amount", amount)
	return nil
}

// CombineCollateral merges marker src into marker dst. Both must reference
// the same token. The src marker is removed, so later marker indices shift
// down by one; callers holding marker indices must re-enumerate.
func (k *Keeper) CombineCollateral(ctx sdk.Context, accountID string, dst, src uint32) error {
	account, program, err := k.loadAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if dst == src {
		return types.ErrInvalidQuantity.Wrap("combine marker with itself")
	}
	if int(dst) >= len(account.Collateral) || int(src) >= len(account.Collateral) {
		return types.ErrUnknownAsset.Wrapf("marker indices %d, %d", dst, src)
	}
	dstMarker := &account.Collateral[dst]
	srcMarker := account.Collateral[src]
	if dstMarker.TokenIndex != srcMarker.TokenIndex {
		return types.ErrUnknownAsset.Wrapf("markers hold different tokens %d, %d", dstMarker.TokenIndex, srcMarker.TokenIndex)
	}
	if dstMarker.RawAmount > math.MaxUint64-srcMarker.RawAmount {
		return fixedpoint.ErrOverflow.Wrap("combined marker exceeds uint64")
	}

	tokenIndex := dstMarker.TokenIndex
	dstMarker.RawAmount += srcMarker.RawAmount
	account.Collateral = append(account.Collateral[:src], account.Collateral[src+1:]...)
	k.SetAccount(ctx, account)

	token, _ := program.CollateralToken(tokenIndex)
	ctx.EventManager().EmitEvent(
		sdk.NewEvent("collateral_combine",
			sdk.NewAttribute("account_id", accountID),
			sdk.NewAttribute("token_key", token.TokenKey),
			sdk.NewAttribute("dst_marker", fmt.Sprintf("%d", dst)),
			sdk.NewAttribute("src_marker", fmt.Sprintf("%d", src)),
		),
	)

	k.logger.Info("collateral combined", "account_id", accountID, "dst", dst, "src", src)
	return nil
}
