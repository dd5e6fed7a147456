package keeper

import (
	"fmt"
	stdmath "math"

	"cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/openalpha/margin-core/metrics"
	programtypes "github.com/openalpha/margin-core/x/program/types"
	"github.com/openalpha/margin-core/x/vault/types"
)

// Deposit adds coin to the vault and mints LP tokens to the depositor. The
// first deposit bootstraps 1:1; afterwards minting floors
// coin*supply/balance so a depositor can never mint more than their pro-rata
// share.
func (k *Keeper) Deposit(ctx sdk.Context, vaultID, depositor string, coin uint64) (uint64, error) {
	if coin == 0 {
		return 0, types.ErrZeroAmount.Wrap("deposit")
	}
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return 0, types.ErrVaultNotFound.Wrap(vaultID)
	}
	if vault.Deprecated {
		return 0, types.ErrVaultDeprecated.Wrap(vaultID)
	}
	if vault.CoinBalance > stdmath.MaxUint64-coin {
		return 0, types.ErrBalanceOverflow.Wrap(vaultID)
	}

	var minted uint64
	if vault.LPTokenSupply == 0 {
		minted = coin
	} else {
		// Shortfall socialization can drain the balance to zero while lp
		// stays outstanding; no pro-rata price exists then.
		if vault.CoinBalance == 0 {
			return 0, types.ErrVaultInsolvent.Wrap(vaultID)
		}
		// Intermediate product can exceed 64 bits.
		m := math.NewIntFromUint64(coin).
			Mul(math.NewIntFromUint64(vault.LPTokenSupply)).
			Quo(math.NewIntFromUint64(vault.CoinBalance))
		if !m.IsUint64() {
			return 0, types.ErrBalanceOverflow.Wrapf("lp mint %s", m)
		}
		minted = m.Uint64()
	}
	if vault.LPTokenSupply > stdmath.MaxUint64-minted {
		return 0, types.ErrBalanceOverflow.Wrap(vaultID)
	}

	vault.CoinBalance += coin
	vault.LPTokenSupply += minted
	k.SetVault(ctx, vault)
	k.setLPBalance(ctx, vaultID, depositor, k.GetLPBalance(ctx, vaultID, depositor)+minted)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("vault_transfer",
			sdk.NewAttribute("vault_id", vaultID),
			sdk.NewAttribute("kind", "deposit"),
			sdk.NewAttribute("owner", depositor),
			sdk.NewAttribute("coin", fmt.Sprintf("%d", coin)),
			sdk.NewAttribute("lp", fmt.Sprintf("%d", minted)),
		),
	)

	k.logger.Info("vault deposit", "vault_id", vaultID, "owner", depositor, "coin", coin, "lp_minted", minted)
	k.recordVaultMetrics(vault)
	return minted, nil
}

// Withdraw burns the holder's LP tokens and returns coin, floored at
// lp*balance/supply so a withdrawal can never drain more than pro-rata.
func (k *Keeper) Withdraw(ctx sdk.Context, vaultID, owner string, lp uint64) (uint64, error) {
	if lp == 0 {
		return 0, types.ErrZeroAmount.Wrap("withdrawal")
	}
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return 0, types.ErrVaultNotFound.Wrap(vaultID)
	}
	held := k.GetLPBalance(ctx, vaultID, owner)
	if lp > held {
		return 0, types.ErrInsufficientShares.Wrapf("holds %d lp, withdrawal of %d", held, lp)
	}

	returned := math.NewIntFromUint64(lp).
		Mul(math.NewIntFromUint64(vault.CoinBalance)).
		Quo(math.NewIntFromUint64(vault.LPTokenSupply))
	coin := returned.Uint64()

	vault.CoinBalance -= coin
	vault.LPTokenSupply -= lp
	k.SetVault(ctx, vault)
	k.setLPBalance(ctx, vaultID, owner, held-lp)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("vault_transfer",
			sdk.NewAttribute("vault_id", vaultID),
			sdk.NewAttribute("kind", "withdraw"),
			sdk.NewAttribute("owner", owner),
			sdk.NewAttribute("coin", fmt.Sprintf("%d", coin)),
			sdk.NewAttribute("lp", fmt.Sprintf("%d", lp)),
		),
	)

	k.logger.Info("vault withdrawal", "vault_id", vaultID, "owner", owner, "coin", coin, "lp_burned", lp)
	k.recordVaultMetrics(vault)
	return coin, nil
}

// ExtractCoin removes coin without burning LP (admin only). Used for
// protocol-level rebalancing; it dilutes share price, so it is capability
// gated at every call site.
func (k *Keeper) ExtractCoin(ctx sdk.Context, cap programtypes.AdminCap, programID, vaultID string, amount uint64) error {
	if err := k.requireAuthorized(ctx, cap, programID); err != nil {
		return err
	}
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return types.ErrVaultNotFound.Wrap(vaultID)
	}
	if amount > vault.CoinBalance {
		return types.ErrInsufficientCoin.Wrapf("balance %d, extraction of %d", vault.CoinBalance, amount)
	}

	vault.CoinBalance -= amount
	k.SetVault(ctx, vault)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("vault_transfer",
			sdk.NewAttribute("vault_id", vaultID),
			sdk.NewAttribute("kind", "admin_extract"),
			sdk.NewAttribute("coin", fmt.Sprintf("%d", amount)),
		),
	)

	k.logger.Info("vault coin extracted", "vault_id", vaultID, "amount", amount)
	k.recordVaultMetrics(vault)
	return nil
}

// DepositCoin adds coin without minting LP (admin only); raises share price
// for all holders
func (k *Keeper) DepositCoin(ctx sdk.Context, cap programtypes.AdminCap, programID, vaultID string, amount uint64) error {
	if err := k.requireAuthorized(ctx, cap, programID); err != nil {
		return err
	}
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return types.ErrVaultNotFound.Wrap(vaultID)
	}
	if vault.CoinBalance > stdmath.MaxUint64-amount {
		return types.ErrBalanceOverflow.Wrap(vaultID)
	}

	vault.CoinBalance += amount
	k.SetVault(ctx, vault)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("vault_transfer",
			sdk.NewAttribute("vault_id", vaultID),
			sdk.NewAttribute("kind", "admin_deposit"),
			sdk.NewAttribute("coin", fmt.Sprintf("%d", amount)),
		),
	)

	k.logger.Info("vault coin deposited", "vault_id", vaultID, "amount", amount)
	k.recordVaultMetrics(vault)
	return nil
}

// FundPayout debits coin to pay a winning position. Fails rather than
// overdrawing; settlement callers decide whether that aborts the flow.
func (k *Keeper) FundPayout(ctx sdk.Context, vaultID string, amount uint64) error {
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return types.ErrVaultNotFound.Wrap(vaultID)
	}
	if amount > vault.CoinBalance {
		return types.ErrInsufficientCoin.Wrapf("balance %d, payout of %d", vault.CoinBalance, amount)
	}

	vault.CoinBalance -= amount
	k.SetVault(ctx, vault)

	k.logger.Info("vault funded payout", "vault_id", vaultID, "amount", amount)
	k.recordVaultMetrics(vault)
	return nil
}

// AbsorbGain credits coin recovered from a losing position
func (k *Keeper) AbsorbGain(ctx sdk.Context, vaultID string, amount uint64) error {
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return types.ErrVaultNotFound.Wrap(vaultID)
	}
	if vault.CoinBalance > stdmath.MaxUint64-amount {
		return types.ErrBalanceOverflow.Wrap(vaultID)
	}

	vault.CoinBalance += amount
	k.SetVault(ctx, vault)

	k.logger.Info("vault absorbed gain", "vault_id", vaultID, "amount", amount)
	k.recordVaultMetrics(vault)
	return nil
}

// CoverShortfall socializes bad debt against the vault: debits up to the
// requested amount, floors the balance at zero, and returns what was covered
// and what remains unrecovered. Never fails on a shortfall, since liquidation
// must always complete.
func (k *Keeper) CoverShortfall(ctx sdk.Context, vaultID string, amount uint64) (covered, remainder uint64, err error) {
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return 0, amount, types.ErrVaultNotFound.Wrap(vaultID)
	}

	covered = amount
	if covered > vault.CoinBalance {
		covered = vault.CoinBalance
	}
	remainder = amount - covered

	vault.CoinBalance -= covered
	k.SetVault(ctx, vault)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("vault_transfer",
			sdk.NewAttribute("vault_id", vaultID),
			sdk.NewAttribute("kind", "shortfall"),
			sdk.NewAttribute("covered", fmt.Sprintf("%d", covered)),
			sdk.NewAttribute("remainder", fmt.Sprintf("%d", remainder)),
		),
	)

	k.logger.Info("vault covered shortfall",
		"vault_id", vaultID, "requested", amount, "covered", covered, "remainder", remainder)
	k.recordVaultMetrics(vault)
	return covered, remainder, nil
}

// SharePrice returns coin balance per LP token. Zero supply reports a zero
// price rather than an error; the vault is simply unseeded.
func (k *Keeper) SharePrice(ctx sdk.Context, vaultID string) (math.LegacyDec, error) {
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return math.LegacyZeroDec(), types.ErrVaultNotFound.Wrap(vaultID)
	}
	if vault.LPTokenSupply == 0 {
		return math.LegacyZeroDec(), nil
	}
	return math.LegacyNewDecFromInt(math.NewIntFromUint64(vault.CoinBalance)).
		Quo(math.LegacyNewDecFromInt(math.NewIntFromUint64(vault.LPTokenSupply))), nil
}

func (k *Keeper) recordVaultMetrics(vault *types.Vault) {
	sharePrice := 0.0
	if vault.LPTokenSupply > 0 {
		sharePrice = float64(vault.CoinBalance) / float64(vault.LPTokenSupply)
	}
	metrics.GetCollector().RecordVaultState(vault.VaultID, float64(vault.CoinBalance), sharePrice)
}
