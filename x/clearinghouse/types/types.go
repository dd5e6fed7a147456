package types

import (
	"cosmossdk.io/math"
)

// Module name and store key
const (
	ModuleName = "clearinghouse"
	StoreKey   = ModuleName
)

// BpsDenominator scales basis-point parameters
const BpsDenominator = 10_000

// LiquidationConfig parameterizes how liquidation proceeds are apportioned
type LiquidationConfig struct {
	// LiquidatorRewardBps of closed notional carved out for the caller
	LiquidatorRewardBps uint32 `json:"liquidator_reward_bps"`
	// ProtocolFeeBps of closed notional retained by the protocol
	ProtocolFeeBps uint32 `json:"protocol_fee_bps"`
}

// DefaultLiquidationConfig returns the standard parameters: 50 bps reward,
// 25 bps protocol fee
func DefaultLiquidationConfig() LiquidationConfig {
	return LiquidationConfig{
		LiquidatorRewardBps: 50,
		ProtocolFeeBps:      25,
	}
}

// Validate checks the configuration
func (c *LiquidationConfig) Validate() error {
	if c.LiquidatorRewardBps+c.ProtocolFeeBps >= BpsDenominator {
		return ErrInvalidLiquidationConfig.Wrapf(
			"reward %d bps + fee %d bps must stay below %d", c.LiquidatorRewardBps, c.ProtocolFeeBps, BpsDenominator)
	}
	return nil
}

// LiquidationOutcome is the single deterministic record a liquidation emits:
// what was closed, what was seized from which marker, which vaults absorbed
// bad debt, and the carve-outs. Amount maps are raw token units keyed by
// collateral marker index; vault shortfalls are coin units keyed by vault id.
type LiquidationOutcome struct {
	OutcomeID        string            `json:"outcome_id"`
	AccountID        string            `json:"account_id"`
	Liquidator       string            `json:"liquidator"`
	PositionsClosed  int               `json:"positions_closed"`
	RealizedPnL      math.Int          `json:"realized_pnl"`
	CollateralSeized map[uint32]uint64 `json:"collateral_seized"`
	VaultShortfall   map[string]uint64 `json:"vault_shortfall"`
	UnrecoveredDebt  uint64            `json:"unrecovered_debt"`
	LiquidatorReward map[uint32]uint64 `json:"liquidator_reward"`
	ProtocolFee      map[uint32]uint64 `json:"protocol_fee"`
	Timestamp        int64             `json:"timestamp"`
}
