package keeper

import (
	"testing"
	"time"

	"cosmossdk.io/math"

	"github.com/openalpha/margin-core/x/margin/types"
	programtypes "github.com/openalpha/margin-core/x/program/types"
)

// TestCollateralAssertionFlow walks the full collateral phase: start, price
// every marker, finalize
func TestCollateralAssertionFlow(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)

	// 1000 USDC (6 decimals) and 2 BTC (8 decimals).
	k.DepositCollateral(ctx, account.AccountID, 0, 1_000_000_000)
	k.DepositCollateral(ctx, account.AccountID, 1, 200_000_000)

	assertion, err := k.StartCollateralValueAssertion(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(assertion.Remaining()); got != 2 {
		t.Fatalf("expected 2 markers pending, got %d", got)
	}

	// Finalizing early must fail and leave the assertion usable.
	if _, err := assertion.FinalizeCollateral(); !types.ErrIncompleteAssertion.Is(err) {
		t.Fatalf("expected ErrIncompleteAssertion, got %v", err)
	}

	// USDC at $1.00 (expo -2), BTC at $50,000 (expo 0).
	if err := k.SetCollateralValue(ctx, assertion, 0, freshAttestation(ctx, feedID(0), 100, -2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := k.SetCollateralValue(ctx, assertion, 1, freshAttestation(ctx, feedID(1), 50_000, 0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finalized, err := assertion.FinalizeCollateral()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// USDC: 1_000_000_000 * 100 at 6+2 decimals -> 1000 * 10^8 shared.
	// BTC: 200_000_000 * 50_000 at 8+0 decimals -> 100_000 * 10^8 shared.
	expected := math.NewInt(101_000).Mul(math.NewInt(100_000_000))
	if !finalized.Total().Equal(expected) {
		t.Errorf("expected total %s, got %s", expected, finalized.Total())
	}

	mark, ok := finalized.Mark(1)
	if !ok || mark.Price != 50_000 || mark.Decimals != 0 {
		t.Errorf("unexpected pinned mark %+v", mark)
	}
}

// TestAssertionMisuse covers the exactly-once contract
func TestAssertionMisuse(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)
	k.DepositCollateral(ctx, account.AccountID, 0, 1_000_000)

	assertion, err := k.StartCollateralValueAssertion(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	att := freshAttestation(ctx, feedID(0), 100, -2)
	if err := k.SetCollateralValue(ctx, assertion, 0, att); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Same marker twice.
	if err := k.SetCollateralValue(ctx, assertion, 0, att); !types.ErrAlreadySet.Is(err) {
		t.Errorf("expected ErrAlreadySet, got %v", err)
	}
	// Marker the account does not hold.
	if err := k.SetCollateralValue(ctx, assertion, 5, att); !types.ErrUnknownAsset.Is(err) {
		t.Errorf("expected ErrUnknownAsset, got %v", err)
	}
	// Position value into a collateral assertion.
	if err := assertion.AddPositionValue(0, math.ZeroInt(), math.ZeroInt(), math.ZeroInt(), types.Mark{}); err == nil {
		t.Error("expected error for kind mismatch")
	}
}

// TestAssertionRejectsStalePrice tests the max-age check
func TestAssertionRejectsStalePrice(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)
	k.DepositCollateral(ctx, account.AccountID, 0, 1_000_000)

	assertion, err := k.StartCollateralValueAssertion(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale := types.PriceAttestation{
		FeedID:      feedID(0),
		Price:       100,
		Exponent:    -2,
		PublishTime: ctx.BlockTime().Add(-31 * time.Second).Unix(),
	}
	if err := k.SetCollateralValue(ctx, assertion, 0, stale); !types.ErrStalePrice.Is(err) {
		t.Errorf("expected ErrStalePrice, got %v", err)
	}

	// A rejected attestation leaves the marker pending.
	if !assertion.Pending(0) {
		t.Error("marker must remain pending after rejection")
	}
	if err := k.SetCollateralValue(ctx, assertion, 0, freshAttestation(ctx, feedID(0), 100, -2)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestAssertionRejectsFutureDatedPrice tests that a publish time ahead of the
// block clock is rejected rather than passing the staleness check with a
// negative age
func TestAssertionRejectsFutureDatedPrice(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)
	k.DepositCollateral(ctx, account.AccountID, 0, 1_000_000)

	assertion, err := k.StartCollateralValueAssertion(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	future := types.PriceAttestation{
		FeedID:      feedID(0),
		Price:       100,
		Exponent:    -2,
		PublishTime: ctx.BlockTime().Add(10 * time.Second).Unix(),
	}
	if err := k.SetCollateralValue(ctx, assertion, 0, future); !types.ErrInvalidAttestation.Is(err) {
		t.Errorf("expected ErrInvalidAttestation, got %v", err)
	}
	if !assertion.Pending(0) {
		t.Error("marker must remain pending after rejection")
	}
}

// TestAssertionRejectsFeedMismatch tests feed identity binding
func TestAssertionRejectsFeedMismatch(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)
	k.DepositCollateral(ctx, account.AccountID, 0, 1_000_000)

	assertion, err := k.StartCollateralValueAssertion(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// BTC feed supplied for the USDC marker.
	wrongFeed := freshAttestation(ctx, feedID(1), 100, -2)
	if err := k.SetCollateralValue(ctx, assertion, 0, wrongFeed); !programtypes.ErrFeedMismatch.Is(err) {
		t.Errorf("expected ErrFeedMismatch, got %v", err)
	}
}

// TestAssertionExponentConvention tests that the exponent sign is an
// explicit program parameter
func TestAssertionExponentConvention(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)
	k.DepositCollateral(ctx, account.AccountID, 0, 1_000_000)

	assertion, err := k.StartCollateralValueAssertion(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The test program uses the negative (Pyth) convention: a positive
	// exponent must be rejected, not silently reinterpreted.
	positiveExpo := freshAttestation(ctx, feedID(0), 100, 2)
	if err := k.SetCollateralValue(ctx, assertion, 0, positiveExpo); err == nil {
		t.Error("expected rejection of positive exponent under negative convention")
	}
	if err := k.SetCollateralValue(ctx, assertion, 0, freshAttestation(ctx, feedID(0), 100, -2)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestPositionAssertionPnL prices a long and a short and checks signed PnL,
// notional, and required margin
func TestPositionAssertionPnL(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)

	// Hand-build positions to pin entry prices: 1 BTC long from $50,000 and
	// 1 BTC short from $60,000, both at 2x leverage.
	account.Positions = []types.Position{
		{PositionID: "p-long", TokenIndex: 0, Direction: types.Long, RawSize: 100_000_000,
			Leverage: 200, EntryPrice: 50_000, EntryPriceDecimals: 0},
		{PositionID: "p-short", TokenIndex: 0, Direction: types.Short, RawSize: 100_000_000,
			Leverage: 200, EntryPrice: 60_000, EntryPriceDecimals: 0},
	}
	k.SetAccount(ctx, account)

	assertion, err := k.StartPositionValueAssertion(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Mark at $55,000.
	mark := freshAttestation(ctx, feedID(1), 55_000, 0)
	if err := k.SetPositionValue(ctx, assertion, 0, mark); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := k.SetPositionValue(ctx, assertion, 1, mark); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	finalized, err := assertion.FinalizePositions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Long gains 5000, short gains 5000: total PnL +10,000 in shared units.
	shared := math.NewInt(100_000_000)
	if expected := math.NewInt(10_000).Mul(shared); !finalized.PnL().Equal(expected) {
		t.Errorf("expected pnl %s, got %s", expected, finalized.PnL())
	}
	// Notional: 2 x 55,000.
	if expected := math.NewInt(110_000).Mul(shared); !finalized.Notional().Equal(expected) {
		t.Errorf("expected notional %s, got %s", expected, finalized.Notional())
	}
	// Required margin at 2x: 55,000.
	if expected := math.NewInt(55_000).Mul(shared); !finalized.RequiredMargin().Equal(expected) {
		t.Errorf("expected required margin %s, got %s", expected, finalized.RequiredMargin())
	}
	if finalized.Count() != 2 {
		t.Errorf("expected 2 positions priced, got %d", finalized.Count())
	}
}

// TestRequiredMarginRoundsUp tests the ceiling on the leverage division
func TestRequiredMarginRoundsUp(t *testing.T) {
	// notional 1001 at 3x leverage: 1001*100/300 = 333.67 -> 334
	got := requiredMargin(math.NewInt(1001), 300)
	if !got.Equal(math.NewInt(334)) {
		t.Errorf("expected 334, got %s", got)
	}
	// Exact division stays exact: 900*100/300 = 300
	got = requiredMargin(math.NewInt(900), 300)
	if !got.Equal(math.NewInt(300)) {
		t.Errorf("expected 300, got %s", got)
	}
}

// TestEmptyAssertionFinalizesTrivially tests that an account with no
// holdings finalizes immediately with zero totals
func TestEmptyAssertionFinalizesTrivially(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)

	assertion, err := k.StartPositionValueAssertion(ctx, account.AccountID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	finalized, err := assertion.FinalizePositions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !finalized.PnL().IsZero() || !finalized.RequiredMargin().IsZero() {
		t.Error("expected zero totals for empty assertion")
	}
}
