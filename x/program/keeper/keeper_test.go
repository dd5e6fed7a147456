package keeper

import (
	"strings"
	"testing"
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/store"
	"cosmossdk.io/store/metrics"
	storetypes "cosmossdk.io/store/types"
	cmtproto "github.com/cometbft/cometbft/proto/tendermint/types"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/openalpha/margin-core/x/program/types"
)

// setupKeeper creates a test keeper with an in-memory store
func setupKeeper(tb testing.TB) (*Keeper, sdk.Context) {
	tb.Helper()

	storeKey := storetypes.NewKVStoreKey(types.StoreKey)
	db := dbm.NewMemDB()
	stateStore := store.NewCommitMultiStore(db, log.NewNopLogger(), metrics.NewNoOpMetrics())
	stateStore.MountStoreWithDB(storeKey, storetypes.StoreTypeIAVL, db)
	if err := stateStore.LoadLatestVersion(); err != nil {
		tb.Fatalf("failed to load store: %v", err)
	}

	ctx := sdk.NewContext(stateStore, cmtproto.Header{}, false, log.NewNopLogger())

	interfaceRegistry := codectypes.NewInterfaceRegistry()
	cdc := codec.NewProtoCodec(interfaceRegistry)

	return NewKeeper(cdc, storeKey, log.NewNopLogger()), ctx
}

func feedID(seed byte) string {
	return strings.Repeat(string([]byte{'a' + seed%6}), 64)
}

func testConfig() types.ProgramConfig {
	return types.ProgramConfig{
		ProgramID:      "margin-main",
		Authority:      "authority1",
		SharedDecimals: 9,
		SupportedCollateral: []types.TokenIdentifier{
			{TokenKey: "USDC", Decimals: 6, PriceFeedID: feedID(0), OracleKind: types.OracleKindPyth},
			{TokenKey: "BTC", Decimals: 8, PriceFeedID: feedID(1), OracleKind: types.OracleKindPyth},
		},
		SupportedPositions: []types.TokenIdentifier{
			{TokenKey: "BTC-PERP", Decimals: 8, PriceFeedID: feedID(1), OracleKind: types.OracleKindPyth},
		},
		MaxPriceAge: 30 * time.Second,
	}
}

// TestCreateProgram tests program creation and retrieval
func TestCreateProgram(t *testing.T) {
	k, ctx := setupKeeper(t)

	program, cap, err := k.CreateProgram(ctx, testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if program.ProgramID != "margin-main" {
		t.Errorf("expected program id margin-main, got %s", program.ProgramID)
	}
	if cap.Owner != "authority1" {
		t.Errorf("expected cap owner authority1, got %s", cap.Owner)
	}

	loaded := k.GetProgram(ctx, "margin-main")
	if loaded == nil {
		t.Fatal("expected program in store")
	}
	if loaded.SharedDecimals != 9 {
		t.Errorf("expected shared decimals 9, got %d", loaded.SharedDecimals)
	}
	if len(loaded.SupportedCollateral) != 2 {
		t.Errorf("expected 2 collateral tokens, got %d", len(loaded.SupportedCollateral))
	}

	// Duplicate id rejected
	if _, _, err := k.CreateProgram(ctx, testConfig()); err == nil {
		t.Error("expected error for duplicate program id")
	}
}

// TestCreateProgramValidation tests config validation failures
func TestCreateProgramValidation(t *testing.T) {
	k, ctx := setupKeeper(t)

	testCases := []struct {
		name   string
		mutate func(*types.ProgramConfig)
	}{
		{name: "empty program id", mutate: func(c *types.ProgramConfig) { c.ProgramID = "" }},
		{name: "empty authority", mutate: func(c *types.ProgramConfig) { c.Authority = "" }},
		{name: "zero shared decimals", mutate: func(c *types.ProgramConfig) { c.SharedDecimals = 0 }},
		{name: "shared decimals too large", mutate: func(c *types.ProgramConfig) { c.SharedDecimals = 19 }},
		{name: "no collateral", mutate: func(c *types.ProgramConfig) { c.SupportedCollateral = nil }},
		{name: "no positions", mutate: func(c *types.ProgramConfig) { c.SupportedPositions = nil }},
		{name: "short feed id", mutate: func(c *types.ProgramConfig) { c.SupportedCollateral[0].PriceFeedID = "abcd" }},
		{name: "non-hex feed id", mutate: func(c *types.ProgramConfig) {
			c.SupportedCollateral[0].PriceFeedID = strings.Repeat("z", 64)
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			config := testConfig()
			tc.mutate(&config)
			if _, _, err := k.CreateProgram(ctx, config); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

// TestAddTokens tests that catalog additions append without moving indices
func TestAddTokens(t *testing.T) {
	k, ctx := setupKeeper(t)
	_, cap, err := k.CreateProgram(ctx, testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	index, err := k.AddCollateralToken(ctx, cap, "margin-main", types.TokenIdentifier{
		TokenKey: "ETH", Decimals: 18, PriceFeedID: feedID(2), OracleKind: types.OracleKindPyth,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if index != 2 {
		t.Errorf("expected index 2, got %d", index)
	}

	program := k.GetProgram(ctx, "margin-main")
	if program.SupportedCollateral[0].TokenKey != "USDC" || program.SupportedCollateral[1].TokenKey != "BTC" {
		t.Error("existing collateral indices moved")
	}

	// Duplicate key rejected
	if _, err := k.AddCollateralToken(ctx, cap, "margin-main", types.TokenIdentifier{
		TokenKey: "USDC", Decimals: 6, PriceFeedID: feedID(3), OracleKind: types.OracleKindPyth,
	}); err == nil {
		t.Error("expected error for duplicate token key")
	}

	posIndex, err := k.AddPositionToken(ctx, cap, "margin-main", types.TokenIdentifier{
		TokenKey: "ETH-PERP", Decimals: 18, PriceFeedID: feedID(2), OracleKind: types.OracleKindPyth,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if posIndex != 1 {
		t.Errorf("expected position index 1, got %d", posIndex)
	}
}

// TestUnauthorizedCap tests that a foreign capability is rejected
func TestUnauthorizedCap(t *testing.T) {
	k, ctx := setupKeeper(t)
	if _, _, err := k.CreateProgram(ctx, testConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	badCap := types.AdminCap{ProgramID: "margin-main", Owner: "intruder"}
	_, err := k.AddCollateralToken(ctx, badCap, "margin-main", types.TokenIdentifier{
		TokenKey: "ETH", Decimals: 18, PriceFeedID: feedID(2), OracleKind: types.OracleKindPyth,
	})
	if !types.ErrUnauthorized.Is(err) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}

	wrongProgram := types.AdminCap{ProgramID: "other", Owner: "authority1"}
	if err := k.DeprecateCollateralToken(ctx, wrongProgram, "margin-main", 0); !types.ErrUnauthorized.Is(err) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

// TestDeprecateToken tests deprecation flags and index stability
func TestDeprecateToken(t *testing.T) {
	k, ctx := setupKeeper(t)
	_, cap, err := k.CreateProgram(ctx, testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := k.DeprecateCollateralToken(ctx, cap, "margin-main", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	program := k.GetProgram(ctx, "margin-main")
	if !program.SupportedCollateral[1].Deprecated {
		t.Error("expected BTC collateral deprecated")
	}
	if program.SupportedCollateral[0].Deprecated {
		t.Error("USDC should not be deprecated")
	}
	// Entry stays resolvable for existing balances
	token, err := program.CollateralToken(1)
	if err != nil {
		t.Fatalf("deprecated token must remain resolvable: %v", err)
	}
	if token.TokenKey != "BTC" {
		t.Errorf("expected BTC at index 1, got %s", token.TokenKey)
	}

	if err := k.DeprecatePositionToken(ctx, cap, "margin-main", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !k.GetProgram(ctx, "margin-main").SupportedPositions[0].Deprecated {
		t.Error("expected position token deprecated")
	}

	// Out of range index
	if err := k.DeprecateCollateralToken(ctx, cap, "margin-main", 9); !types.ErrTokenNotFound.Is(err) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

// TestValidateFeedMatch tests the feed binding check
func TestValidateFeedMatch(t *testing.T) {
	k, ctx := setupKeeper(t)
	program, _, err := k.CreateProgram(ctx, testConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = ctx

	token := &program.SupportedCollateral[0]
	if err := k.ValidateFeedMatch(token, token.PriceFeedID); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := k.ValidateFeedMatch(token, feedID(5)); !types.ErrFeedMismatch.Is(err) {
		t.Errorf("expected ErrFeedMismatch, got %v", err)
	}
}

// TestPriceDecimals tests exponent interpretation under both conventions
func TestPriceDecimals(t *testing.T) {
	negative := &types.Program{ExponentConvention: types.ExponentNegativeDecimals}
	positive := &types.Program{ExponentConvention: types.ExponentPositiveDecimals}

	d, err := negative.PriceDecimals(-8)
	if err != nil || d != 8 {
		t.Errorf("negative convention expo -8: expected 8, got %d (err %v)", d, err)
	}
	d, err = positive.PriceDecimals(8)
	if err != nil || d != 8 {
		t.Errorf("positive convention expo 8: expected 8, got %d (err %v)", d, err)
	}
	if _, err := negative.PriceDecimals(8); err == nil {
		t.Error("negative convention must reject positive exponent")
	}
	if _, err := positive.PriceDecimals(-8); err == nil {
		t.Error("positive convention must reject negative exponent")
	}
	if _, err := negative.PriceDecimals(-40); err == nil {
		t.Error("expected rejection of out-of-range exponent")
	}
}
