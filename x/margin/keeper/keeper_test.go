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

	"github.com/openalpha/margin-core/x/margin/types"
	programkeeper "github.com/openalpha/margin-core/x/program/keeper"
	programtypes "github.com/openalpha/margin-core/x/program/types"
)

// mockVaultKeeper tracks settlement flows without a real vault store
type mockVaultKeeper struct {
	balance uint64
}

func (m *mockVaultKeeper) FundPayout(ctx sdk.Context, vaultID string, amount uint64) error {
	if amount > m.balance {
		return types.ErrInsufficientBalance.Wrapf("vault holds %d, payout of %d", m.balance, amount)
	}
	m.balance -= amount
	return nil
}

func (m *mockVaultKeeper) AbsorbGain(ctx sdk.Context, vaultID string, amount uint64) error {
	m.balance += amount
	return nil
}

// setupKeeper builds a margin keeper backed by a real program keeper and an
// in-memory store
func setupKeeper(tb testing.TB) (*Keeper, *mockVaultKeeper, sdk.Context) {
	tb.Helper()

	marginKey := storetypes.NewKVStoreKey(types.StoreKey)
	programKey := storetypes.NewKVStoreKey(programtypes.StoreKey)
	db := dbm.NewMemDB()
	stateStore := store.NewCommitMultiStore(db, log.NewNopLogger(), metrics.NewNoOpMetrics())
	stateStore.MountStoreWithDB(marginKey, storetypes.StoreTypeIAVL, db)
	stateStore.MountStoreWithDB(programKey, storetypes.StoreTypeIAVL, db)
	if err := stateStore.LoadLatestVersion(); err != nil {
		tb.Fatalf("failed to load store: %v", err)
	}

	ctx := sdk.NewContext(stateStore, cmtproto.Header{}, false, log.NewNopLogger()).
		WithBlockTime(time.Unix(1_000_000, 0))

	interfaceRegistry := codectypes.NewInterfaceRegistry()
	cdc := codec.NewProtoCodec(interfaceRegistry)

	pk := programkeeper.NewKeeper(cdc, programKey, log.NewNopLogger())
	vk := &mockVaultKeeper{}
	return NewKeeper(cdc, marginKey, pk, vk, log.NewNopLogger()), vk, ctx
}

func feedID(seed byte) string {
	return strings.Repeat(string([]byte{'a' + seed%6}), 64)
}

// seedProgram creates the standard test program: USDC settlement collateral
// (6 decimals), BTC collateral (8 decimals), BTC-PERP position token
// (8 decimals), shared decimals 8
func seedProgram(t testing.TB, k *Keeper, ctx sdk.Context) *programtypes.Program {
	t.Helper()
	pk := k.programKeeper.(*programkeeper.Keeper)
	program, _, err := pk.CreateProgram(ctx, programtypes.ProgramConfig{
		ProgramID:      "margin-main",
		Authority:      "authority1",
		SharedDecimals: 8,
		SupportedCollateral: []programtypes.TokenIdentifier{
			{TokenKey: "USDC", Decimals: 6, PriceFeedID: feedID(0), OracleKind: programtypes.OracleKindPyth},
			{TokenKey: "BTC", Decimals: 8, PriceFeedID: feedID(1), OracleKind: programtypes.OracleKindPyth},
		},
		SupportedPositions: []programtypes.TokenIdentifier{
			{TokenKey: "BTC-PERP", Decimals: 8, PriceFeedID: feedID(1), OracleKind: programtypes.OracleKindPyth},
		},
		MaxPriceAge: 30 * time.Second,
	})
	if err != nil {
		t.Fatalf("seed program: %v", err)
	}
	return program
}

func seedAccount(t testing.TB, k *Keeper, ctx sdk.Context) *types.Account {
	t.Helper()
	seedProgram(t, k, ctx)
	account, err := k.CreateAccount(ctx, "margin-main", "alice")
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	return account
}

// freshAttestation returns an attestation published at the block time
func freshAttestation(ctx sdk.Context, feed string, price uint64, exponent int64) types.PriceAttestation {
	return types.PriceAttestation{
		FeedID:      feed,
		Price:       price,
		Exponent:    exponent,
		PublishTime: ctx.BlockTime().Unix(),
	}
}

func TestCreateAccount(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	seedProgram(t, k, ctx)

	account, err := k.CreateAccount(ctx, "margin-main", "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded := k.GetAccount(ctx, account.AccountID)
	if loaded == nil {
		t.Fatal("expected account in store")
	}
	if loaded.Owner != "alice" {
		t.Errorf("expected owner alice, got %s", loaded.Owner)
	}

	if _, err := k.CreateAccount(ctx, "no-such-program", "bob"); err == nil {
		t.Error("expected error for unknown program")
	}
}

func TestDepositCollateral(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)

	// Two deposits create two markers, even for the same token.
	m0, err := k.DepositCollateral(ctx, account.AccountID, 0, 1_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m1, err := k.DepositCollateral(ctx, account.AccountID, 0, 500_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m0 != 0 || m1 != 1 {
		t.Errorf("expected marker indices 0 and 1, got %d and %d", m0, m1)
	}

	loaded := k.GetAccount(ctx, account.AccountID)
	if len(loaded.Collateral) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(loaded.Collateral))
	}

	if _, err := k.DepositCollateral(ctx, account.AccountID, 0, 0); err == nil {
		t.Error("expected error for zero deposit")
	}
	if _, err := k.DepositCollateral(ctx, account.AccountID, 9, 100); err == nil {
		t.Error("expected error for unknown token index")
	}
}

func TestDepositDeprecatedToken(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)
	pk := k.programKeeper.(*programkeeper.Keeper)

	cap := programtypes.AdminCap{ProgramID: "margin-main", Owner: "authority1"}
	if err := pk.DeprecateCollateralToken(ctx, cap, "margin-main", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := k.DepositCollateral(ctx, account.AccountID, 1, 100); !programtypes.ErrTokenDeprecated.Is(err) {
		t.Errorf("expected ErrTokenDeprecated, got %v", err)
	}
	// Settlement token still accepts deposits
	if _, err := k.DepositCollateral(ctx, account.AccountID, 0, 100); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCombineCollateral(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)

	k.DepositCollateral(ctx, account.AccountID, 0, 300)
	k.DepositCollateral(ctx, account.AccountID, 1, 50)
	k.DepositCollateral(ctx, account.AccountID, 0, 700)

	if err := k.CombineCollateral(ctx, account.AccountID, 0, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded := k.GetAccount(ctx, account.AccountID)
	if len(loaded.Collateral) != 2 {
		t.Fatalf("expected 2 markers after combine, got %d", len(loaded.Collateral))
	}
	if loaded.Collateral[0].RawAmount != 1000 {
		t.Errorf("expected merged marker of 1000, got %d", loaded.Collateral[0].RawAmount)
	}
	if loaded.Collateral[1].TokenIndex != 1 || loaded.Collateral[1].RawAmount != 50 {
		t.Errorf("unexpected surviving marker %+v", loaded.Collateral[1])
	}

	// Different tokens cannot merge
	if err := k.CombineCollateral(ctx, account.AccountID, 0, 1); err == nil {
		t.Error("expected error combining different tokens")
	}
}

func TestWithdrawCollateral(t *testing.T) {
	k, _, ctx := setupKeeper(t)
	account := seedAccount(t, k, ctx)
	k.DepositCollateral(ctx, account.AccountID, 0, 1000)

	// No open positions: no finalized totals needed.
	if err := k.WithdrawCollateral(ctx, account.AccountID, 0, 400, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded := k.GetAccount(ctx, account.AccountID)
	if loaded.Collateral[0].RawAmount != 600 {
		t.Errorf("expected 600 remaining, got %d", loaded.Collateral[0].RawAmount)
	}

	err := k.WithdrawCollateral(ctx, account.AccountID, 0, 601, nil, nil)
	if !types.ErrInsufficientBalance.Is(err) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}
