package keeper

import (
	"encoding/json"

	"cosmossdk.io/log"
	storetypes "cosmossdk.io/store/types"
	"github.com/cosmos/cosmos-sdk/codec"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"

	"github.com/openalpha/margin-core/x/margin/types"
	programtypes "github.com/openalpha/margin-core/x/program/types"
)

// Store key prefixes
var (
	AccountKeyPrefix = []byte{0x01}
)

// ProgramKeeper defines the expected interface for the program module
type ProgramKeeper interface {
	GetProgram(ctx sdk.Context, programID string) *programtypes.Program
	ValidateFeedMatch(token *programtypes.TokenIdentifier, feedID string) error
}

// VaultKeeper defines the expected interface for the vault module: position
// PnL settles against an LP vault as source and sink.
type VaultKeeper interface {
	FundPayout(ctx sdk.Context, vaultID string, amount uint64) error
	AbsorbGain(ctx sdk.Context, vaultID string, amount uint64) error
}

// Keeper manages margin accounts, collateral markers, and positions
type Keeper struct {
	cdc           codec.BinaryCodec
	storeKey      storetypes.StoreKey
	programKeeper ProgramKeeper
	vaultKeeper   VaultKeeper
	logger        log.Logger
}

// NewKeeper creates a new margin keeper
func NewKeeper(
	cdc codec.BinaryCodec,
	storeKey storetypes.StoreKey,
	programKeeper ProgramKeeper,
	vaultKeeper VaultKeeper,
	logger log.Logger,
) *Keeper {
	return &Keeper{
		cdc:           cdc,
		storeKey:      storeKey,
		programKeeper: programKeeper,
		vaultKeeper:   vaultKeeper,
		logger:        logger.With("module", "x/margin"),
	}
}

// Logger returns the module logger
func (k *Keeper) Logger() log.Logger {
	return k.logger
}

// GetStore returns the KVStore
func (k *Keeper) GetStore(ctx sdk.Context) storetypes.KVStore {
	return ctx.KVStore(k.storeKey)
}

// SetAccount saves an account to the store
func (k *Keeper) SetAccount(ctx sdk.Context, account *types.Account) {
	store := k.GetStore(ctx)
	key := append(AccountKeyPrefix, []byte(account.AccountID)...)
	bz, _ := json.Marshal(account)
	store.Set(key, bz)
}

// GetAccount retrieves an account from the store
func (k *Keeper) GetAccount(ctx sdk.Context, accountID string) *types.Account {
	store := k.GetStore(ctx)
	key := append(AccountKeyPrefix, []byte(accountID)...)
	bz := store.Get(key)
	if bz == nil {
		return nil
	}
	var account types.Account
	if err := json.Unmarshal(bz, &account); err != nil {
		return nil
	}
	return &account
}

// GetAllAccounts returns all accounts
func (k *Keeper) GetAllAccounts(ctx sdk.Context) []*types.Account {
	store := k.GetStore(ctx)
	iterator := storetypes.KVStorePrefixIterator(store, AccountKeyPrefix)
	defer iterator.Close()

	var accounts []*types.Account
	for ; iterator.Valid(); iterator.Next() {
		var account types.Account
		if err := json.Unmarshal(iterator.Value(), &account); err != nil {
			continue
		}
		accounts = append(accounts, &account)
	}
	return accounts
}

// CreateAccount opens an empty margin account under a program
func (k *Keeper) CreateAccount(ctx sdk.Context, programID, owner string) (*types.Account, error) {
	program := k.programKeeper.GetProgram(ctx, programID)
	if program == nil {
		return nil, programtypes.ErrProgramNotFound.Wrap(programID)
	}

	account := &types.Account{
		AccountID: uuid.NewString(),
		ProgramID: programID,
		Owner:     owner,
	}
	k.SetAccount(ctx, account)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("account_created",
			sdk.NewAttribute("account_id", account.AccountID),
			sdk.NewAttribute("program_id", programID),
			sdk.NewAttribute("owner", owner),
		),
	)

	k.logger.Info("account created", "account_id", account.AccountID, "program_id", programID, "owner", owner)
	return account, nil
}

// loadAccount fetches an account and its program together
func (k *Keeper) loadAccount(ctx sdk.Context, accountID string) (*types.Account, *programtypes.Program, error) {
	account := k.GetAccount(ctx, accountID)
	if account == nil {
		return nil, nil, types.ErrAccountNotFound.Wrap(accountID)
	}
	program := k.programKeeper.GetProgram(ctx, account.ProgramID)
	if program == nil {
		return nil, nil, programtypes.ErrProgramNotFound.Wrap(account.ProgramID)
	}
	return account, program, nil
}
