package keeper

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/log"
	storetypes "cosmossdk.io/store/types"
	"github.com/cosmos/cosmos-sdk/codec"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/openalpha/margin-core/x/program/types"
)

// Store key prefixes
var (
	ProgramKeyPrefix = []byte{0x01}
)

// Keeper manages program configuration state
type Keeper struct {
	cdc      codec.BinaryCodec
	storeKey storetypes.StoreKey
	logger   log.Logger
}

// NewKeeper creates a new program keeper
func NewKeeper(
	cdc codec.BinaryCodec,
	storeKey storetypes.StoreKey,
	logger log.Logger,
) *Keeper {
	return &Keeper{
		cdc:      cdc,
		storeKey: storeKey,
		logger:   logger.With("module", "x/program"),
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

// SetProgram saves a program to the store
func (k *Keeper) SetProgram(ctx sdk.Context, program *types.Program) {
	store := k.GetStore(ctx)
	key := append(ProgramKeyPrefix, []byte(program.ProgramID)...)
	bz, _ := json.Marshal(program)
	store.Set(key, bz)
}

// GetProgram retrieves a program from the store
func (k *Keeper) GetProgram(ctx sdk.Context, programID string) *types.Program {
	store := k.GetStore(ctx)
	key := append(ProgramKeyPrefix, []byte(programID)...)
	bz := store.Get(key)
	if bz == nil {
		return nil
	}
	var program types.Program
	if err := json.Unmarshal(bz, &program); err != nil {
		return nil
	}
	return &program
}

// GetAllPrograms returns all programs
func (k *Keeper) GetAllPrograms(ctx sdk.Context) []*types.Program {
	store := k.GetStore(ctx)
	iterator := storetypes.KVStorePrefixIterator(store, ProgramKeyPrefix)
	defer iterator.Close()

	var programs []*types.Program
	for ; iterator.Valid(); iterator.Next() {
		var program types.Program
		if err := json.Unmarshal(iterator.Value(), &program); err != nil {
			continue
		}
		programs = append(programs, &program)
	}
	return programs
}

// CreateProgram validates the config, persists the program, and returns the
// admin capability for it. The capability is the only credential for later
// catalog changes.
func (k *Keeper) CreateProgram(ctx sdk.Context, config types.ProgramConfig) (*types.Program, types.AdminCap, error) {
	if existing := k.GetProgram(ctx, config.ProgramID); existing != nil {
		return nil, types.AdminCap{}, types.ErrProgramExists.Wrap(config.ProgramID)
	}

	program, err := types.NewProgram(config)
	if err != nil {
		return nil, types.AdminCap{}, err
	}
	k.SetProgram(ctx, program)

	cap := types.AdminCap{ProgramID: program.ProgramID, Owner: program.Authority}

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("program_created",
			sdk.NewAttribute("program_id", program.ProgramID),
			sdk.NewAttribute("authority", program.Authority),
			sdk.NewAttribute("shared_decimals", fmt.Sprintf("%d", program.SharedDecimals)),
		),
	)

	k.logger.Info("program created",
		"program_id", program.ProgramID,
		"shared_decimals", program.SharedDecimals,
		"collateral_tokens", len(program.SupportedCollateral),
		"position_tokens", len(program.SupportedPositions),
	)

	return program, cap, nil
}

// requireAuthorized loads the program and verifies the capability against it
func (k *Keeper) requireAuthorized(ctx sdk.Context, cap types.AdminCap, programID string) (*types.Program, error) {
	program := k.GetProgram(ctx, programID)
	if program == nil {
		return nil, types.ErrProgramNotFound.Wrap(programID)
	}
	if !cap.Authorizes(program) {
		return nil, types.ErrUnauthorized.Wrapf("capability for %s/%s does not cover program %s", cap.ProgramID, cap.Owner, programID)
	}
	return program, nil
}

// AddCollateralToken appends a token to the collateral catalog. Indices of
// existing tokens never move; the new token takes the next index.
func (k *Keeper) AddCollateralToken(ctx sdk.Context, cap types.AdminCap, programID string, token types.TokenIdentifier) (uint32, error) {
	program, err := k.requireAuthorized(ctx, cap, programID)
	if err != nil {
		return 0, err
	}
	if err := token.Validate(); err != nil {
		return 0, err
	}
	for i := range program.SupportedCollateral {
		if program.SupportedCollateral[i].TokenKey == token.TokenKey {
			return 0, types.ErrInvalidConfig.Wrapf("collateral token %s already listed", token.TokenKey)
		}
	}

	token.Deprecated = false
	program.SupportedCollateral = append(program.SupportedCollateral, token)
	k.SetProgram(ctx, program)
	index := uint32(len(program.SupportedCollateral) - 1)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("collateral_token_added",
			sdk.NewAttribute("program_id", programID),
			sdk.NewAttribute("token_key", token.TokenKey),
			sdk.NewAttribute("index", fmt.Sprintf("%d", index)),
		),
	)

	k.logger.Info("collateral token added", "program_id", programID, "token_key", token.TokenKey, "index", index)
	return index, nil
}

// AddPositionToken appends a token to the position catalog
func (k *Keeper) AddPositionToken(ctx sdk.Context, cap types.AdminCap, programID string, token types.TokenIdentifier) (uint32, error) {
	program, err := k.requireAuthorized(ctx, cap, programID)
	if err != nil {
		return 0, err
	}
	if err := token.Validate(); err != nil {
		return 0, err
	}
	for i := range program.SupportedPositions {
		if program.SupportedPositions[i].TokenKey == token.TokenKey {
			return 0, types.ErrInvalidConfig.Wrapf("position token %s already listed", token.TokenKey)
		}
	}

	token.Deprecated = false
	program.SupportedPositions = append(program.SupportedPositions, token)
	k.SetProgram(ctx, program)
	index := uint32(len(program.SupportedPositions) - 1)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("position_token_added",
			sdk.NewAttribute("program_id", programID),
			sdk.NewAttribute("token_key", token.TokenKey),
			sdk.NewAttribute("index", fmt.Sprintf("%d", index)),
		),
	)

	k.logger.Info("position token added", "program_id", programID, "token_key", token.TokenKey, "index", index)
	return index, nil
}

// DeprecateCollateralToken marks a collateral token as deprecated. The token
// stays in the catalog so existing balances remain readable; only new
// deposits are refused.
func (k *Keeper) DeprecateCollateralToken(ctx sdk.Context, cap types.AdminCap, programID string, index uint32) error {
	program, err := k.requireAuthorized(ctx, cap, programID)
	if err != nil {
		return err
	}
	token, err := program.CollateralToken(index)
	if err != nil {
		return err
	}
	token.Deprecated = true
	k.SetProgram(ctx, program)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("collateral_token_deprecated",
			sdk.NewAttribute("program_id", programID),
			sdk.NewAttribute("token_key", token.TokenKey),
			sdk.NewAttribute("index", fmt.Sprintf("%d", index)),
		),
	)

	k.logger.Info("collateral token deprecated", "program_id", programID, "token_key", token.TokenKey)
	return nil
}

// DeprecatePositionToken marks a position token as deprecated
func (k *Keeper) DeprecatePositionToken(ctx sdk.Context, cap types.AdminCap, programID string, index uint32) error {
	program, err := k.requireAuthorized(ctx, cap, programID)
	if err != nil {
		return err
	}
	token, err := program.PositionToken(index)
	if err != nil {
		return err
	}
	token.Deprecated = true
	k.SetProgram(ctx, program)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("position_token_deprecated",
			sdk.NewAttribute("program_id", programID),
			sdk.NewAttribute("token_key", token.TokenKey),
			sdk.NewAttribute("index", fmt.Sprintf("%d", index)),
		),
	)

	k.logger.Info("position token deprecated", "program_id", programID, "token_key", token.TokenKey)
	return nil
}

// ValidateFeedMatch checks that an attested feed id belongs to the token it
// claims to price. Feed identity is the binding between an oracle update and
// a catalog entry; a mismatch is a hard error, never a fallback.
func (k *Keeper) ValidateFeedMatch(token *types.TokenIdentifier, feedID string) error {
	if token.PriceFeedID != feedID {
		return types.ErrFeedMismatch.Wrapf("token %s expects feed %s, got %s", token.TokenKey, token.PriceFeedID, feedID)
	}
	return nil
}
