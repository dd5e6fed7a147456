package keeper

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"cosmossdk.io/log"
	storetypes "cosmossdk.io/store/types"
	"github.com/cosmos/cosmos-sdk/codec"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/google/uuid"

	programtypes "github.com/openalpha/margin-core/x/program/types"
	"github.com/openalpha/margin-core/x/vault/types"
)

// Store key prefixes
var (
	VaultKeyPrefix     = []byte{0x01}
	LPBalanceKeyPrefix = []byte{0x02}
	VaultCounterKey    = []byte{0x03}
)

// ProgramKeeper defines the expected interface for the program module
type ProgramKeeper interface {
	GetProgram(ctx sdk.Context, programID string) *programtypes.Program
}

// Keeper manages LP vault state
type Keeper struct {
	cdc           codec.BinaryCodec
	storeKey      storetypes.StoreKey
	programKeeper ProgramKeeper
	logger        log.Logger
}

// NewKeeper creates a new vault keeper
func NewKeeper(
	cdc codec.BinaryCodec,
	storeKey storetypes.StoreKey,
	programKeeper ProgramKeeper,
	logger log.Logger,
) *Keeper {
	return &Keeper{
		cdc:           cdc,
		storeKey:      storeKey,
		programKeeper: programKeeper,
		logger:        logger.With("module", "x/vault"),
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

// SetVault saves a vault to the store
func (k *Keeper) SetVault(ctx sdk.Context, vault *types.Vault) {
	store := k.GetStore(ctx)
	key := append(VaultKeyPrefix, []byte(vault.VaultID)...)
	bz, _ := json.Marshal(vault)
	store.Set(key, bz)
}

// GetVault retrieves a vault from the store
func (k *Keeper) GetVault(ctx sdk.Context, vaultID string) *types.Vault {
	store := k.GetStore(ctx)
	key := append(VaultKeyPrefix, []byte(vaultID)...)
	bz := store.Get(key)
	if bz == nil {
		return nil
	}
	var vault types.Vault
	if err := json.Unmarshal(bz, &vault); err != nil {
		return nil
	}
	return &vault
}

// GetAllVaults returns all vaults
func (k *Keeper) GetAllVaults(ctx sdk.Context) []*types.Vault {
	store := k.GetStore(ctx)
	iterator := storetypes.KVStorePrefixIterator(store, VaultKeyPrefix)
	defer iterator.Close()

	var vaults []*types.Vault
	for ; iterator.Valid(); iterator.Next() {
		var vault types.Vault
		if err := json.Unmarshal(iterator.Value(), &vault); err != nil {
			continue
		}
		vaults = append(vaults, &vault)
	}
	return vaults
}

func lpBalanceKey(vaultID, owner string) []byte {
	key := append([]byte{}, LPBalanceKeyPrefix...)
	key = append(key, []byte(vaultID)...)
	key = append(key, '/')
	return append(key, []byte(owner)...)
}

// GetLPBalance returns a holder's LP tokens in a vault
func (k *Keeper) GetLPBalance(ctx sdk.Context, vaultID, owner string) uint64 {
	bz := k.GetStore(ctx).Get(lpBalanceKey(vaultID, owner))
	if bz == nil {
		return 0
	}
	var balance types.LPBalance
	if err := json.Unmarshal(bz, &balance); err != nil {
		return 0
	}
	return balance.Amount
}

func (k *Keeper) setLPBalance(ctx sdk.Context, vaultID, owner string, amount uint64) {
	store := k.GetStore(ctx)
	key := lpBalanceKey(vaultID, owner)
	if amount == 0 {
		store.Delete(key)
		return
	}
	bz, _ := json.Marshal(types.LPBalance{VaultID: vaultID, Owner: owner, Amount: amount})
	store.Set(key, bz)
}

// nextGlobalIndex increments the vault counter
func (k *Keeper) nextGlobalIndex(ctx sdk.Context) uint32 {
	store := k.GetStore(ctx)
	var counter uint64
	if bz := store.Get(VaultCounterKey); bz != nil {
		counter = binary.BigEndian.Uint64(bz)
	}
	counter++
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, counter)
	store.Set(VaultCounterKey, bz)
	return uint32(counter - 1)
}

// requireAuthorized verifies the admin capability against the program
func (k *Keeper) requireAuthorized(ctx sdk.Context, cap programtypes.AdminCap, programID string) error {
	program := k.programKeeper.GetProgram(ctx, programID)
	if program == nil {
		return programtypes.ErrProgramNotFound.Wrap(programID)
	}
	if !cap.Authorizes(program) {
		return programtypes.ErrUnauthorized.Wrapf("capability for %s/%s does not cover program %s", cap.ProgramID, cap.Owner, programID)
	}
	return nil
}

// CreateVault creates an empty LP vault under a program (admin only)
func (k *Keeper) CreateVault(ctx sdk.Context, cap programtypes.AdminCap, programID string) (*types.Vault, error) {
	if err := k.requireAuthorized(ctx, cap, programID); err != nil {
		return nil, err
	}

	vault := &types.Vault{
		VaultID:     uuid.NewString(),
		ProgramID:   programID,
		GlobalIndex: k.nextGlobalIndex(ctx),
		CreatedAt:   ctx.BlockTime().Unix(),
	}
	k.SetVault(ctx, vault)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("vault_created",
			sdk.NewAttribute("vault_id", vault.VaultID),
			sdk.NewAttribute("program_id", programID),
			sdk.NewAttribute("global_index", fmt.Sprintf("%d", vault.GlobalIndex)),
		),
	)

	k.logger.Info("vault created", "vault_id", vault.VaultID, "program_id", programID, "global_index", vault.GlobalIndex)
	return vault, nil
}

// DeprecateVault blocks new deposits into a vault (admin only)
func (k *Keeper) DeprecateVault(ctx sdk.Context, cap programtypes.AdminCap, programID, vaultID string) error {
	if err := k.requireAuthorized(ctx, cap, programID); err != nil {
		return err
	}
	vault := k.GetVault(ctx, vaultID)
	if vault == nil {
		return types.ErrVaultNotFound.Wrap(vaultID)
	}
	vault.Deprecated = true
	k.SetVault(ctx, vault)

	ctx.EventManager().EmitEvent(
		sdk.NewEvent("vault_deprecated",
			sdk.NewAttribute("vault_id", vaultID),
		),
	)

	k.logger.Info("vault deprecated", "vault_id", vaultID)
	return nil
}
