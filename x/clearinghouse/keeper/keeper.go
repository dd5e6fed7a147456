package keeper

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"cosmossdk.io/log"
	storetypes "cosmossdk.io/store/types"
	"github.com/cosmos/cosmos-sdk/codec"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/openalpha/margin-core/x/clearinghouse/types"
	margintypes "github.com/openalpha/margin-core/x/margin/types"
	programtypes "github.com/openalpha/margin-core/x/program/types"
)

// Store key prefixes
var (
	OutcomeKeyPrefix  = []byte{0x01}
	OutcomeCounterKey = []byte{0x02}
)

// MarginKeeper defines the expected interface for the margin module
type MarginKeeper interface {
	GetAccount(ctx sdk.Context, accountID string) *margintypes.Account
	SetAccount(ctx sdk.Context, account *margintypes.Account)
}

// ProgramKeeper defines the expected interface for the program module
type ProgramKeeper interface {
	GetProgram(ctx sdk.Context, programID string) *programtypes.Program
}

// VaultKeeper defines the expected interface for the vault module
type VaultKeeper interface {
	CoverShortfall(ctx sdk.Context, vaultID string, amount uint64) (covered, remainder uint64, err error)
}

// Keeper executes liquidation settlement
type Keeper struct {
	cdc           codec.BinaryCodec
	storeKey      storetypes.StoreKey
	marginKeeper  MarginKeeper
	programKeeper ProgramKeeper
	vaultKeeper   VaultKeeper
	config        types.LiquidationConfig
	logger        log.Logger
}

// NewKeeper creates a new clearinghouse keeper
func NewKeeper(
	cdc codec.BinaryCodec,
	storeKey storetypes.StoreKey,
	marginKeeper MarginKeeper,
	programKeeper ProgramKeeper,
	vaultKeeper VaultKeeper,
	config types.LiquidationConfig,
	logger log.Logger,
) *Keeper {
	return &Keeper{
		cdc:           cdc,
		storeKey:      storeKey,
		marginKeeper:  marginKeeper,
		programKeeper: programKeeper,
		vaultKeeper:   vaultKeeper,
		config:        config,
		logger:        logger.With("module", "x/clearinghouse"),
	}
}

// Logger returns the module logger
func (k *Keeper) Logger() log.Logger {
	return k.logger
}

// Config returns the liquidation configuration
func (k *Keeper) Config() types.LiquidationConfig {
	return k.config
}

// GetStore returns the KVStore
func (k *Keeper) GetStore(ctx sdk.Context) storetypes.KVStore {
	return ctx.KVStore(k.storeKey)
}

// SetOutcome saves a liquidation outcome to the store
func (k *Keeper) SetOutcome(ctx sdk.Context, outcome *types.LiquidationOutcome) {
	store := k.GetStore(ctx)
	key := append(OutcomeKeyPrefix, []byte(outcome.OutcomeID)...)
	bz, _ := json.Marshal(outcome)
	store.Set(key, bz)
}

// GetOutcome retrieves a liquidation outcome from the store
func (k *Keeper) GetOutcome(ctx sdk.Context, outcomeID string) *types.LiquidationOutcome {
	store := k.GetStore(ctx)
	key := append(OutcomeKeyPrefix, []byte(outcomeID)...)
	bz := store.Get(key)
	if bz == nil {
		return nil
	}
	var outcome types.LiquidationOutcome
	if err := json.Unmarshal(bz, &outcome); err != nil {
		return nil
	}
	return &outcome
}

// GetAllOutcomes returns all liquidation outcomes
func (k *Keeper) GetAllOutcomes(ctx sdk.Context) []*types.LiquidationOutcome {
	store := k.GetStore(ctx)
	iterator := storetypes.KVStorePrefixIterator(store, OutcomeKeyPrefix)
	defer iterator.Close()

	var outcomes []*types.LiquidationOutcome
	for ; iterator.Valid(); iterator.Next() {
		var outcome types.LiquidationOutcome
		if err := json.Unmarshal(iterator.Value(), &outcome); err != nil {
			continue
		}
		outcomes = append(outcomes, &outcome)
	}
	return outcomes
}

// generateOutcomeID returns the next sequential liquidation id
func (k *Keeper) generateOutcomeID(ctx sdk.Context) string {
	store := k.GetStore(ctx)
	var counter uint64
	if bz := store.Get(OutcomeCounterKey); bz != nil {
		counter = binary.BigEndian.Uint64(bz)
	}
	counter++
	bz := make([]byte, 8)
	binary.BigEndian.PutUint64(bz, counter)
	store.Set(OutcomeCounterKey, bz)
	return fmt.Sprintf("liq-%d", counter)
}
