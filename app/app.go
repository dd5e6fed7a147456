package app

import (
	"time"

	"cosmossdk.io/log"
	"cosmossdk.io/store"
	storemetrics "cosmossdk.io/store/metrics"
	storetypes "cosmossdk.io/store/types"
	cmtproto "github.com/cometbft/cometbft/proto/tendermint/types"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/cosmos/cosmos-sdk/codec"
	codectypes "github.com/cosmos/cosmos-sdk/codec/types"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/openalpha/margin-core/metrics"
	clearinghousekeeper "github.com/openalpha/margin-core/x/clearinghouse/keeper"
	clearinghousetypes "github.com/openalpha/margin-core/x/clearinghouse/types"
	marginkeeper "github.com/openalpha/margin-core/x/margin/keeper"
	margintypes "github.com/openalpha/margin-core/x/margin/types"
	programkeeper "github.com/openalpha/margin-core/x/program/keeper"
	programtypes "github.com/openalpha/margin-core/x/program/types"
	vaultkeeper "github.com/openalpha/margin-core/x/vault/keeper"
	vaulttypes "github.com/openalpha/margin-core/x/vault/types"
)

const Name = "margincore"

// App wires the four module keepers over one commit multistore. Programs
// define the token catalogs, margin tracks accounts, vaults hold LP coin, and
// the clearinghouse settles liquidations across all three.
type App struct {
	logger log.Logger
	db     dbm.DB
	cms    store.CommitMultiStore
	cdc    codec.Codec

	keys map[string]*storetypes.KVStoreKey

	ProgramKeeper       *programkeeper.Keeper
	MarginKeeper        *marginkeeper.Keeper
	VaultKeeper         *vaultkeeper.Keeper
	ClearinghouseKeeper *clearinghousekeeper.Keeper
}

// New builds the app on the given database. Pass dbm.NewMemDB() for an
// ephemeral instance.
func New(logger log.Logger, db dbm.DB, config clearinghousetypes.LiquidationConfig) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	keys := make(map[string]*storetypes.KVStoreKey)
	cms := store.NewCommitMultiStore(db, logger, storemetrics.NewNoOpMetrics())
	for _, name := range []string{
		programtypes.StoreKey,
		margintypes.StoreKey,
		vaulttypes.StoreKey,
		clearinghousetypes.StoreKey,
	} {
		key := storetypes.NewKVStoreKey(name)
		keys[name] = key
		cms.MountStoreWithDB(key, storetypes.StoreTypeIAVL, db)
	}
	if err := cms.LoadLatestVersion(); err != nil {
		return nil, err
	}

	cdc := codec.NewProtoCodec(codectypes.NewInterfaceRegistry())

	programKeeper := programkeeper.NewKeeper(cdc, keys[programtypes.StoreKey], logger)
	vaultKeeper := vaultkeeper.NewKeeper(cdc, keys[vaulttypes.StoreKey], programKeeper, logger)
	marginKeeper := marginkeeper.NewKeeper(cdc, keys[margintypes.StoreKey], programKeeper, vaultKeeper, logger)
	clearinghouseKeeper := clearinghousekeeper.NewKeeper(
		cdc, keys[clearinghousetypes.StoreKey],
		marginKeeper, programKeeper, vaultKeeper, config, logger)

	return &App{
		logger:              logger.With("app", Name),
		db:                  db,
		cms:                 cms,
		cdc:                 cdc,
		keys:                keys,
		ProgramKeeper:       programKeeper,
		MarginKeeper:        marginKeeper,
		VaultKeeper:         vaultKeeper,
		ClearinghouseKeeper: clearinghouseKeeper,
	}, nil
}

// NewContext returns a context over the current multistore state
func (a *App) NewContext(height int64, blockTime time.Time) sdk.Context {
	header := cmtproto.Header{Height: height, Time: blockTime}
	return sdk.NewContext(a.cms, header, false, a.logger).WithBlockTime(blockTime)
}

// Commit persists the working state to the database
func (a *App) Commit() storetypes.CommitID {
	commitID := a.cms.Commit()
	metrics.GetCollector().UpdateBlockHeight(commitID.Version)
	return commitID
}

// LastCommitID returns the id of the last committed version
func (a *App) LastCommitID() storetypes.CommitID {
	return a.cms.LastCommitID()
}

// Close releases the underlying database
func (a *App) Close() error {
	return a.db.Close()
}
