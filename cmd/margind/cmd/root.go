package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cosmossdk.io/log"
	dbm "github.com/cosmos/cosmos-db"
	"github.com/spf13/cobra"

	"github.com/openalpha/margin-core/api"
	"github.com/openalpha/margin-core/app"
	"github.com/openalpha/margin-core/metrics"
	clearinghousetypes "github.com/openalpha/margin-core/x/clearinghouse/types"
)

const Version = "0.1.0"

// DefaultNodeHome is the default home directory for the daemon
var DefaultNodeHome string

func init() {
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	DefaultNodeHome = filepath.Join(userHomeDir, ".margincore")
}

// NewRootCmd creates the root command for margind
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "margind",
		Short: "Margin accounting and liquidation engine daemon",
	}
	rootCmd.AddCommand(
		startCmd(),
		versionCmd(),
	)
	return rootCmd
}

func startCmd() *cobra.Command {
	var (
		home        string
		apiAddr     string
		metricsAddr string
		rewardBps   uint32
		protocolBps uint32
		useMemoryDB bool
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the engine, the query API, and the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.NewLogger(os.Stderr)

			var db dbm.DB
			var err error
			if useMemoryDB {
				db = dbm.NewMemDB()
			} else {
				dataDir := filepath.Join(home, "data")
				if err := os.MkdirAll(dataDir, 0o755); err != nil {
					return err
				}
				db, err = dbm.NewDB("application", dbm.GoLevelDBBackend, dataDir)
				if err != nil {
					return err
				}
			}

			config := clearinghousetypes.LiquidationConfig{
				LiquidatorRewardBps: rewardBps,
				ProtocolFeeBps:      protocolBps,
			}
			engine, err := app.New(logger, db, config)
			if err != nil {
				return err
			}
			defer engine.Close()

			apiConfig := api.DefaultConfig()
			apiConfig.Addr = apiAddr
			apiServer := api.NewServer(engine, apiConfig, logger)

			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			metricsServer := &http.Server{Addr: metricsAddr, Handler: mux}

			errCh := make(chan error, 2)
			go func() {
				errCh <- apiServer.Start()
			}()
			go func() {
				logger.Info("metrics server listening", "addr", metricsAddr)
				errCh <- metricsServer.ListenAndServe()
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				logger.Info("shutting down", "signal", sig.String())
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			return metricsServer.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&home, "home", DefaultNodeHome, "directory for the application database")
	cmd.Flags().StringVar(&apiAddr, "api-addr", "localhost:8080", "address for the query API")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "localhost:26661", "address for the prometheus metrics endpoint")
	cmd.Flags().Uint32Var(&rewardBps, "liquidator-reward-bps", clearinghousetypes.DefaultLiquidationConfig().LiquidatorRewardBps, "liquidator reward in basis points of closed notional")
	cmd.Flags().Uint32Var(&protocolBps, "protocol-fee-bps", clearinghousetypes.DefaultLiquidationConfig().ProtocolFeeBps, "protocol fee in basis points of closed notional")
	cmd.Flags().BoolVar(&useMemoryDB, "memory-db", false, "run on an in-memory database")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}
