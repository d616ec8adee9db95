package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/liliang-cn/vecalign/internal/config"
	"github.com/liliang-cn/vecalign/pkg/core"
	"github.com/liliang-cn/vecalign/pkg/runs"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	envPath string
	dbPath  string
	verbose bool
	noStore bool
	appCfg  *config.AppConfig
	logger  core.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vecalign",
	Short: "Align two word embedding spaces",
	Long: `vecalign learns a linear map from a source embedding space into a target
space with Procrustes initialisation and RCSLS refinement, and evaluates
it with nearest-neighbor and CSLS retrieval.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envPath); err != nil {
			return err
		}
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := config.ApplyEnv(cfg, os.LookupEnv); err != nil {
			return err
		}
		if err := applyFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, _ := core.ParseLogLevel(cfg.Log.Level)
		if verbose {
			level = core.LevelDebug
		}
		appCfg = cfg
		logger = core.NewStdLogger(level)
		return nil
	},
}

// openStore opens the run registry, or returns nil when it is disabled.
func openStore(ctx context.Context) (*runs.Store, error) {
	if appCfg.Store.Disabled {
		return nil, nil
	}
	store, err := runs.Open(ctx, appCfg.Store.Path, runs.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return store, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "vecalign.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", ".env", "Environment file loaded before VECALIGN_* overrides")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Run registry database path")
	rootCmd.PersistentFlags().BoolVar(&noStore, "no-store", false, "Do not record runs")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log every iteration")

	rootCmd.AddCommand(alignCmd, evalCmd, applyCmd, translateCmd, runsCmd, configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal(err)
	}
}
