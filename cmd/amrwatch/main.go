package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/amrwatch/internal/analysis"
	"github.com/rewired-gh/amrwatch/internal/config"
	"github.com/rewired-gh/amrwatch/internal/logger"
	"github.com/rewired-gh/amrwatch/internal/storage"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "amrwatch",
		Short: "Detect unusual antimicrobial resistance rates and test volumes",
		Long: `amrwatch reads microbiology test results from an external store, builds a
rolling baseline per (location, organism) group and flags days whose resistance
rate or test volume deviates from it.

Configuration is read from --config (YAML) and AMRWATCH_* environment variables;
a .env file in the working directory is loaded first.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml",
		`Path to configuration file ("" for defaults and environment only)`)

	rootCmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newGroupsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is the configuration and store shared by every command.
type env struct {
	cfg   *config.Config
	store *storage.Store
}

func setup() (*env, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if configPath != "" {
		logger.Info("Configuration loaded from %s", configPath)
	}

	store, err := storage.Open(cfg.Store.Driver, cfg.Store.DSN, schemaFrom(cfg), cfg.Store.MaxOpenConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return &env{cfg: cfg, store: store}, nil
}

func (e *env) close() {
	if err := e.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
}

func schemaFrom(cfg *config.Config) storage.Schema {
	return storage.Schema{
		Table:     cfg.Store.Table,
		Timestamp: cfg.Store.Columns.Timestamp,
		Ward:      cfg.Store.Columns.Ward,
		Organism:  cfg.Store.Columns.Organism,
		Outcome:   cfg.Store.Columns.Outcome,
		Location:  cfg.Store.Columns.Location,
	}
}

func paramsFrom(cfg *config.Config) analysis.Params {
	return analysis.Params{
		WindowDays:      cfg.Analysis.WindowDays,
		ZThreshold:      cfg.Analysis.ZThreshold,
		WindowMode:      analysis.WindowMode(cfg.Analysis.WindowMode),
		CountMinSupport: cfg.Analysis.CountMinSupport,
		RateDirection:   analysis.Direction(cfg.Analysis.RateDirection),
	}
}
