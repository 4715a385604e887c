package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/config"
	"github.com/rustyeddy/papertrader/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "papertrader",
	Short: "A paper-trading engine for equities",
	Long: `Papertrader simulates trading stocks with virtual cash against live or
recorded quotes.

It provides tools for:
  - Placing manual market orders at the latest quote
  - Running auto-trading rules against a polled or streamed feed
  - Replaying recorded quotes and scripted trades from CSV
  - Reviewing the portfolio and trade history

The ledger is kept in SQLite by default, or Postgres when configured.`,
	SilenceUsage: true,
}

var (
	cfgFile  string
	logLevel string
	logFile  string
	dbPath   string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON); defaults when empty")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite ledger path (overrides the configured store)")
}

// loadConfig reads --config and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	if dbPath != "" {
		cfg.Store.Type = "sqlite"
		cfg.Store.DBPath = dbPath
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*zap.Logger, func() error, error) {
	if cfg.Log.File != "" {
		return logging.NewWithFile(cfg.Log.File, cfg.Log.Level)
	}
	log, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return log, func() error { _ = log.Sync(); return nil }, nil
}
