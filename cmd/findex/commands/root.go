package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wonny/findex/pkg/config"
	"github.com/wonny/findex/pkg/database"
	"github.com/wonny/findex/pkg/logger"
)

var verbose bool

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "findex",
	Short: "findex - rules-based equity index engine",
	Long: `findex tracks equities, derives daily technical signals, constructs
rules-based indices, and keeps the derived dataset consistent.

Usage:
  findex etl run              full pipeline: prices -> signals -> rebalance
  findex etl tickers          refresh the ticker universe
  findex audit --json         scan for consistency issues
  findex repair --auto        fix what the audit found
  findex api                  serve the read-only JSON API
  findex scheduler            run the cron jobs`,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// setup loads config, builds the logger, and connects the database. The
// returned cleanup closes the pool.
func setup() (*config.Config, *logger.Logger, *database.DB, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	db, err := database.New(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, log, db, db.Close, nil
}
