package main

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/frontier/internal/config"
	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/pkg/logger"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	dbPath   string
	driver   string
	logLevel string
}

// Execute builds the command tree and runs it.
func Execute(ctx context.Context, out io.Writer) error {
	root := newRootCmd(out)
	return root.ExecuteContext(ctx)
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "frontier",
		Short:         "Mean-variance portfolio analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "price history database (default $HISTORY_DB_PATH or <data dir>/history.db)")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "sqlite driver: sqlite|sqlite3 (default $HISTORY_DB_DRIVER)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (default $LOG_LEVEL)")

	root.AddCommand(analyzeCmd(opts))
	root.AddCommand(importCmd(opts))
	root.AddCommand(symbolsCmd(opts))
	root.AddCommand(pricesCmd(opts))
	return root
}

// setup resolves configuration with flag overrides, then builds the logger
// and opens the history database with the given profile.
func (o *globalOptions) setup(profile database.DatabaseProfile) (*config.Config, zerolog.Logger, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	if o.dbPath != "" {
		cfg.HistoryDBPath = o.dbPath
	}
	if o.driver != "" {
		cfg.HistoryDriver = o.driver
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true, Out: os.Stderr})

	driver, err := database.ParseDriver(cfg.HistoryDriver)
	if err != nil {
		return nil, log, nil, err
	}
	db, err := database.New(database.Config{
		Path:    cfg.HistoryDBPath,
		Driver:  driver,
		Profile: profile,
		Name:    "history",
	})
	if err != nil {
		return nil, log, nil, err
	}
	return cfg, log, db, nil
}
