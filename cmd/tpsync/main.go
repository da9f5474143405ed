// Command tpsync keeps a local copy of the Guild Wars 2 item catalog,
// crafting recipes and trading-post prices in PostgreSQL.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/gw2shinies/tpsync/internal/config"
	"github.com/gw2shinies/tpsync/internal/pkg/env"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Verbose bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "tpsync",
		Short:         "Sync GW2 items, recipes and trading-post prices",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging (overrides LOG_LEVEL)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newRecoverHistoryCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// loadConfig reads configuration and builds the process logger.
func loadConfig(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		// LOG_LEVEL may itself be the invalid value; fall back to info.
		level := env.ParseLogLevel(slog.LevelInfo)
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		logger.Error("failed to load configuration", "error", err)
		return nil, nil, err
	}

	level := cfg.LogLevel
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
