package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRecoverHistoryCommand(rootOpts *rootOptions) *cobra.Command {
	var maxItems int

	cmd := &cobra.Command{
		Use:   "recover-history",
		Short: "Backfill price history from gw2bltc",
		Long: `Fetch recorded price charts for every tradeable item that has no stored
snapshots yet. Snapshots go through the same append-only rule as live
refreshes, so running this after prices have been collected only fills
items that are still empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			recovery, err := a.newHistoryRecovery(maxItems)
			if err != nil {
				return err
			}
			res, err := recovery.RecoverAll(ctx)
			if err != nil {
				return fmt.Errorf("history recovery failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "items=%d snapshots=%d empty=%d failed=%d out_of_order=%d\n",
				res.Items, res.Snapshots, res.Empty, res.Failed, res.OutOfOrder)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop after this many items (0 = all)")

	return cmd
}
