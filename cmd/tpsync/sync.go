package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
)

func newSyncCommand(rootOpts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync {items|recipes|prices}",
		Short: "Run one job kind once and exit",
		Long: `Run a single pass of one job kind with the same cursor and status
bookkeeping as a scheduled run. An interrupted items pass resumes from
its last committed page on the next run.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: jobKindNames(),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := entity.ParseJobKind(args[0])
			if err != nil {
				return err
			}
			return runSync(cmd, rootOpts, kind)
		},
	}
	return cmd
}

func jobKindNames() []string {
	names := make([]string, len(entity.AllJobKinds))
	for i, k := range entity.AllJobKinds {
		names[i] = string(k)
	}
	return names
}

func runSync(cmd *cobra.Command, opts *rootOptions, kind entity.JobKind) error {
	cfg, logger, err := loadConfig(opts)
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

	stats, err := a.scheduler.RunOnce(ctx, kind)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s sync interrupted: %w", kind, context.Cause(ctx))
		}
		return fmt.Errorf("%s sync failed: %w", kind, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: processed=%d written=%d unchanged=%d failed=%d\n",
		kind, stats.Processed, stats.Written, stats.Unchanged, stats.Failed)
	return nil
}
