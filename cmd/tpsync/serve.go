package main

import (
	"context"
	"errors"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/gw2shinies/tpsync/internal/adapters/inbound/http"
)

// serveOptions holds flags for the serve command.
type serveOptions struct {
	*rootOptions
	NoHistory       bool
	ShutdownTimeout time.Duration
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API",
		Long: `Run the item, recipe and price jobs on their schedules and serve the
read API and health probes on HTTP_ADDR.

A one-shot history recovery for tradeable items without stored prices
starts in the background unless --no-history is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoHistory, "no-history", false, "skip background history recovery")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "grace period for in-flight requests")

	return cmd
}

func runServe(parent context.Context, opts *serveOptions) error {
	cfg, logger, err := loadConfig(opts.rootOptions)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	var shuttingDown atomic.Bool
	server := apihttp.NewServer(apihttp.ServerConfig{
		Addr:   cfg.HTTPAddr,
		Logger: logger,
	}, a.scheduler, &shuttingDown, apihttp.NewHandler(a.reader, a.scheduler, logger))
	server.Start()

	if !opts.NoHistory {
		recovery, err := a.newHistoryRecovery(0)
		if err != nil {
			return err
		}
		recovery.Start(ctx)
		defer recovery.Stop()
	}

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- a.scheduler.Run(ctx)
	}()

	logger.Info("tpsync running", "addr", cfg.HTTPAddr)

	schedulerDone := false
	select {
	case <-ctx.Done():
		logger.Info("received signal, shutting down...")
	case err := <-schedErr:
		if err != nil {
			logger.Error("scheduler exited", "error", err)
		}
		schedulerDone = true
		stop()
	}

	shuttingDown.Store(true)
	if err := server.Shutdown(opts.ShutdownTimeout); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("http server shutdown", "error", err)
	}

	// Run returns once every in-flight job has finished.
	if !schedulerDone {
		select {
		case <-schedErr:
		case <-time.After(opts.ShutdownTimeout):
			logger.Warn("scheduler did not stop in time")
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
