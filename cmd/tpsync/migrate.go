package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gw2shinies/tpsync/db/migrations"
	"github.com/gw2shinies/tpsync/db/migrator"
	"github.com/gw2shinies/tpsync/internal/adapters/outbound/postgres"
)

func newMigrateCommand(rootOpts *rootOptions) *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			ctx := contextOrBackground(cmd.Context())

			pool, err := postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.DatabaseURL))
			if err != nil {
				return err
			}
			defer pool.Close()

			m := migrator.New(pool, migrations.FS, logger)
			if err := m.ApplyAll(ctx); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			logger.Info("all migrations up to date")

			if list {
				applied, err := m.ListApplied(ctx)
				if err != nil {
					return err
				}
				for _, name := range applied {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "print applied migrations")

	return cmd
}
