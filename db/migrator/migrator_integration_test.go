//go:build integration

package migrator_test

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gw2shinies/tpsync/db/migrations"
	"github.com/gw2shinies/tpsync/db/migrator"
	"github.com/gw2shinies/tpsync/internal/testutil"
)

func TestMigrator_ApplyAll(t *testing.T) {
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, testutil.StartPostgres(t))
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, testutil.DiscardLogger())
	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("failed to apply migrations: %v", err)
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("expected 3 applied migrations, got %v", applied)
	}

	for _, table := range []string{"item", "recipe", "recipe_ingredient", "price_snapshot", "item_price", "sync_cursor"} {
		var exists bool
		err := pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s does not exist", table)
		}
	}

	if err := m.ApplyAll(ctx); err != nil {
		t.Fatalf("second ApplyAll failed: %v", err)
	}
	again, _ := m.ListApplied(ctx)
	if len(again) != len(applied) {
		t.Errorf("migrations not idempotent: %d then %d", len(applied), len(again))
	}
}
