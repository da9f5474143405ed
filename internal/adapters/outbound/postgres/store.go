package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Compile-time check that Store implements outbound.Store.
var _ outbound.Store = (*Store)(nil)

// RepositoryConfig holds batch sizes for multi-row statements.
// PostgreSQL caps a statement at 65535 parameters.
type RepositoryConfig struct {
	// ItemBatchSize: 500 items * 9 params = 4500 parameters per statement.
	ItemBatchSize int

	// RecipeBatchSize: 500 recipes * 6 params, plus their ingredient rows.
	RecipeBatchSize int

	// SnapshotBatchSize: 1000 snapshots * 6 params = 6000 parameters per statement.
	SnapshotBatchSize int
}

// DefaultRepositoryConfig returns a RepositoryConfig with sensible defaults.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		ItemBatchSize:     500,
		RecipeBatchSize:   500,
		SnapshotBatchSize: 1000,
	}
}

// Store aggregates the repositories behind the outbound.Store port.
type Store struct {
	*ItemRepository
	*RecipeRepository
	*PriceRepository
	*CursorRepository

	pool *pgxpool.Pool
}

// NewStore wires every repository onto one pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger, cfg RepositoryConfig) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	txm, err := NewTxManager(pool, logger)
	if err != nil {
		return nil, err
	}
	items, err := NewItemRepository(pool, logger, cfg.ItemBatchSize)
	if err != nil {
		return nil, err
	}
	recipes, err := NewRecipeRepository(pool, txm, logger, cfg.RecipeBatchSize)
	if err != nil {
		return nil, err
	}
	prices, err := NewPriceRepository(pool, txm, logger, cfg.SnapshotBatchSize)
	if err != nil {
		return nil, err
	}
	cursors, err := NewCursorRepository(pool, logger)
	if err != nil {
		return nil, err
	}

	return &Store{
		ItemRepository:   items,
		RecipeRepository: recipes,
		PriceRepository:  prices,
		CursorRepository: cursors,
		pool:             pool,
	}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
