package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

var _ outbound.TxManager = (*TxManager)(nil)

// TxManager runs multi-table writes (recipe resolutions, snapshot appends)
// in one transaction. fn returning an error, panicking or a failed commit
// all leave the database untouched.
type TxManager struct {
	pool   *pgxpool.Pool
	opts   pgx.TxOptions
	logger *slog.Logger
}

// NewTxManager creates a transaction manager using read-committed transactions.
func NewTxManager(pool *pgxpool.Pool, logger *slog.Logger) (*TxManager, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TxManager{
		pool:   pool,
		opts:   pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
		logger: logger.With("component", "tx-manager"),
	}, nil
}

// WithTransaction executes fn within a database transaction.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := pgx.BeginTxFunc(ctx, m.pool, m.opts, fn); err != nil {
		m.logger.Debug("transaction rolled back", "error", err)
		return err
	}
	return nil
}
