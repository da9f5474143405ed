package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Compile-time check that CursorRepository implements outbound.CursorStore.
var _ outbound.CursorStore = (*CursorRepository)(nil)

// CursorRepository is a PostgreSQL implementation of outbound.CursorStore.
type CursorRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewCursorRepository creates a new cursor repository.
func NewCursorRepository(pool *pgxpool.Pool, logger *slog.Logger) (*CursorRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CursorRepository{
		pool:   pool,
		logger: logger.With("component", "cursor-repository"),
	}, nil
}

// GetCursor returns the cursor for kind, or nil if none has been saved.
func (r *CursorRepository) GetCursor(ctx context.Context, kind entity.JobKind) (*entity.SyncCursor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT kind, page, completed, last_run_at, last_success_at, last_error, updated_at
		FROM sync_cursor
		WHERE kind = $1
	`, string(kind))

	c, err := scanCursor(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// SaveCursor upserts the cursor.
func (r *CursorRepository) SaveCursor(ctx context.Context, cursor *entity.SyncCursor) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_cursor (kind, page, completed, last_run_at, last_success_at, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (kind) DO UPDATE SET
			page = EXCLUDED.page,
			completed = EXCLUDED.completed,
			last_run_at = EXCLUDED.last_run_at,
			last_success_at = EXCLUDED.last_success_at,
			last_error = EXCLUDED.last_error,
			updated_at = now()
	`, string(cursor.Kind), cursor.Page, cursor.Completed, cursor.LastRunAt, cursor.LastSuccessAt, cursor.LastError)
	if err != nil {
		return fmt.Errorf("saving %s cursor: %w", cursor.Kind, err)
	}
	return nil
}

// ListCursors returns every saved cursor ordered by kind.
func (r *CursorRepository) ListCursors(ctx context.Context) ([]*entity.SyncCursor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, page, completed, last_run_at, last_success_at, last_error, updated_at
		FROM sync_cursor
		ORDER BY kind
	`)
	if err != nil {
		return nil, fmt.Errorf("querying cursors: %w", err)
	}
	defer rows.Close()

	var out []*entity.SyncCursor
	for rows.Next() {
		c, err := scanCursor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cursors: %w", err)
	}
	return out, nil
}

func scanCursor(row pgx.Row) (*entity.SyncCursor, error) {
	var c entity.SyncCursor
	var kind string
	if err := row.Scan(&kind, &c.Page, &c.Completed, &c.LastRunAt, &c.LastSuccessAt, &c.LastError, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning cursor: %w", err)
	}
	c.Kind = entity.JobKind(kind)
	return &c, nil
}
