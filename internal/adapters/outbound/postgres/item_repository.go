package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Compile-time check that ItemRepository implements outbound.ItemStore.
var _ outbound.ItemStore = (*ItemRepository)(nil)

const itemColumns = `id, name, type, rarity, level, vendor_value, icon, flags, tradeable, recipe_checked_at, created_at, updated_at`

// itemInsertColumns is the number of parameters per row in item inserts.
const itemInsertColumns = 9

// ItemRepository is a PostgreSQL implementation of outbound.ItemStore.
type ItemRepository struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	batchSize int
}

// NewItemRepository creates a new item repository.
// If batchSize is <= 0, a default batch size of 500 is used.
func NewItemRepository(pool *pgxpool.Pool, logger *slog.Logger, batchSize int) (*ItemRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		// 500 items * 9 params = 4500 parameters per statement
		batchSize = 500
	}
	return &ItemRepository{
		pool:      pool,
		logger:    logger.With("component", "item-repository"),
		batchSize: batchSize,
	}, nil
}

// UpsertItems inserts items or overwrites the attributes of existing ones.
// recipe_checked_at and created_at of existing rows are preserved.
func (r *ItemRepository) UpsertItems(ctx context.Context, items []*entity.Item) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(ctx, tx, r.logger)

	if err := upsertItemsTx(ctx, tx, items, r.batchSize, false); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// upsertItemsTx writes items in batches. When insertOnly is set, existing rows are left untouched.
func upsertItemsTx(ctx context.Context, tx pgx.Tx, items []*entity.Item, batchSize int, insertOnly bool) error {
	items = dedupeItems(items)

	for i := 0; i < len(items); i += batchSize {
		end := min(i+batchSize, len(items))
		batch := items[i:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO item (id, name, type, rarity, level, vendor_value, icon, flags, tradeable) VALUES `)
		writeValues(&sb, len(batch), itemInsertColumns)
		if insertOnly {
			sb.WriteString(` ON CONFLICT (id) DO NOTHING`)
		} else {
			sb.WriteString(` ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				type = EXCLUDED.type,
				rarity = EXCLUDED.rarity,
				level = EXCLUDED.level,
				vendor_value = EXCLUDED.vendor_value,
				icon = EXCLUDED.icon,
				flags = EXCLUDED.flags,
				tradeable = EXCLUDED.tradeable,
				updated_at = now()`)
		}

		args := make([]any, 0, len(batch)*itemInsertColumns)
		for _, it := range batch {
			args = append(args, it.ID, it.Name, it.Type, it.Rarity, it.Level, it.VendorValue, it.Icon, nonNil(it.Flags), it.Tradeable)
		}

		if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("upserting item batch starting at %d: %w", i, err)
		}
	}
	return nil
}

// dedupeItems keeps the last occurrence of each id; a statement may not touch a row twice.
func dedupeItems(items []*entity.Item) []*entity.Item {
	index := make(map[int64]int, len(items))
	out := make([]*entity.Item, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ID]; ok {
			out[i] = it
			continue
		}
		index[it.ID] = len(out)
		out = append(out, it)
	}
	return out
}

// GetItems returns the stored items among ids.
func (r *ItemRepository) GetItems(ctx context.Context, ids []int64) (map[int64]*entity.Item, error) {
	out := make(map[int64]*entity.Item, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM item WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return out, nil
}

// ListItemIDs returns ids matching filter in ascending order.
func (r *ItemRepository) ListItemIDs(ctx context.Context, filter entity.ItemFilter) ([]int64, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT i.id FROM item i WHERE true`)
	if filter.TradeableOnly {
		sb.WriteString(` AND i.tradeable`)
	}
	if filter.PendingRecipe {
		sb.WriteString(` AND i.recipe_checked_at IS NULL`)
	}
	if filter.WithoutHistory {
		sb.WriteString(` AND NOT EXISTS (SELECT 1 FROM item_price p WHERE p.item_id = i.id)`)
	}
	sb.WriteString(` ORDER BY i.id`)

	var args []any
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT $1`)
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("listing item ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collecting item ids: %w", err)
	}
	return ids, nil
}

func scanItem(row pgx.Row) (*entity.Item, error) {
	var it entity.Item
	if err := row.Scan(
		&it.ID, &it.Name, &it.Type, &it.Rarity, &it.Level, &it.VendorValue, &it.Icon, &it.Flags,
		&it.Tradeable, &it.RecipeCheckedAt, &it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning item: %w", err)
	}
	return &it, nil
}
