package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Compile-time check that PriceRepository implements outbound.PriceStore.
var _ outbound.PriceStore = (*PriceRepository)(nil)

const snapshotInsertColumns = 6

// appendLockKey is the transaction-scoped advisory lock serializing appends.
// Row locks alone cannot cover items that have no projection row yet.
const appendLockKey int64 = 0x7470_7379_6e63

// PriceRepository is a PostgreSQL implementation of outbound.PriceStore.
type PriceRepository struct {
	pool      *pgxpool.Pool
	txm       outbound.TxManager
	logger    *slog.Logger
	batchSize int
}

// NewPriceRepository creates a new price repository.
// If batchSize is <= 0, a default batch size of 1000 is used.
func NewPriceRepository(pool *pgxpool.Pool, txm outbound.TxManager, logger *slog.Logger, batchSize int) (*PriceRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if txm == nil {
		return nil, fmt.Errorf("transaction manager cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 1000 // Snapshots are simple records, can handle larger batches
	}
	return &PriceRepository{
		pool:      pool,
		txm:       txm,
		logger:    logger.With("component", "price-repository"),
		batchSize: batchSize,
	}, nil
}

// AppendSnapshots appends snapshots and advances the current-price projection.
//
// Appends are serialized with an advisory lock, so the newest-timestamp check
// cannot race another writer.
// Snapshots older than the newest stored for their item are reported as
// OutOfOrder; ones with an equal timestamp as Duplicates.
func (r *PriceRepository) AppendSnapshots(ctx context.Context, snapshots []*entity.PriceSnapshot) (*outbound.AppendResult, error) {
	res := &outbound.AppendResult{}
	if len(snapshots) == 0 {
		return res, nil
	}
	for _, s := range snapshots {
		if err := s.Validate(); err != nil {
			return res, fmt.Errorf("snapshot for item %d: %w", s.ItemID, err)
		}
	}

	err := r.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		*res = outbound.AppendResult{}

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, appendLockKey); err != nil {
			return fmt.Errorf("acquiring append lock: %w", err)
		}

		latest, err := r.latestTimestamps(ctx, tx, snapshots)
		if err != nil {
			return err
		}

		accepted := make([]*entity.PriceSnapshot, 0, len(snapshots))
		newest := make(map[int64]*entity.PriceSnapshot)
		for _, s := range snapshots {
			if ts, ok := latest[s.ItemID]; ok {
				if s.Timestamp.Before(ts) {
					res.OutOfOrder = append(res.OutOfOrder, s.ItemID)
					continue
				}
				if s.Timestamp.Equal(ts) {
					res.Duplicates++
					continue
				}
			}
			latest[s.ItemID] = s.Timestamp
			newest[s.ItemID] = s
			accepted = append(accepted, s)
		}

		for i := 0; i < len(accepted); i += r.batchSize {
			end := min(i+r.batchSize, len(accepted))
			n, err := r.insertSnapshotBatch(ctx, tx, accepted[i:end])
			if err != nil {
				return err
			}
			res.Appended += n
			res.Duplicates += (end - i) - n
		}

		return r.upsertCurrent(ctx, tx, newest)
	})
	if err != nil {
		return &outbound.AppendResult{}, err
	}
	return res, nil
}

// latestTimestamps returns the newest stored timestamp per item.
func (r *PriceRepository) latestTimestamps(ctx context.Context, tx pgx.Tx, snapshots []*entity.PriceSnapshot) (map[int64]time.Time, error) {
	ids := make([]int64, 0, len(snapshots))
	for _, s := range snapshots {
		ids = append(ids, s.ItemID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	rows, err := tx.Query(ctx, `
		SELECT item_id, ts FROM item_price
		WHERE item_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying current prices: %w", err)
	}
	defer rows.Close()

	latest := make(map[int64]time.Time, len(ids))
	for rows.Next() {
		var id int64
		var ts time.Time
		if err := rows.Scan(&id, &ts); err != nil {
			return nil, fmt.Errorf("scanning current price: %w", err)
		}
		latest[id] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating current prices: %w", err)
	}
	return latest, nil
}

func (r *PriceRepository) insertSnapshotBatch(ctx context.Context, tx pgx.Tx, batch []*entity.PriceSnapshot) (int, error) {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO price_snapshot (item_id, ts, buy_price, sell_price, buy_quantity, sell_quantity) VALUES `)
	writeValues(&sb, len(batch), snapshotInsertColumns)
	sb.WriteString(` ON CONFLICT (item_id, ts) DO NOTHING`)

	args := make([]any, 0, len(batch)*snapshotInsertColumns)
	for _, s := range batch {
		args = append(args, s.ItemID, s.Timestamp, s.BuyPrice, s.SellPrice, s.BuyQuantity, s.SellQuantity)
	}

	tag, err := tx.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("appending snapshot batch: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PriceRepository) upsertCurrent(ctx context.Context, tx pgx.Tx, newest map[int64]*entity.PriceSnapshot) error {
	if len(newest) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, s := range newest {
		batch.Queue(`
			INSERT INTO item_price (item_id, ts, buy_price, sell_price, buy_quantity, sell_quantity)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (item_id) DO UPDATE SET
				ts = EXCLUDED.ts,
				buy_price = EXCLUDED.buy_price,
				sell_price = EXCLUDED.sell_price,
				buy_quantity = EXCLUDED.buy_quantity,
				sell_quantity = EXCLUDED.sell_quantity,
				updated_at = now()
			WHERE item_price.ts < EXCLUDED.ts
		`, s.ItemID, s.Timestamp, s.BuyPrice, s.SellPrice, s.BuyQuantity, s.SellQuantity)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("updating current prices: %w", err)
	}
	return nil
}

// GetHistory returns snapshots for itemID within [from, to], oldest first. Zero bounds are open.
func (r *PriceRepository) GetHistory(ctx context.Context, itemID int64, from, to time.Time) ([]*entity.PriceSnapshot, error) {
	var fromArg, toArg *time.Time
	if !from.IsZero() {
		fromArg = &from
	}
	if !to.IsZero() {
		toArg = &to
	}

	rows, err := r.pool.Query(ctx, `
		SELECT item_id, ts, buy_price, sell_price, buy_quantity, sell_quantity
		FROM price_snapshot
		WHERE item_id = $1
		  AND ($2::timestamptz IS NULL OR ts >= $2)
		  AND ($3::timestamptz IS NULL OR ts <= $3)
		ORDER BY ts
	`, itemID, fromArg, toArg)
	if err != nil {
		return nil, fmt.Errorf("querying price history: %w", err)
	}
	defer rows.Close()

	var out []*entity.PriceSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating price history: %w", err)
	}
	return out, nil
}

// GetCurrentPrice returns the projection row for itemID.
func (r *PriceRepository) GetCurrentPrice(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT item_id, ts, buy_price, sell_price, buy_quantity, sell_quantity
		FROM item_price
		WHERE item_id = $1
	`, itemID)

	s, err := scanSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("current price for item %d: %w", itemID, entity.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanSnapshot(row pgx.Row) (*entity.PriceSnapshot, error) {
	var s entity.PriceSnapshot
	if err := row.Scan(&s.ItemID, &s.Timestamp, &s.BuyPrice, &s.SellPrice, &s.BuyQuantity, &s.SellQuantity); err != nil {
		return nil, fmt.Errorf("scanning price snapshot: %w", err)
	}
	return &s, nil
}
