package outbound

import (
	"context"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
)

// ItemStore persists catalog items.
type ItemStore interface {
	// UpsertItems inserts new items and overwrites attributes of existing ones.
	// The recipe marker of existing items is preserved.
	UpsertItems(ctx context.Context, items []*entity.Item) error

	// GetItems returns the stored items among ids, keyed by id. Unknown ids are absent.
	GetItems(ctx context.Context, ids []int64) (map[int64]*entity.Item, error)

	// ListItemIDs returns ids matching filter in ascending order.
	ListItemIDs(ctx context.Context, filter entity.ItemFilter) ([]int64, error)
}

// Resolution is the outcome of one recipe resolution pass, written atomically.
type Resolution struct {
	Recipes []*entity.Recipe

	// Items discovered as ingredients that were not yet stored.
	Items []*entity.Item

	// Checked are item ids whose recipes have been looked up.
	Checked   []int64
	CheckedAt time.Time
}

// RecipeStore persists recipes and the recipe lookup markers on items.
type RecipeStore interface {
	// SaveResolution writes recipes, new items and markers in one transaction.
	SaveResolution(ctx context.Context, res *Resolution) error

	// GetRecipes returns the stored recipes among ids, keyed by id.
	GetRecipes(ctx context.Context, ids []int64) (map[int64]*entity.Recipe, error)

	// GetRecipesByOutput returns the recipes producing itemID.
	GetRecipesByOutput(ctx context.Context, itemID int64) ([]*entity.Recipe, error)
}

// AppendResult reports what AppendSnapshots did.
type AppendResult struct {
	Appended int

	// Duplicates share an item and timestamp with a stored snapshot.
	Duplicates int

	// OutOfOrder are item ids whose snapshot was older than the newest stored one.
	OutOfOrder []int64
}

// PriceStore persists the append-only price history and its current-price projection.
type PriceStore interface {
	// AppendSnapshots appends snapshots and advances each item's current price.
	// A snapshot older than the newest stored for its item is rejected and
	// reported in OutOfOrder; stored history is never modified.
	AppendSnapshots(ctx context.Context, snapshots []*entity.PriceSnapshot) (*AppendResult, error)

	// GetHistory returns snapshots for itemID with from <= ts <= to, oldest first.
	// Zero bounds are open.
	GetHistory(ctx context.Context, itemID int64, from, to time.Time) ([]*entity.PriceSnapshot, error)

	// GetCurrentPrice returns the newest snapshot for itemID or entity.ErrNotFound.
	GetCurrentPrice(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error)
}

// CursorStore persists per-kind sync cursors.
type CursorStore interface {
	// GetCursor returns the cursor for kind, or nil if none has been saved.
	GetCursor(ctx context.Context, kind entity.JobKind) (*entity.SyncCursor, error)

	SaveCursor(ctx context.Context, cursor *entity.SyncCursor) error

	ListCursors(ctx context.Context) ([]*entity.SyncCursor, error)
}

// Store aggregates every persistence port.
type Store interface {
	ItemStore
	RecipeStore
	PriceStore
	CursorStore

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
