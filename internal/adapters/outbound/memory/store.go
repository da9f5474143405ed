// Package memory provides an in-memory implementation of the Store port.
//
// This adapter is designed for testing and development purposes. It stores:
//   - Items and recipes keyed by id, with a recipe-by-output index
//   - Per-item price history (append-only) and the current-price projection
//   - Sync cursors keyed by job kind
//
// All operations are thread-safe using sync.RWMutex. Data is lost on process restart.
// For production use, see the postgres adapter.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Compile-time check that Store implements outbound.Store
var _ outbound.Store = (*Store)(nil)

// Store is an in-memory implementation of outbound.Store.
type Store struct {
	mu       sync.RWMutex
	items    map[int64]*entity.Item
	recipes  map[int64]*entity.Recipe
	byOutput map[int64][]int64
	history  map[int64][]*entity.PriceSnapshot
	cursors  map[entity.JobKind]*entity.SyncCursor

	itemWrites int
	now        func() time.Time
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		items:    make(map[int64]*entity.Item),
		recipes:  make(map[int64]*entity.Recipe),
		byOutput: make(map[int64][]int64),
		history:  make(map[int64][]*entity.PriceSnapshot),
		cursors:  make(map[entity.JobKind]*entity.SyncCursor),
		now:      time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// ItemWrites returns how many item rows have been written since creation.
func (s *Store) ItemWrites() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemWrites
}

// UpsertItems inserts or overwrites items, preserving the recipe marker and CreatedAt.
func (s *Store) UpsertItems(ctx context.Context, items []*entity.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upsertItemsLocked(items)
	return nil
}

func (s *Store) upsertItemsLocked(items []*entity.Item) {
	now := s.now()
	for _, it := range items {
		c := copyItem(it)
		if existing, ok := s.items[it.ID]; ok {
			c.RecipeCheckedAt = existing.RecipeCheckedAt
			c.CreatedAt = existing.CreatedAt
		} else {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		s.items[it.ID] = c
		s.itemWrites++
	}
}

// GetItems returns the stored items among ids.
func (s *Store) GetItems(ctx context.Context, ids []int64) (map[int64]*entity.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]*entity.Item, len(ids))
	for _, id := range ids {
		if it, ok := s.items[id]; ok {
			out[id] = copyItem(it)
		}
	}
	return out, nil
}

// ListItemIDs returns ids matching filter in ascending order.
func (s *Store) ListItemIDs(ctx context.Context, filter entity.ItemFilter) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.items))
	for id, it := range s.items {
		if filter.TradeableOnly && !it.Tradeable {
			continue
		}
		if filter.PendingRecipe && it.RecipeCheckedAt != nil {
			continue
		}
		if filter.WithoutHistory && len(s.history[id]) > 0 {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	if filter.Limit > 0 && len(ids) > filter.Limit {
		ids = ids[:filter.Limit]
	}
	return ids, nil
}

// SaveResolution applies a resolution pass atomically.
func (s *Store) SaveResolution(ctx context.Context, res *outbound.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newItems := make([]*entity.Item, 0, len(res.Items))
	for _, it := range res.Items {
		if _, ok := s.items[it.ID]; !ok {
			newItems = append(newItems, it)
		}
	}
	s.upsertItemsLocked(newItems)

	for _, r := range res.Recipes {
		if old, ok := s.recipes[r.ID]; ok && old.OutputItemID != r.OutputItemID {
			s.byOutput[old.OutputItemID] = slices.DeleteFunc(s.byOutput[old.OutputItemID], func(id int64) bool { return id == r.ID })
		}
		if !slices.Contains(s.byOutput[r.OutputItemID], r.ID) {
			s.byOutput[r.OutputItemID] = append(s.byOutput[r.OutputItemID], r.ID)
		}
		s.recipes[r.ID] = copyRecipe(r)
	}

	checkedAt := res.CheckedAt
	for _, id := range res.Checked {
		if it, ok := s.items[id]; ok {
			it.RecipeCheckedAt = &checkedAt
		}
	}
	return nil
}

// GetRecipes returns the stored recipes among ids.
func (s *Store) GetRecipes(ctx context.Context, ids []int64) (map[int64]*entity.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]*entity.Recipe, len(ids))
	for _, id := range ids {
		if r, ok := s.recipes[id]; ok {
			out[id] = copyRecipe(r)
		}
	}
	return out, nil
}

// GetRecipesByOutput returns the recipes producing itemID ordered by recipe id.
func (s *Store) GetRecipesByOutput(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := slices.Sorted(slices.Values(s.byOutput[itemID]))
	out := make([]*entity.Recipe, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecipe(s.recipes[id]))
	}
	return out, nil
}

// AppendSnapshots appends snapshots, rejecting any older than the newest stored for its item.
func (s *Store) AppendSnapshots(ctx context.Context, snapshots []*entity.PriceSnapshot) (*outbound.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &outbound.AppendResult{}
	for _, snap := range snapshots {
		if err := snap.Validate(); err != nil {
			return res, fmt.Errorf("snapshot for item %d: %w", snap.ItemID, err)
		}
	}

	for _, snap := range snapshots {
		h := s.history[snap.ItemID]
		if n := len(h); n > 0 {
			latest := h[n-1].Timestamp
			if snap.Timestamp.Before(latest) {
				res.OutOfOrder = append(res.OutOfOrder, snap.ItemID)
				continue
			}
			if snap.Timestamp.Equal(latest) {
				res.Duplicates++
				continue
			}
		}

		c := *snap
		s.history[snap.ItemID] = append(h, &c)
		res.Appended++
	}
	return res, nil
}

// GetHistory returns snapshots for itemID within [from, to]; zero bounds are open.
func (s *Store) GetHistory(ctx context.Context, itemID int64, from, to time.Time) ([]*entity.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.PriceSnapshot
	for _, snap := range s.history[itemID] {
		if !from.IsZero() && snap.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && snap.Timestamp.After(to) {
			continue
		}
		c := *snap
		out = append(out, &c)
	}
	return out, nil
}

// GetCurrentPrice returns the newest snapshot for itemID.
func (s *Store) GetCurrentPrice(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[itemID]
	if len(h) == 0 {
		return nil, fmt.Errorf("current price for item %d: %w", itemID, entity.ErrNotFound)
	}
	c := *h[len(h)-1]
	return &c, nil
}

// GetCursor returns the cursor for kind, or nil.
func (s *Store) GetCursor(ctx context.Context, kind entity.JobKind) (*entity.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.cursors[kind]; ok {
		cc := *c
		return &cc, nil
	}
	return nil, nil
}

// SaveCursor stores the cursor.
func (s *Store) SaveCursor(ctx context.Context, cursor *entity.SyncCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cursor
	c.UpdatedAt = s.now()
	s.cursors[cursor.Kind] = &c
	return nil
}

// ListCursors returns all cursors ordered by kind.
func (s *Store) ListCursors(ctx context.Context) ([]*entity.SyncCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*entity.SyncCursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		cc := *c
		out = append(out, &cc)
	}
	slices.SortFunc(out, func(a, b *entity.SyncCursor) int {
		if a.Kind < b.Kind {
			return -1
		}
		if a.Kind > b.Kind {
			return 1
		}
		return 0
	})
	return out, nil
}

func copyItem(it *entity.Item) *entity.Item {
	c := *it
	c.Flags = slices.Clone(it.Flags)
	return &c
}

func copyRecipe(r *entity.Recipe) *entity.Recipe {
	c := *r
	c.Disciplines = slices.Clone(r.Disciplines)
	c.Ingredients = slices.Clone(r.Ingredients)
	return &c
}
