// Package catalog serves read access to synchronized items, recipes and prices.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/inbound"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

var _ inbound.CatalogReader = (*Reader)(nil)

// Reader implements inbound.CatalogReader over the store, reading current
// prices through the cache when one is configured.
type Reader struct {
	store  outbound.Store
	cache  outbound.PriceCache
	logger *slog.Logger
}

// NewReader creates a catalog reader. cache may be nil.
func NewReader(store outbound.Store, cache outbound.PriceCache, logger *slog.Logger) (*Reader, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		store:  store,
		cache:  cache,
		logger: logger.With("component", "catalog-reader"),
	}, nil
}

// GetItem returns one item or entity.ErrNotFound.
func (r *Reader) GetItem(ctx context.Context, id int64) (*entity.Item, error) {
	items, err := r.store.GetItems(ctx, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	item, ok := items[id]
	if !ok {
		return nil, fmt.Errorf("item %d: %w", id, entity.ErrNotFound)
	}
	return item, nil
}

// GetRecipe returns one recipe or entity.ErrNotFound.
func (r *Reader) GetRecipe(ctx context.Context, id int64) (*entity.Recipe, error) {
	recipes, err := r.store.GetRecipes(ctx, []int64{id})
	if err != nil {
		return nil, fmt.Errorf("get recipe %d: %w", id, err)
	}
	recipe, ok := recipes[id]
	if !ok {
		return nil, fmt.Errorf("recipe %d: %w", id, entity.ErrNotFound)
	}
	return recipe, nil
}

// GetRecipesForItem returns the recipes producing itemID. An unknown item
// is entity.ErrNotFound; a known item without recipes yields an empty slice.
func (r *Reader) GetRecipesForItem(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
	if _, err := r.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	recipes, err := r.store.GetRecipesByOutput(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("get recipes for item %d: %w", itemID, err)
	}
	return recipes, nil
}

// GetCurrentPrice returns the newest snapshot for itemID, from the cache
// when possible. Cache errors fall through to the store.
func (r *Reader) GetCurrentPrice(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error) {
	if r.cache != nil {
		snap, err := r.cache.GetCurrent(ctx, itemID)
		if err != nil {
			r.logger.Warn("price cache read failed", "itemID", itemID, "error", err)
		} else if snap != nil {
			return snap, nil
		}
	}
	return r.store.GetCurrentPrice(ctx, itemID)
}

// GetHistory returns stored snapshots for itemID within [from, to].
func (r *Reader) GetHistory(ctx context.Context, itemID int64, from, to time.Time) ([]*entity.PriceSnapshot, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, fmt.Errorf("history range ends before it starts")
	}
	return r.store.GetHistory(ctx, itemID, from, to)
}
