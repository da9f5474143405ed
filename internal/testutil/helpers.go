// Package testutil holds shared fixtures for unit and integration tests.
package testutil

import (
	"context"
	"io"
	"log/slog"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/inbound"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// DiscardLogger returns an slog.Logger that writes to io.Discard.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewItem returns a valid tradeable item fixture.
func NewItem(id int64, name string) *entity.Item {
	return &entity.Item{
		ID:        id,
		Name:      name,
		Type:      "CraftingMaterial",
		Rarity:    "Basic",
		Flags:     []string{},
		Tradeable: true,
	}
}

// NewRecipe returns a recipe producing output from the given item ingredients.
func NewRecipe(id, output int64, ingredients ...int64) *entity.Recipe {
	r := &entity.Recipe{
		ID:           id,
		OutputItemID: output,
		OutputCount:  1,
		Type:         "Refinement",
		Disciplines:  []string{"Artificer"},
	}
	for _, ing := range ingredients {
		r.Ingredients = append(r.Ingredients, entity.Ingredient{Kind: entity.IngredientItem, ID: ing, Count: 1})
	}
	return r
}

// CursorCheckpoint returns a checkpoint that saves the cursor for kind to store.
func CursorCheckpoint(store outbound.CursorStore, kind entity.JobKind) inbound.Checkpoint {
	return func(ctx context.Context, page int, completed bool) error {
		return store.SaveCursor(ctx, &entity.SyncCursor{Kind: kind, Page: page, Completed: completed})
	}
}
