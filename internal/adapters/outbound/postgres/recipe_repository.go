package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Compile-time check that RecipeRepository implements outbound.RecipeStore.
var _ outbound.RecipeStore = (*RecipeRepository)(nil)

const (
	recipeInsertColumns     = 6
	ingredientInsertColumns = 5
)

// RecipeRepository is a PostgreSQL implementation of outbound.RecipeStore.
type RecipeRepository struct {
	pool      *pgxpool.Pool
	txm       outbound.TxManager
	logger    *slog.Logger
	batchSize int
}

// NewRecipeRepository creates a new recipe repository.
// If batchSize is <= 0, a default batch size of 500 is used.
func NewRecipeRepository(pool *pgxpool.Pool, txm outbound.TxManager, logger *slog.Logger, batchSize int) (*RecipeRepository, error) {
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
		batchSize = 500
	}
	return &RecipeRepository{
		pool:      pool,
		txm:       txm,
		logger:    logger.With("component", "recipe-repository"),
		batchSize: batchSize,
	}, nil
}

// SaveResolution writes discovered items, recipes and lookup markers in one transaction.
func (r *RecipeRepository) SaveResolution(ctx context.Context, res *outbound.Resolution) error {
	if res == nil {
		return nil
	}

	return r.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := upsertItemsTx(ctx, tx, res.Items, r.batchSize, true); err != nil {
			return fmt.Errorf("saving discovered items: %w", err)
		}
		if err := r.upsertRecipesTx(ctx, tx, res.Recipes); err != nil {
			return err
		}
		if len(res.Checked) > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE item SET recipe_checked_at = $1 WHERE id = ANY($2)`,
				res.CheckedAt, res.Checked,
			); err != nil {
				return fmt.Errorf("marking recipes checked: %w", err)
			}
		}
		return nil
	})
}

func (r *RecipeRepository) upsertRecipesTx(ctx context.Context, tx pgx.Tx, recipes []*entity.Recipe) error {
	if len(recipes) == 0 {
		return nil
	}

	byID := make(map[int64]*entity.Recipe, len(recipes))
	for _, rec := range recipes {
		byID[rec.ID] = rec
	}
	ids := slices.Sorted(maps.Keys(byID))

	for i := 0; i < len(ids); i += r.batchSize {
		end := min(i+r.batchSize, len(ids))
		batchIDs := ids[i:end]

		var sb strings.Builder
		sb.WriteString(`INSERT INTO recipe (id, output_item_id, output_count, type, disciplines, min_rating) VALUES `)
		writeValues(&sb, len(batchIDs), recipeInsertColumns)
		sb.WriteString(` ON CONFLICT (id) DO UPDATE SET
			output_item_id = EXCLUDED.output_item_id,
			output_count = EXCLUDED.output_count,
			type = EXCLUDED.type,
			disciplines = EXCLUDED.disciplines,
			min_rating = EXCLUDED.min_rating,
			updated_at = now()`)

		args := make([]any, 0, len(batchIDs)*recipeInsertColumns)
		for _, id := range batchIDs {
			rec := byID[id]
			args = append(args, rec.ID, rec.OutputItemID, rec.OutputCount, rec.Type, nonNil(rec.Disciplines), rec.MinRating)
		}
		if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("upserting recipe batch: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM recipe_ingredient WHERE recipe_id = ANY($1)`, batchIDs); err != nil {
			return fmt.Errorf("clearing recipe ingredients: %w", err)
		}

		var ingArgs []any
		rows := 0
		for _, id := range batchIDs {
			for pos, ing := range byID[id].Ingredients {
				ingArgs = append(ingArgs, id, pos, string(ing.Kind), ing.ID, ing.Count)
				rows++
			}
		}
		if rows == 0 {
			continue
		}

		var isb strings.Builder
		isb.WriteString(`INSERT INTO recipe_ingredient (recipe_id, position, kind, ingredient_id, count) VALUES `)
		writeValues(&isb, rows, ingredientInsertColumns)
		if _, err := tx.Exec(ctx, isb.String(), ingArgs...); err != nil {
			return fmt.Errorf("inserting recipe ingredients: %w", err)
		}
	}
	return nil
}

// GetRecipes returns the stored recipes among ids.
func (r *RecipeRepository) GetRecipes(ctx context.Context, ids []int64) (map[int64]*entity.Recipe, error) {
	out := make(map[int64]*entity.Recipe, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, output_item_id, output_count, type, disciplines, min_rating
		FROM recipe
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying recipes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec entity.Recipe
		if err := rows.Scan(&rec.ID, &rec.OutputItemID, &rec.OutputCount, &rec.Type, &rec.Disciplines, &rec.MinRating); err != nil {
			return nil, fmt.Errorf("scanning recipe: %w", err)
		}
		out[rec.ID] = &rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recipes: %w", err)
	}

	if len(out) == 0 {
		return out, nil
	}
	if err := r.loadIngredients(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RecipeRepository) loadIngredients(ctx context.Context, recipes map[int64]*entity.Recipe) error {
	ids := slices.Collect(maps.Keys(recipes))

	rows, err := r.pool.Query(ctx, `
		SELECT recipe_id, kind, ingredient_id, count
		FROM recipe_ingredient
		WHERE recipe_id = ANY($1)
		ORDER BY recipe_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("querying recipe ingredients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recipeID int64
		var kind string
		var ing entity.Ingredient
		if err := rows.Scan(&recipeID, &kind, &ing.ID, &ing.Count); err != nil {
			return fmt.Errorf("scanning recipe ingredient: %w", err)
		}
		ing.Kind = entity.IngredientKind(kind)
		rec := recipes[recipeID]
		rec.Ingredients = append(rec.Ingredients, ing)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating recipe ingredients: %w", err)
	}
	return nil
}

// GetRecipesByOutput returns the recipes producing itemID ordered by recipe id.
func (r *RecipeRepository) GetRecipesByOutput(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM recipe WHERE output_item_id = $1 ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("querying recipes by output: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collecting recipe ids: %w", err)
	}

	byID, err := r.GetRecipes(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*entity.Recipe, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}
