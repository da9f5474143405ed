package entity

import "fmt"

// IngredientKind tags what an ingredient id refers to.
type IngredientKind string

const (
	IngredientItem         IngredientKind = "Item"
	IngredientCurrency     IngredientKind = "Currency"
	IngredientGuildUpgrade IngredientKind = "GuildUpgrade"
)

// Ingredient is one line of a recipe's input list.
type Ingredient struct {
	Kind  IngredientKind
	ID    int64
	Count int
}

// Recipe produces OutputCount units of OutputItemID from its ingredients.
type Recipe struct {
	ID           int64
	OutputItemID int64
	OutputCount  int
	Type         string
	Disciplines  []string
	MinRating    int
	Ingredients  []Ingredient
}

// Validate checks that all fields have valid values.
func (r *Recipe) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("id must be positive, got %d", r.ID)
	}
	if r.OutputItemID <= 0 {
		return fmt.Errorf("outputItemID must be positive, got %d", r.OutputItemID)
	}
	if r.OutputCount <= 0 {
		return fmt.Errorf("outputCount must be positive, got %d", r.OutputCount)
	}
	for i, ing := range r.Ingredients {
		switch ing.Kind {
		case IngredientItem, IngredientCurrency, IngredientGuildUpgrade:
		default:
			return fmt.Errorf("ingredient %d: unknown kind %q", i, ing.Kind)
		}
		if ing.ID <= 0 {
			return fmt.Errorf("ingredient %d: id must be positive, got %d", i, ing.ID)
		}
		if ing.Count <= 0 {
			return fmt.Errorf("ingredient %d: count must be positive, got %d", i, ing.Count)
		}
	}
	return nil
}

// ItemIngredientIDs returns the ids of Item ingredients in recipe order.
// Only these form edges of the recipe graph.
func (r *Recipe) ItemIngredientIDs() []int64 {
	ids := make([]int64, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		if ing.Kind == IngredientItem {
			ids = append(ids, ing.ID)
		}
	}
	return ids
}

// Cycle is a back edge found in the recipe graph. From's recipe consumes To,
// and To already (transitively) consumes From.
type Cycle struct {
	From int64
	To   int64
	Path []int64
}
