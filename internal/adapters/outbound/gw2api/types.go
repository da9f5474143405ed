package gw2api

import (
	"fmt"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
)

// itemResponse represents one element of /v2/items.
// Example response:
//
//	{
//	  "id": 19721,
//	  "name": "Glob of Ectoplasm",
//	  "type": "CraftingMaterial",
//	  "level": 0,
//	  "rarity": "Exotic",
//	  "vendor_value": 96,
//	  "icon": "https://render.guildwars2.com/file/18CE5D78317265000CF3C23ED76AB3CEE86BA60E/65941.png",
//	  "flags": ["NoSalvage"]
//	}
type itemResponse struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Level       int      `json:"level"`
	Rarity      string   `json:"rarity"`
	VendorValue int64    `json:"vendor_value"`
	Icon        string   `json:"icon"`
	Flags       []string `json:"flags"`
}

func (r itemResponse) toEntity() (*entity.Item, error) {
	it, err := entity.NewItem(r.ID, r.Name, r.Type, r.Rarity, r.Level, r.VendorValue, r.Icon, r.Flags)
	if err != nil {
		return nil, fmt.Errorf("%w: item %d: %v", entity.ErrSchemaMismatch, r.ID, err)
	}
	return it, nil
}

// recipeResponse represents one element of /v2/recipes.
// Example response:
//
//	{
//	  "id": 7319,
//	  "type": "Refinement",
//	  "output_item_id": 19713,
//	  "output_item_count": 1,
//	  "min_rating": 0,
//	  "disciplines": ["Artificer", "Weaponsmith"],
//	  "ingredients": [{"type": "Item", "id": 19723, "count": 2}]
//	}
//
// Older schema versions list item ingredients as {"item_id", "count"} and
// guild upgrades under guild_ingredients; both shapes are accepted.
type recipeResponse struct {
	ID               int64                     `json:"id"`
	Type             string                    `json:"type"`
	OutputItemID     int64                     `json:"output_item_id"`
	OutputItemCount  int                       `json:"output_item_count"`
	MinRating        int                       `json:"min_rating"`
	Disciplines      []string                  `json:"disciplines"`
	Ingredients      []ingredientResponse      `json:"ingredients"`
	GuildIngredients []guildIngredientResponse `json:"guild_ingredients"`
}

type ingredientResponse struct {
	Type   string `json:"type"`
	ID     int64  `json:"id"`
	ItemID int64  `json:"item_id"`
	Count  int    `json:"count"`
}

type guildIngredientResponse struct {
	UpgradeID int64 `json:"upgrade_id"`
	Count     int   `json:"count"`
}

func (r recipeResponse) toEntity() (*entity.Recipe, error) {
	rec := &entity.Recipe{
		ID:           r.ID,
		OutputItemID: r.OutputItemID,
		OutputCount:  r.OutputItemCount,
		Type:         r.Type,
		Disciplines:  r.Disciplines,
		MinRating:    r.MinRating,
		Ingredients:  make([]entity.Ingredient, 0, len(r.Ingredients)+len(r.GuildIngredients)),
	}

	for _, ing := range r.Ingredients {
		kind := entity.IngredientKind(ing.Type)
		id := ing.ID
		if ing.Type == "" && ing.ItemID != 0 {
			kind = entity.IngredientItem
			id = ing.ItemID
		}
		rec.Ingredients = append(rec.Ingredients, entity.Ingredient{Kind: kind, ID: id, Count: ing.Count})
	}
	for _, g := range r.GuildIngredients {
		rec.Ingredients = append(rec.Ingredients, entity.Ingredient{
			Kind:  entity.IngredientGuildUpgrade,
			ID:    g.UpgradeID,
			Count: g.Count,
		})
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: recipe %d: %v", entity.ErrSchemaMismatch, r.ID, err)
	}
	return rec, nil
}

// priceResponse represents one element of /v2/commerce/prices.
// Example response:
//
//	{
//	  "id": 19721,
//	  "whitelisted": false,
//	  "buys": {"quantity": 145975, "unit_price": 2401},
//	  "sells": {"quantity": 93000, "unit_price": 2578}
//	}
type priceResponse struct {
	ID          int64        `json:"id"`
	Whitelisted bool         `json:"whitelisted"`
	Buys        priceListing `json:"buys"`
	Sells       priceListing `json:"sells"`
}

type priceListing struct {
	Quantity  int64 `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// toEntity returns an unstamped snapshot; the refresher assigns the cycle timestamp.
func (r priceResponse) toEntity() (*entity.PriceSnapshot, error) {
	if r.ID <= 0 || r.Buys.UnitPrice < 0 || r.Sells.UnitPrice < 0 || r.Buys.Quantity < 0 || r.Sells.Quantity < 0 {
		return nil, fmt.Errorf("%w: price %d: invalid listing", entity.ErrSchemaMismatch, r.ID)
	}
	return &entity.PriceSnapshot{
		ItemID:       r.ID,
		BuyPrice:     r.Buys.UnitPrice,
		SellPrice:    r.Sells.UnitPrice,
		BuyQuantity:  r.Buys.Quantity,
		SellQuantity: r.Sells.Quantity,
	}, nil
}
