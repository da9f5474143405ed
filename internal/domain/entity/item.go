package entity

import (
	"fmt"
	"slices"
	"time"
)

// Flags that keep an item off the trading post.
const (
	FlagAccountBound      = "AccountBound"
	FlagSoulbindOnAcquire = "SoulbindOnAcquire"
	FlagNoSell            = "NoSell"
)

// Item is a catalog entry keyed by its upstream id.
type Item struct {
	ID          int64
	Name        string
	Type        string
	Rarity      string
	Level       int
	VendorValue int64
	Icon        string
	Flags       []string
	Tradeable   bool

	// RecipeCheckedAt is set once the recipes producing this item have been
	// looked up upstream. Nil means the item is still in the recipe frontier.
	RecipeCheckedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewItem creates a new Item with Tradeable derived from flags.
func NewItem(id int64, name, itemType, rarity string, level int, vendorValue int64, icon string, flags []string) (*Item, error) {
	it := &Item{
		ID:          id,
		Name:        name,
		Type:        itemType,
		Rarity:      rarity,
		Level:       level,
		VendorValue: vendorValue,
		Icon:        icon,
		Flags:       flags,
		Tradeable:   IsTradeable(flags),
	}
	if err := it.Validate(); err != nil {
		return nil, err
	}
	return it, nil
}

// IsTradeable reports whether an item carrying the given flags can be listed
// on the trading post.
func IsTradeable(flags []string) bool {
	for _, f := range flags {
		switch f {
		case FlagAccountBound, FlagSoulbindOnAcquire, FlagNoSell:
			return false
		}
	}
	return true
}

// Validate checks that all fields have valid values.
func (it *Item) Validate() error {
	if it.ID <= 0 {
		return fmt.Errorf("id must be positive, got %d", it.ID)
	}
	if it.Type == "" {
		return fmt.Errorf("type must not be empty")
	}
	if it.Level < 0 {
		return fmt.Errorf("level must be non-negative, got %d", it.Level)
	}
	if it.VendorValue < 0 {
		return fmt.Errorf("vendorValue must be non-negative, got %d", it.VendorValue)
	}
	return nil
}

// Equal reports whether two items carry the same upstream content.
// Bookkeeping fields (timestamps, recipe marker) are ignored.
func (it *Item) Equal(other *Item) bool {
	if it == nil || other == nil {
		return it == other
	}
	return it.ID == other.ID &&
		it.Name == other.Name &&
		it.Type == other.Type &&
		it.Rarity == other.Rarity &&
		it.Level == other.Level &&
		it.VendorValue == other.VendorValue &&
		it.Icon == other.Icon &&
		it.Tradeable == other.Tradeable &&
		slices.Equal(it.Flags, other.Flags)
}

// ItemFilter selects item ids from the store.
type ItemFilter struct {
	// TradeableOnly restricts results to items that can be listed.
	TradeableOnly bool

	// PendingRecipe restricts results to items whose recipes have not been looked up.
	PendingRecipe bool

	// WithoutHistory restricts results to items with no stored price snapshots.
	WithoutHistory bool

	// Limit caps the number of ids returned. Zero means no limit.
	Limit int
}
