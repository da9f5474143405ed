package entity

import (
	"fmt"
	"math"
	"time"
)

// ListingFee is the share of a sale the trading post keeps (listing + exchange fee).
const ListingFee = 0.15

// PriceSnapshot is an immutable trading-post quote for one item at one instant.
type PriceSnapshot struct {
	ItemID       int64
	Timestamp    time.Time
	BuyPrice     int64
	SellPrice    int64
	BuyQuantity  int64
	SellQuantity int64
}

// NewPriceSnapshot creates a new PriceSnapshot with validation.
func NewPriceSnapshot(itemID int64, ts time.Time, buyPrice, sellPrice, buyQty, sellQty int64) (*PriceSnapshot, error) {
	s := &PriceSnapshot{
		ItemID:       itemID,
		Timestamp:    ts,
		BuyPrice:     buyPrice,
		SellPrice:    sellPrice,
		BuyQuantity:  buyQty,
		SellQuantity: sellQty,
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that all fields have valid values.
func (s *PriceSnapshot) Validate() error {
	if s.ItemID <= 0 {
		return fmt.Errorf("itemID must be positive, got %d", s.ItemID)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("timestamp must not be zero")
	}
	if s.BuyPrice < 0 || s.SellPrice < 0 {
		return fmt.Errorf("prices must be non-negative, got buy=%d sell=%d", s.BuyPrice, s.SellPrice)
	}
	if s.BuyQuantity < 0 || s.SellQuantity < 0 {
		return fmt.Errorf("quantities must be non-negative, got buy=%d sell=%d", s.BuyQuantity, s.SellQuantity)
	}
	return nil
}

// Profit is what flipping one unit earns: sell after fees minus buy.
func (s *PriceSnapshot) Profit() int64 {
	return int64(math.Round(float64(s.SellPrice)*(1-ListingFee))) - s.BuyPrice
}

// ROI is Profit as a percentage of the buy price. Zero when there is no buy order.
func (s *PriceSnapshot) ROI() float64 {
	if s.BuyPrice == 0 {
		return 0
	}
	return float64(s.Profit()) * 100 / float64(s.BuyPrice)
}
