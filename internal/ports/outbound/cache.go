package outbound

import (
	"context"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
)

// PriceCache mirrors the current-price projection for fast reads.
// It is never the source of truth.
type PriceCache interface {
	// SetCurrent stores the given snapshots as each item's current price.
	SetCurrent(ctx context.Context, snapshots []*entity.PriceSnapshot) error

	// GetCurrent returns the cached current price, or nil on a miss.
	GetCurrent(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error)

	Close() error
}
