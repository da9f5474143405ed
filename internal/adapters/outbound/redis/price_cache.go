// Package redis provides a Redis implementation of the PriceCache port.
//
// Current prices are stored as JSON under prefix:price:itemID with a TTL,
// so a stale entry disappears on its own if refreshes stop.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

var _ outbound.PriceCache = (*PriceCache)(nil)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL is how long a cached price lives before expiring
	TTL time.Duration
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// ConfigDefaults returns defaults sized for a 15 minute price cycle.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		TTL:       time.Hour,
		KeyPrefix: "tpsync",
	}
}

// cachedPrice is the JSON value stored per item.
type cachedPrice struct {
	ItemID       int64     `json:"item_id"`
	Timestamp    time.Time `json:"ts"`
	BuyPrice     int64     `json:"buy"`
	SellPrice    int64     `json:"sell"`
	BuyQuantity  int64     `json:"buy_qty"`
	SellQuantity int64     `json:"sell_qty"`
}

// PriceCache is a Redis implementation of the outbound.PriceCache port.
type PriceCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewPriceCache creates a new Redis price cache.
func NewPriceCache(cfg Config, logger *slog.Logger) (*PriceCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = ConfigDefaults().TTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = ConfigDefaults().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &PriceCache{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-price-cache"),
	}, nil
}

// Ping checks the Redis connection.
func (c *PriceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *PriceCache) Close() error {
	return c.client.Close()
}

func (c *PriceCache) key(itemID int64) string {
	return fmt.Sprintf("%s:price:%d", c.keyPrefix, itemID)
}

// SetCurrent writes all snapshots in a single pipeline.
func (c *PriceCache) SetCurrent(ctx context.Context, snapshots []*entity.PriceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, s := range snapshots {
		data, err := json.Marshal(cachedPrice{
			ItemID:       s.ItemID,
			Timestamp:    s.Timestamp.UTC(),
			BuyPrice:     s.BuyPrice,
			SellPrice:    s.SellPrice,
			BuyQuantity:  s.BuyQuantity,
			SellQuantity: s.SellQuantity,
		})
		if err != nil {
			return fmt.Errorf("failed to encode price for item %d: %w", s.ItemID, err)
		}
		pipe.Set(ctx, c.key(s.ItemID), data, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache %d prices: %w", len(snapshots), err)
	}
	c.logger.Debug("cached current prices", "count", len(snapshots))
	return nil
}

// GetCurrent returns the cached price for an item, or nil on a miss.
func (c *PriceCache) GetCurrent(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error) {
	data, err := c.client.Get(ctx, c.key(itemID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price for item %d: %w", itemID, err)
	}

	var cp cachedPrice
	if err := json.Unmarshal(data, &cp); err != nil {
		// A corrupt entry is treated as a miss so readers fall back to the store.
		c.logger.Warn("discarding undecodable cache entry", "itemID", itemID, "error", err)
		return nil, nil
	}
	return &entity.PriceSnapshot{
		ItemID:       cp.ItemID,
		Timestamp:    cp.Timestamp,
		BuyPrice:     cp.BuyPrice,
		SellPrice:    cp.SellPrice,
		BuyQuantity:  cp.BuyQuantity,
		SellQuantity: cp.SellQuantity,
	}, nil
}
