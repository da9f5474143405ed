// Package gw2bltc implements the HistorySource port against gw2bltc.com's
// trading-post chart API.
package gw2bltc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/pkg/httpclient"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.HistorySource.
var _ outbound.HistorySource = (*Client)(nil)

// ClientConfig holds configuration for the gw2bltc client.
type ClientConfig struct {
	// BaseURL defaults to https://www.gw2bltc.com
	BaseURL string

	// HTTP holds timeout, retry and rate limit settings.
	HTTP httpclient.Config

	Logger     *slog.Logger
	HTTPClient *http.Client
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	cfg := httpclient.DefaultConfig()
	cfg.RateLimitPerMin = 600
	return ClientConfig{
		BaseURL: "https://www.gw2bltc.com",
		HTTP:    cfg,
		Logger:  slog.Default(),
	}
}

// Client fetches price history charts.
type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a new gw2bltc client.
func NewClient(config ClientConfig) *Client {
	defaults := ClientConfigDefaults()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.HTTP.RateLimitPerMin == 0 {
		config.HTTP.RateLimitPerMin = defaults.HTTP.RateLimitPerMin
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	logger := config.Logger.With("component", "gw2bltc-client")
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    httpclient.NewClient(config.HTTP, config.HTTPClient, logger),
		logger:  logger,
	}
}

// FetchHistory returns the chart for itemID oldest first. Each chart row is
// [unix seconds, sell, buy, supply, demand]; shorter rows are skipped.
// A 404 means the item was never tracked and yields no snapshots.
func (c *Client) FetchHistory(ctx context.Context, itemID int64) ([]*entity.PriceSnapshot, error) {
	var rows [][]int64
	url := fmt.Sprintf("%s/api/tp/chart/%d", c.baseURL, itemID)
	if _, err := c.http.Get(ctx, url, &rows); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching history for item %d: %w", itemID, err)
	}

	snapshots := make([]*entity.PriceSnapshot, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 || row[0] <= 0 {
			continue
		}
		snapshots = append(snapshots, &entity.PriceSnapshot{
			ItemID:       itemID,
			Timestamp:    time.Unix(row[0], 0).UTC(),
			SellPrice:    row[1],
			BuyPrice:     row[2],
			SellQuantity: row[3],
			BuyQuantity:  row[4],
		})
	}

	slices.SortStableFunc(snapshots, func(a, b *entity.PriceSnapshot) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	return snapshots, nil
}
