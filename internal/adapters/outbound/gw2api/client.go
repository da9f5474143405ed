// Package gw2api implements the Upstream port against the Guild Wars 2 public API.
// It provides paginated and by-id access to items, recipes and trading-post prices with:
//   - Retry with exponential backoff for transient failures
//   - Rate limiting to stay within the API's request budget
//   - Per-id not-found reporting for batch lookups
package gw2api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/pkg/httpclient"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

// Compile-time check that Client implements outbound.Upstream.
var _ outbound.Upstream = (*Client)(nil)

// ClientConfig holds configuration for the GW2 API client.
type ClientConfig struct {
	// BaseURL is the API root. Defaults to https://api.guildwars2.com
	BaseURL string

	// SchemaVersion is sent as the v query parameter to pin response shapes.
	SchemaVersion string

	// PageSize is the page_size used for paginated listings (upstream maximum 200).
	PageSize int

	// BatchSize is the maximum number of ids per by-id request (upstream maximum 200).
	BatchSize int

	// HTTP holds timeout, retry and rate limit settings.
	HTTP httpclient.Config

	// Logger is the structured logger for the client.
	Logger *slog.Logger

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// ClientConfigDefaults returns a config with default values.
func ClientConfigDefaults() ClientConfig {
	return ClientConfig{
		BaseURL:       "https://api.guildwars2.com",
		SchemaVersion: "2022-03-23T19:00:00.000Z",
		PageSize:      200,
		BatchSize:     200,
		HTTP:          httpclient.DefaultConfig(),
		Logger:        slog.Default(),
	}
}

func applyDefaults(config *ClientConfig, defaults ClientConfig) {
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.SchemaVersion == "" {
		config.SchemaVersion = defaults.SchemaVersion
	}
	if config.PageSize <= 0 || config.PageSize > defaults.PageSize {
		config.PageSize = defaults.PageSize
	}
	if config.BatchSize <= 0 || config.BatchSize > defaults.BatchSize {
		config.BatchSize = defaults.BatchSize
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
}

// Client implements outbound.Upstream using the GW2 v2 API.
type Client struct {
	config ClientConfig
	http   *httpclient.Client
	logger *slog.Logger
}

// NewClient creates a new GW2 API client.
func NewClient(config ClientConfig) (*Client, error) {
	applyDefaults(&config, ClientConfigDefaults())

	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	logger := config.Logger.With("component", "gw2api-client")

	return &Client{
		config: config,
		http:   httpclient.NewClient(config.HTTP, config.HTTPClient, logger),
		logger: logger,
	}, nil
}

// MaxBatchSize returns the largest id list FetchBatch accepts.
func (c *Client) MaxBatchSize() int {
	return c.config.BatchSize
}

func endpointFor(kind entity.JobKind) (string, error) {
	switch kind {
	case entity.JobItems:
		return "/v2/items", nil
	case entity.JobRecipes:
		return "/v2/recipes", nil
	case entity.JobPrices:
		return "/v2/commerce/prices", nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", entity.ErrFatal, kind)
	}
}

// FetchPage returns one page of the listing for kind. The domain page is
// 1-based; the API's page parameter is 0-based.
func (c *Client) FetchPage(ctx context.Context, kind entity.JobKind, page int) (*outbound.Page, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be >= 1, got %d", entity.ErrFatal, page)
	}
	path, err := endpointFor(kind)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"page":      {strconv.Itoa(page - 1)},
		"page_size": {strconv.Itoa(c.config.PageSize)},
	}

	out := &outbound.Page{Number: page}
	var resp *httpclient.Response

	switch kind {
	case entity.JobItems:
		var raw []itemResponse
		if resp, err = c.get(ctx, path, params, &raw); err != nil {
			return nil, fmt.Errorf("fetching %s page %d: %w", kind, page, err)
		}
		for _, r := range raw {
			it, err := r.toEntity()
			if err != nil {
				return nil, err
			}
			out.Items = append(out.Items, it)
		}
	case entity.JobRecipes:
		var raw []recipeResponse
		if resp, err = c.get(ctx, path, params, &raw); err != nil {
			return nil, fmt.Errorf("fetching %s page %d: %w", kind, page, err)
		}
		for _, r := range raw {
			rec, err := r.toEntity()
			if err != nil {
				return nil, err
			}
			out.Recipes = append(out.Recipes, rec)
		}
	case entity.JobPrices:
		var raw []priceResponse
		if resp, err = c.get(ctx, path, params, &raw); err != nil {
			return nil, fmt.Errorf("fetching %s page %d: %w", kind, page, err)
		}
		for _, r := range raw {
			p, err := r.toEntity()
			if err != nil {
				return nil, err
			}
			out.Prices = append(out.Prices, p)
		}
	}

	total, err := strconv.Atoi(resp.Header.Get("X-Page-Total"))
	if err != nil {
		// Without the header the page is treated as the last one.
		total = page
	}
	out.Total = total

	return out, nil
}

// FetchBatch looks up records of kind by id. Ids the API does not return are
// reported in Missing.
func (c *Client) FetchBatch(ctx context.Context, kind entity.JobKind, ids []int64) (*outbound.BatchResult, error) {
	if len(ids) == 0 {
		return &outbound.BatchResult{}, nil
	}
	if len(ids) > c.config.BatchSize {
		return nil, fmt.Errorf("%w: batch of %d ids exceeds limit %d", entity.ErrFatal, len(ids), c.config.BatchSize)
	}
	path, err := endpointFor(kind)
	if err != nil {
		return nil, err
	}

	params := url.Values{"ids": {joinIDs(ids)}}
	out := &outbound.BatchResult{}
	seen := make(map[int64]bool, len(ids))

	switch kind {
	case entity.JobItems:
		var raw []itemResponse
		if _, err := c.get(ctx, path, params, &raw); err != nil {
			return c.allMissingOr(ids, kind, err)
		}
		for _, r := range raw {
			it, err := r.toEntity()
			if err != nil {
				return nil, err
			}
			seen[it.ID] = true
			out.Items = append(out.Items, it)
		}
	case entity.JobRecipes:
		var raw []recipeResponse
		if _, err := c.get(ctx, path, params, &raw); err != nil {
			return c.allMissingOr(ids, kind, err)
		}
		for _, r := range raw {
			rec, err := r.toEntity()
			if err != nil {
				return nil, err
			}
			seen[rec.ID] = true
			out.Recipes = append(out.Recipes, rec)
		}
	case entity.JobPrices:
		var raw []priceResponse
		if _, err := c.get(ctx, path, params, &raw); err != nil {
			return c.allMissingOr(ids, kind, err)
		}
		for _, r := range raw {
			p, err := r.toEntity()
			if err != nil {
				return nil, err
			}
			seen[p.ItemID] = true
			out.Prices = append(out.Prices, p)
		}
	}

	for _, id := range ids {
		if !seen[id] {
			out.Missing = append(out.Missing, id)
		}
	}

	return out, nil
}

// allMissingOr turns a whole-request 404 ("all ids provided are invalid") into
// a result where every id is missing; any other error is returned as-is.
func (c *Client) allMissingOr(ids []int64, kind entity.JobKind, err error) (*outbound.BatchResult, error) {
	if errors.Is(err, entity.ErrNotFound) {
		return &outbound.BatchResult{Missing: append([]int64(nil), ids...)}, nil
	}
	return nil, fmt.Errorf("fetching %d %s by id: %w", len(ids), kind, err)
}

// FetchRecipesForItem searches recipes by output item and loads them.
func (c *Client) FetchRecipesForItem(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
	var recipeIDs []int64
	params := url.Values{"output": {strconv.FormatInt(itemID, 10)}}
	if _, err := c.get(ctx, "/v2/recipes/search", params, &recipeIDs); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("searching recipes for item %d: %w", itemID, err)
	}
	if len(recipeIDs) == 0 {
		return nil, nil
	}

	recipes := make([]*entity.Recipe, 0, len(recipeIDs))
	for start := 0; start < len(recipeIDs); start += c.config.BatchSize {
		end := min(start+c.config.BatchSize, len(recipeIDs))
		res, err := c.FetchBatch(ctx, entity.JobRecipes, recipeIDs[start:end])
		if err != nil {
			return nil, fmt.Errorf("loading recipes for item %d: %w", itemID, err)
		}
		recipes = append(recipes, res.Recipes...)
	}

	return recipes, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, result any) (*httpclient.Response, error) {
	params.Set("v", c.config.SchemaVersion)
	fullURL := fmt.Sprintf("%s%s?%s", c.config.BaseURL, path, params.Encode())

	start := time.Now()
	resp, err := c.http.Get(ctx, fullURL, result)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("upstream request", "path", path, "status", resp.StatusCode, "duration", time.Since(start))
	return resp, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
