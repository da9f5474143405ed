// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/pkg/env"
	"github.com/gw2shinies/tpsync/internal/services/scheduler"
)

// ErrConfigInvalid wraps every validation failure reported by Load.
var ErrConfigInvalid = errors.New("invalid configuration")

// upstreamMaxPage is the largest page_size and ids list the GW2 API accepts.
const upstreamMaxPage = 200

// UpstreamConfig holds GW2 API and gw2bltc client settings.
type UpstreamConfig struct {
	BaseURL         string
	HistoryBaseURL  string
	PageSize        int
	BatchSize       int
	MaxRetries      int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	RateLimitPerMin int
	Timeout         time.Duration
}

// RedisConfig holds the optional price cache connection. An empty Addr
// disables the cache.
type RedisConfig struct {
	Addr     string
	Password string
}

// RecipeConfig bounds one recipe resolution pass.
type RecipeConfig struct {
	MaxDepth    int
	MaxFrontier int
}

// Config is the full process configuration.
type Config struct {
	DatabaseURL  string
	HTTPAddr     string
	OTLPEndpoint string
	LogLevel     slog.Level

	Upstream UpstreamConfig
	Redis    RedisConfig
	Recipes  RecipeConfig

	// SyncConcurrency bounds page prefetch and price fetch workers.
	SyncConcurrency int

	Jobs map[entity.JobKind]scheduler.JobConfig
}

// Load reads .env files if present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")
	return FromEnv()
}

// FromEnv builds a Config from the process environment. All problems are
// reported together, joined under ErrConfigInvalid.
func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		DatabaseURL:  env.Get("DATABASE_URL", ""),
		HTTPAddr:     env.Get("HTTP_ADDR", ":8080"),
		OTLPEndpoint: env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:     p.logLevel("LOG_LEVEL"),
		Upstream: UpstreamConfig{
			BaseURL:         env.Get("GW2_API_BASE_URL", "https://api.guildwars2.com"),
			HistoryBaseURL:  env.Get("GW2BLTC_BASE_URL", "https://www.gw2bltc.com"),
			PageSize:        p.int("UPSTREAM_PAGE_SIZE", upstreamMaxPage),
			BatchSize:       p.int("UPSTREAM_BATCH_SIZE", upstreamMaxPage),
			MaxRetries:      p.int("UPSTREAM_MAX_RETRIES", 3),
			InitialBackoff:  p.duration("UPSTREAM_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:      p.duration("UPSTREAM_MAX_BACKOFF", 10*time.Second),
			RateLimitPerMin: p.int("UPSTREAM_RATE_LIMIT_PER_MIN", 300),
			Timeout:         p.duration("UPSTREAM_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Addr:     env.Get("REDIS_ADDR", ""),
			Password: env.Get("REDIS_PASSWORD", ""),
		},
		Recipes: RecipeConfig{
			MaxDepth:    p.int("RECIPE_MAX_DEPTH", 8),
			MaxFrontier: p.int("RECIPE_MAX_FRONTIER", 500),
		},
		SyncConcurrency: p.int("SYNC_CONCURRENCY", 4),
		Jobs:            make(map[entity.JobKind]scheduler.JobConfig, len(entity.AllJobKinds)),
	}

	for _, kind := range entity.AllJobKinds {
		defaults := scheduler.JobConfigDefaults(kind)
		prefix := strings.ToUpper(string(kind))
		job := scheduler.JobConfig{
			Interval:    p.duration(prefix+"_INTERVAL", defaults.Interval),
			BackoffBase: p.duration(prefix+"_BACKOFF_BASE", defaults.BackoffBase),
			BackoffMax:  p.duration(prefix+"_BACKOFF_MAX", defaults.BackoffMax),
			Jitter:      defaults.Jitter,
		}
		p.positive(prefix+"_INTERVAL", job.Interval)
		p.positive(prefix+"_BACKOFF_BASE", job.BackoffBase)
		if job.BackoffMax < job.BackoffBase {
			p.fail("%s_BACKOFF_MAX (%s) must not be below %s_BACKOFF_BASE (%s)", prefix, job.BackoffMax, prefix, job.BackoffBase)
		}
		cfg.Jobs[kind] = job
	}

	cfg.validate(p)

	if len(p.errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrConfigInvalid, errors.Join(p.errs...))
	}
	return cfg, nil
}

func (c *Config) validate(p *parser) {
	if c.DatabaseURL == "" {
		p.fail("DATABASE_URL is required")
	}
	p.url("GW2_API_BASE_URL", c.Upstream.BaseURL)
	p.url("GW2BLTC_BASE_URL", c.Upstream.HistoryBaseURL)

	u := c.Upstream
	if u.PageSize < 1 || u.PageSize > upstreamMaxPage {
		p.fail("UPSTREAM_PAGE_SIZE must be between 1 and %d, got %d", upstreamMaxPage, u.PageSize)
	}
	if u.BatchSize < 1 || u.BatchSize > upstreamMaxPage {
		p.fail("UPSTREAM_BATCH_SIZE must be between 1 and %d, got %d", upstreamMaxPage, u.BatchSize)
	}
	if u.MaxRetries < 1 {
		p.fail("UPSTREAM_MAX_RETRIES must be positive, got %d", u.MaxRetries)
	}
	p.positive("UPSTREAM_INITIAL_BACKOFF", u.InitialBackoff)
	p.positive("UPSTREAM_TIMEOUT", u.Timeout)
	if u.MaxBackoff < u.InitialBackoff {
		p.fail("UPSTREAM_MAX_BACKOFF (%s) must not be below UPSTREAM_INITIAL_BACKOFF (%s)", u.MaxBackoff, u.InitialBackoff)
	}
	if u.RateLimitPerMin < 1 {
		p.fail("UPSTREAM_RATE_LIMIT_PER_MIN must be positive, got %d", u.RateLimitPerMin)
	}

	if c.Recipes.MaxDepth < 1 {
		p.fail("RECIPE_MAX_DEPTH must be positive, got %d", c.Recipes.MaxDepth)
	}
	if c.Recipes.MaxFrontier < 1 {
		p.fail("RECIPE_MAX_FRONTIER must be positive, got %d", c.Recipes.MaxFrontier)
	}
	if c.SyncConcurrency < 1 {
		p.fail("SYNC_CONCURRENCY must be positive, got %d", c.SyncConcurrency)
	}
}

// parser collects errors so every bad variable is reported at once.
type parser struct {
	errs []error
}

func (p *parser) fail(format string, args ...any) {
	p.errs = append(p.errs, fmt.Errorf(format, args...))
}

func (p *parser) int(key string, def int) int {
	v, err := env.GetInt(key, def)
	if err != nil {
		p.errs = append(p.errs, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, err := env.GetDuration(key, def)
	if err != nil {
		p.errs = append(p.errs, err)
		return def
	}
	return v
}

func (p *parser) logLevel(key string) slog.Level {
	raw := env.Get(key, "")
	if raw == "" {
		return slog.LevelInfo
	}
	level, err := env.ParseLevel(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
	}
	return level
}

func (p *parser) positive(key string, d time.Duration) {
	if d <= 0 {
		p.fail("%s must be positive, got %s", key, d)
	}
}

func (p *parser) url(key, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		p.fail("%s must be an absolute URL, got %q", key, raw)
	}
}
