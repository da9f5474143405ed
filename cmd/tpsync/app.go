package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gw2shinies/tpsync/internal/adapters/outbound/gw2api"
	"github.com/gw2shinies/tpsync/internal/adapters/outbound/gw2bltc"
	"github.com/gw2shinies/tpsync/internal/adapters/outbound/postgres"
	"github.com/gw2shinies/tpsync/internal/adapters/outbound/redis"
	"github.com/gw2shinies/tpsync/internal/adapters/outbound/telemetry"
	"github.com/gw2shinies/tpsync/internal/config"
	"github.com/gw2shinies/tpsync/internal/pkg/httpclient"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
	"github.com/gw2shinies/tpsync/internal/services/catalog"
	"github.com/gw2shinies/tpsync/internal/services/history_recovery"
	"github.com/gw2shinies/tpsync/internal/services/item_sync"
	"github.com/gw2shinies/tpsync/internal/services/price_refresher"
	"github.com/gw2shinies/tpsync/internal/services/recipe_resolver"
	"github.com/gw2shinies/tpsync/internal/services/scheduler"

	"github.com/jackc/pgx/v5/pgxpool"
)

const serviceName = "tpsync"

// app holds every wired component of one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool      *pgxpool.Pool
	store     *postgres.Store
	cache     outbound.PriceCache
	scheduler *scheduler.Scheduler
	reader    *catalog.Reader

	historySource *gw2bltc.Client

	closers []func(context.Context) error
}

// newApp connects to the store and optional cache and builds every service.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: buildVersion(),
		Endpoint:       cfg.OTLPEndpoint,
		SampleRate:     telemetry.TracerConfigDefaults().SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init tracer: %w", err)
	}
	a.closers = append(a.closers, shutdownTracer)

	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:    serviceName,
		ServiceVersion: buildVersion(),
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	a.closers = append(a.closers, shutdownMetrics)

	metrics, err := telemetry.NewMetrics("github.com/gw2shinies/tpsync")
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	a.pool, err = postgres.OpenPool(ctx, postgres.DefaultDBConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, err
	}
	logger.Info("connected to PostgreSQL")

	a.store, err = postgres.NewStore(a.pool, logger, postgres.DefaultRepositoryConfig())
	if err != nil {
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		cacheCfg := redis.ConfigDefaults()
		cacheCfg.Addr = cfg.Redis.Addr
		cacheCfg.Password = cfg.Redis.Password
		cache, err := redis.NewPriceCache(cacheCfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return cache.Close() })
		if err := cache.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.cache = cache
		logger.Info("connected to Redis", "addr", cfg.Redis.Addr)
	}

	httpCfg := upstreamHTTPConfig(cfg.Upstream)
	upstream, err := gw2api.NewClient(gw2api.ClientConfig{
		BaseURL:   cfg.Upstream.BaseURL,
		PageSize:  cfg.Upstream.PageSize,
		BatchSize: cfg.Upstream.BatchSize,
		HTTP:      httpCfg,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	bltcCfg := gw2bltc.ClientConfigDefaults()
	bltcCfg.BaseURL = cfg.Upstream.HistoryBaseURL
	bltcCfg.HTTP.Timeout = httpCfg.Timeout
	bltcCfg.HTTP.MaxRetries = httpCfg.MaxRetries
	bltcCfg.Logger = logger
	a.historySource = gw2bltc.NewClient(bltcCfg)

	items, err := item_sync.NewService(item_sync.Config{
		Concurrency: cfg.SyncConcurrency,
		Logger:      logger,
	}, upstream, a.store)
	if err != nil {
		return nil, err
	}

	recipes, err := recipe_resolver.NewService(recipe_resolver.Config{
		MaxDepth:    cfg.Recipes.MaxDepth,
		MaxFrontier: cfg.Recipes.MaxFrontier,
		Logger:      logger,
	}, upstream, a.store)
	if err != nil {
		return nil, err
	}

	prices, err := price_refresher.NewService(price_refresher.Config{
		Workers: cfg.SyncConcurrency,
		Logger:  logger,
	}, upstream, a.store, a.cache)
	if err != nil {
		return nil, err
	}

	a.scheduler, err = scheduler.New(scheduler.Config{
		Jobs:    cfg.Jobs,
		Metrics: metrics,
		Logger:  logger,
	}, a.store, items, recipes, prices)
	if err != nil {
		return nil, err
	}

	a.reader, err = catalog.NewReader(a.store, a.cache, logger)
	if err != nil {
		return nil, err
	}

	return a, nil
}

// newHistoryRecovery builds a recovery service capped at maxItems (0 = all).
func (a *app) newHistoryRecovery(maxItems int) (*history_recovery.Service, error) {
	return history_recovery.NewService(history_recovery.Config{
		Pace:     history_recovery.ConfigDefaults().Pace,
		MaxItems: maxItems,
		Logger:   a.logger,
	}, a.historySource, a.store)
}

func upstreamHTTPConfig(u config.UpstreamConfig) httpclient.Config {
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = u.Timeout
	cfg.MaxRetries = u.MaxRetries
	cfg.InitialBackoff = u.InitialBackoff
	cfg.MaxBackoff = u.MaxBackoff
	cfg.RateLimitPerMin = u.RateLimitPerMin
	cfg.UserAgent = serviceName + "/" + buildVersion()
	return cfg
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}
