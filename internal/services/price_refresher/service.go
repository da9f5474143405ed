// Package price_refresher appends a fresh trading-post quote for every
// tradeable item.
//
// Item ids are split into upstream-sized chunks and fetched by a fixed pool
// of workers. A single committer appends the results, so one cycle's writes
// are serialized and every snapshot of a cycle shares one timestamp.
package price_refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/pkg/partition"
	"github.com/gw2shinies/tpsync/internal/ports/inbound"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

const tracerName = "github.com/gw2shinies/tpsync/internal/services/price_refresher"

var _ inbound.SyncJob = (*Service)(nil)

// Store is the persistence the refresher needs.
type Store interface {
	outbound.ItemStore
	outbound.PriceStore
}

// Config holds configuration for the price refresher.
type Config struct {
	// Workers is the number of chunks fetched in parallel.
	Workers int

	Logger *slog.Logger

	// Now stamps each cycle's snapshots.
	Now func() time.Time
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		Workers: 4,
		Logger:  slog.Default(),
		Now:     time.Now,
	}
}

// RefreshResult summarizes one refresh cycle.
type RefreshResult struct {
	Updated    int
	Duplicates int

	// Failed maps item ids to a reason: not_found, transient, out_of_order.
	Failed map[int64]string
}

// Service refreshes current prices.
type Service struct {
	config   Config
	upstream outbound.Upstream
	store    Store
	cache    outbound.PriceCache
	logger   *slog.Logger
}

// NewService creates a new price refresher. cache may be nil.
func NewService(config Config, upstream outbound.Upstream, store Store, cache outbound.PriceCache) (*Service, error) {
	if upstream == nil {
		return nil, fmt.Errorf("upstream is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	defaults := ConfigDefaults()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &Service{
		config:   config,
		upstream: upstream,
		store:    store,
		cache:    cache,
		logger:   config.Logger.With("component", "price-refresher"),
	}, nil
}

// Kind implements inbound.SyncJob.
func (s *Service) Kind() entity.JobKind {
	return entity.JobPrices
}

// Run implements inbound.SyncJob.
func (s *Service) Run(ctx context.Context, _ *entity.SyncCursor, checkpoint inbound.Checkpoint) (entity.RunStats, error) {
	res, err := s.RefreshAll(ctx)
	stats := entity.RunStats{
		Processed: res.Updated + res.Duplicates + len(res.Failed),
		Written:   res.Updated,
		Unchanged: res.Duplicates,
		Failed:    len(res.Failed),
	}
	if err != nil {
		return stats, err
	}
	if err := checkpoint(ctx, 0, true); err != nil {
		return stats, fmt.Errorf("checkpoint: %w", err)
	}
	return stats, nil
}

type chunkResult struct {
	ids   []int64
	batch *outbound.BatchResult
	err   error
}

// RefreshAll fetches and appends one snapshot per tradeable item.
//
// Missing ids and chunks that stay transiently failing are recorded in
// Failed while other chunks continue. A schema mismatch, a fatal upstream
// error or a store failure aborts the cycle; chunks already appended stay.
func (s *Service) RefreshAll(ctx context.Context) (RefreshResult, error) {
	start := time.Now()
	result := RefreshResult{Failed: make(map[int64]string)}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "price_refresher.RefreshAll",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	ids, err := s.store.ListItemIDs(ctx, entity.ItemFilter{TradeableOnly: true})
	if err != nil {
		span.RecordError(err)
		return result, fmt.Errorf("list tradeable items: %w", err)
	}
	if len(ids) == 0 {
		s.logger.Info("no tradeable items yet, skipping price refresh")
		return result, nil
	}

	ts := s.config.Now().UTC().Truncate(time.Microsecond)
	chunks := partition.Chunk(ids, s.upstream.MaxBatchSize())

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results := s.fetch(fetchCtx, chunks)

	var abortErr, lastTransient error
	transientChunks := 0
	for r := range results {
		if abortErr != nil {
			continue
		}
		if r.err != nil {
			switch {
			case ctx.Err() != nil:
				abortErr = ctx.Err()
				cancel()
			case errors.Is(r.err, entity.ErrSchemaMismatch), errors.Is(r.err, entity.ErrFatal):
				abortErr = fmt.Errorf("fetch prices: %w", r.err)
				cancel()
			default:
				transientChunks++
				lastTransient = r.err
				reason := entity.ErrorKind(r.err)
				for _, id := range r.ids {
					result.Failed[id] = reason
				}
				s.logger.Warn("price chunk failed", "count", len(r.ids), "reason", reason, "error", r.err)
			}
			continue
		}
		if err := s.commit(ctx, r, ts, &result); err != nil {
			abortErr = err
			cancel()
		}
	}

	span.SetAttributes(
		attribute.Int("prices.items", len(ids)),
		attribute.Int("prices.updated", result.Updated),
		attribute.Int("prices.failed", len(result.Failed)),
	)

	if abortErr == nil && result.Updated == 0 && transientChunks == len(chunks) {
		abortErr = fmt.Errorf("all %d price chunks failed: %w", len(chunks), lastTransient)
	}
	if abortErr != nil {
		span.RecordError(abortErr)
		span.SetStatus(codes.Error, entity.ErrorKind(abortErr))
		s.logger.Warn("price refresh aborted", "updated", result.Updated, "error", abortErr)
		return result, abortErr
	}

	s.logger.Info("price refresh complete",
		"items", len(ids),
		"updated", result.Updated,
		"duplicates", result.Duplicates,
		"failed", len(result.Failed),
		"duration", time.Since(start))
	return result, nil
}

// fetch runs a fixed pool of workers over chunks and returns their results.
// The channel closes once every worker has exited.
func (s *Service) fetch(ctx context.Context, chunks [][]int64) <-chan chunkResult {
	jobs := make(chan []int64)
	results := make(chan chunkResult, s.config.Workers)

	go func() {
		defer close(jobs)
		for _, c := range chunks {
			select {
			case jobs <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for range min(s.config.Workers, len(chunks)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ids := range jobs {
				batch, err := s.upstream.FetchBatch(ctx, entity.JobPrices, ids)
				results <- chunkResult{ids: ids, batch: batch, err: err}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// commit stamps and appends one chunk, then mirrors it to the cache.
func (s *Service) commit(ctx context.Context, r chunkResult, ts time.Time, result *RefreshResult) error {
	for _, id := range r.batch.Missing {
		result.Failed[id] = entity.ErrorKind(entity.ErrNotFound)
	}
	if len(r.batch.Prices) == 0 {
		return nil
	}

	snapshots := make([]*entity.PriceSnapshot, len(r.batch.Prices))
	for i, p := range r.batch.Prices {
		snap := *p
		snap.Timestamp = ts
		snapshots[i] = &snap
	}

	appended, err := s.store.AppendSnapshots(ctx, snapshots)
	if err != nil {
		return fmt.Errorf("append snapshots: %w", err)
	}
	result.Updated += appended.Appended
	result.Duplicates += appended.Duplicates

	rejected := make(map[int64]bool, len(appended.OutOfOrder))
	for _, id := range appended.OutOfOrder {
		rejected[id] = true
		result.Failed[id] = entity.ErrorKind(entity.ErrOutOfOrder)
	}

	if s.cache == nil {
		return nil
	}
	current := snapshots[:0:0]
	for _, snap := range snapshots {
		if !rejected[snap.ItemID] {
			current = append(current, snap)
		}
	}
	if err := s.cache.SetCurrent(ctx, current); err != nil {
		// The store holds the truth; readers fall back to it on a miss.
		s.logger.Warn("price cache update failed", "count", len(current), "error", err)
	}
	return nil
}
