// Package item_sync mirrors the upstream item catalog into the store.
//
// A pass walks the paginated item listing from the page after the cursor,
// writes only new or changed items, and checkpoints after every committed
// page so an interrupted pass resumes where it stopped.
package item_sync

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
	"github.com/gw2shinies/tpsync/internal/ports/inbound"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

const tracerName = "github.com/gw2shinies/tpsync/internal/services/item_sync"

var _ inbound.SyncJob = (*Service)(nil)

// Config holds configuration for the item syncer.
type Config struct {
	// Concurrency is how many pages may be fetched ahead of the committer.
	Concurrency int

	Logger *slog.Logger
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		Concurrency: 4,
		Logger:      slog.Default(),
	}
}

// SyncResult counts what one pass did.
type SyncResult struct {
	Pages     int
	Upserted  int
	Unchanged int
	Failed    int
}

// Service syncs the item catalog.
type Service struct {
	config   Config
	upstream outbound.Upstream
	store    outbound.ItemStore
	logger   *slog.Logger
}

// NewService creates a new item syncer.
func NewService(config Config, upstream outbound.Upstream, store outbound.ItemStore) (*Service, error) {
	if upstream == nil {
		return nil, fmt.Errorf("upstream is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	defaults := ConfigDefaults()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Service{
		config:   config,
		upstream: upstream,
		store:    store,
		logger:   config.Logger.With("component", "item-sync"),
	}, nil
}

// Kind implements inbound.SyncJob.
func (s *Service) Kind() entity.JobKind {
	return entity.JobItems
}

// Run implements inbound.SyncJob.
func (s *Service) Run(ctx context.Context, cursor *entity.SyncCursor, checkpoint inbound.Checkpoint) (entity.RunStats, error) {
	res, err := s.SyncAll(ctx, cursor, checkpoint)
	return entity.RunStats{
		Processed: res.Upserted + res.Unchanged,
		Written:   res.Upserted,
		Unchanged: res.Unchanged,
		Failed:    res.Failed,
	}, err
}

// pageResult carries one fetched page to the committer.
type pageResult struct {
	page *outbound.Page
	err  error
}

// SyncAll runs one pass over the item listing.
//
// Pages after the first are fetched up to Concurrency ahead, but they are
// committed and checkpointed strictly in page order. The first page failure
// stops the pass; the cursor then still points at the last committed page.
func (s *Service) SyncAll(ctx context.Context, cursor *entity.SyncCursor, checkpoint inbound.Checkpoint) (SyncResult, error) {
	if checkpoint == nil {
		return SyncResult{}, fmt.Errorf("checkpoint is required")
	}

	start := time.Now()
	startPage := cursor.NextPage()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "item_sync.SyncAll",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("sync.start_page", startPage)),
	)
	defer span.End()

	var result SyncResult
	fail := func(err error, failed int) (SyncResult, error) {
		result.Failed += failed
		span.RecordError(err)
		span.SetStatus(codes.Error, entity.ErrorKind(err))
		s.logger.Warn("item sync stopped",
			"pagesCommitted", result.Pages,
			"upserted", result.Upserted,
			"error", err)
		return result, err
	}

	first, err := s.upstream.FetchPage(ctx, entity.JobItems, startPage)
	if err != nil && startPage > 1 && (errors.Is(err, entity.ErrNotFound) || errors.Is(err, entity.ErrFatal)) {
		// The listing shrank below the resume point; start the pass over.
		s.logger.Warn("resume page rejected, restarting pass", "page", startPage, "error", err)
		startPage = 1
		first, err = s.upstream.FetchPage(ctx, entity.JobItems, startPage)
	}
	if err != nil {
		return fail(fmt.Errorf("fetch page %d: %w", startPage, err), 1)
	}
	if err := s.commit(ctx, first, checkpoint, &result); err != nil {
		return fail(err, first.Len())
	}

	total := first.Total
	if next := first.Next(); next != 0 {
		fetchCtx, cancel := context.WithCancel(ctx)
		results, sem, wg := s.prefetch(fetchCtx, next, total)

		var loopErr error
		failed := 0
		for p := next; p <= total; p++ {
			var r pageResult
			select {
			case r = <-results[p-next]:
			case <-ctx.Done():
				r.err = ctx.Err()
			}
			if r.err != nil {
				loopErr = fmt.Errorf("fetch page %d: %w", p, r.err)
				failed = 1
				break
			}
			if err := s.commit(ctx, r.page, checkpoint, &result); err != nil {
				loopErr = err
				failed = r.page.Len()
				break
			}
			<-sem
		}
		cancel()
		wg.Wait()

		if loopErr != nil {
			return fail(loopErr, failed)
		}
	}

	span.SetAttributes(
		attribute.Int("sync.pages", result.Pages),
		attribute.Int("sync.upserted", result.Upserted),
		attribute.Int("sync.unchanged", result.Unchanged),
	)
	s.logger.Info("item sync complete",
		"startPage", startPage,
		"pages", result.Pages,
		"upserted", result.Upserted,
		"unchanged", result.Unchanged,
		"duration", time.Since(start))
	return result, nil
}

// prefetch launches page fetches from..to in order, with at most cap(sem)
// pages in flight or waiting for the committer. The committer frees a slot
// after each commit.
func (s *Service) prefetch(ctx context.Context, from, to int) ([]chan pageResult, chan struct{}, *sync.WaitGroup) {
	results := make([]chan pageResult, to-from+1)
	for i := range results {
		results[i] = make(chan pageResult, 1)
	}
	sem := make(chan struct{}, s.config.Concurrency)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := from; p <= to; p++ {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				page, err := s.upstream.FetchPage(ctx, entity.JobItems, p)
				results[p-from] <- pageResult{page: page, err: err}
			}(p)
		}
	}()
	return results, sem, &wg
}

// commit writes the new or changed items of one page and checkpoints it.
func (s *Service) commit(ctx context.Context, page *outbound.Page, checkpoint inbound.Checkpoint, result *SyncResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ids := make([]int64, len(page.Items))
	for i, it := range page.Items {
		ids[i] = it.ID
	}
	existing, err := s.store.GetItems(ctx, ids)
	if err != nil {
		return fmt.Errorf("load page %d items: %w", page.Number, err)
	}

	changed := make([]*entity.Item, 0, len(page.Items))
	for _, it := range page.Items {
		if !it.Equal(existing[it.ID]) {
			changed = append(changed, it)
		}
	}
	if len(changed) > 0 {
		if err := s.store.UpsertItems(ctx, changed); err != nil {
			return fmt.Errorf("store page %d: %w", page.Number, err)
		}
	}

	if err := checkpoint(ctx, page.Number, page.Next() == 0); err != nil {
		return fmt.Errorf("checkpoint page %d: %w", page.Number, err)
	}

	result.Pages++
	result.Upserted += len(changed)
	result.Unchanged += len(page.Items) - len(changed)
	s.logger.Debug("committed page",
		"page", page.Number,
		"total", page.Total,
		"upserted", len(changed),
		"unchanged", len(page.Items)-len(changed))
	return nil
}
