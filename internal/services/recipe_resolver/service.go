// Package recipe_resolver looks up recipes for items that have never been
// checked and follows their ingredient trees breadth-first.
//
// Each pass starts from a bounded frontier of pending items, fetches every
// distinct id at most once, and writes recipes, newly discovered items and
// the recipe-checked markers in a single SaveResolution call.
package recipe_resolver

import (
	"context"
	"fmt"
	"log/slog"
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

const tracerName = "github.com/gw2shinies/tpsync/internal/services/recipe_resolver"

var _ inbound.SyncJob = (*Service)(nil)

// Store is the persistence the resolver needs.
type Store interface {
	outbound.ItemStore
	outbound.RecipeStore
}

// Config holds configuration for the recipe resolver.
type Config struct {
	// MaxDepth bounds how far below a frontier item ingredients are followed
	// in one pass. Deeper items are stored but left pending.
	MaxDepth int

	// MaxFrontier caps how many pending items seed one pass.
	MaxFrontier int

	Logger *slog.Logger

	// Now is the clock used for recipe-checked markers.
	Now func() time.Time
}

// ConfigDefaults returns default configuration.
func ConfigDefaults() Config {
	return Config{
		MaxDepth:    8,
		MaxFrontier: 500,
		Logger:      slog.Default(),
		Now:         time.Now,
	}
}

// ResolveResult summarizes one resolution pass.
type ResolveResult struct {
	// Resolved counts items whose recipes were looked up and stored.
	Resolved int

	// StillUnresolved are ids whose lookup failed; they stay pending.
	StillUnresolved []int64

	Cycles   []entity.Cycle
	Fetches  int
	Recipes  int
	NewItems int
}

// Service resolves recipe trees.
type Service struct {
	config   Config
	upstream outbound.Upstream
	store    Store
	logger   *slog.Logger
}

// NewService creates a new recipe resolver.
func NewService(config Config, upstream outbound.Upstream, store Store) (*Service, error) {
	if upstream == nil {
		return nil, fmt.Errorf("upstream is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	defaults := ConfigDefaults()
	if config.MaxDepth <= 0 {
		config.MaxDepth = defaults.MaxDepth
	}
	if config.MaxFrontier <= 0 {
		config.MaxFrontier = defaults.MaxFrontier
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
		logger:   config.Logger.With("component", "recipe-resolver"),
	}, nil
}

// Kind implements inbound.SyncJob.
func (s *Service) Kind() entity.JobKind {
	return entity.JobRecipes
}

// Run implements inbound.SyncJob. A pass has no pages; a finished pass is
// checkpointed as complete.
func (s *Service) Run(ctx context.Context, _ *entity.SyncCursor, checkpoint inbound.Checkpoint) (entity.RunStats, error) {
	res, err := s.ResolvePending(ctx)
	stats := entity.RunStats{
		Processed: res.Resolved + len(res.StillUnresolved),
		Written:   res.Recipes + res.NewItems,
		Failed:    len(res.StillUnresolved),
	}
	if err != nil {
		return stats, err
	}
	if err := checkpoint(ctx, 0, true); err != nil {
		return stats, fmt.Errorf("checkpoint: %w", err)
	}
	return stats, nil
}

type queued struct {
	id    int64
	depth int
}

// pass holds the state of one resolution pass.
type pass struct {
	queue   []queued
	visited map[int64]bool

	recipes map[int64]*entity.Recipe
	graph   *graph

	// stored marks items whose stored recipes are already in graph.
	stored  map[int64]bool
	checked []int64
	failed  []int64
	unknown []int64
	fetches int
	lastErr error
}

// ResolvePending resolves the recipes of up to MaxFrontier pending items.
//
// A lookup that fails leaves its item pending and is reported in
// StillUnresolved. The pass only returns an error when it is cancelled, the
// store fails, or no lookup succeeded at all.
func (s *Service) ResolvePending(ctx context.Context) (ResolveResult, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "recipe_resolver.ResolvePending",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	var result ResolveResult
	fail := func(err error) (ResolveResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, entity.ErrorKind(err))
		return result, err
	}

	frontier, err := s.store.ListItemIDs(ctx, entity.ItemFilter{PendingRecipe: true, Limit: s.config.MaxFrontier})
	if err != nil {
		return fail(fmt.Errorf("list pending items: %w", err))
	}
	if len(frontier) == 0 {
		s.logger.Debug("no pending recipes")
		return result, nil
	}

	p := &pass{
		visited: make(map[int64]bool, len(frontier)),
		recipes: make(map[int64]*entity.Recipe),
		graph:   newGraph(),
		stored:  make(map[int64]bool),
	}
	for _, id := range frontier {
		p.visited[id] = true
		p.queue = append(p.queue, queued{id: id})
	}

	for len(p.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		next := p.queue[0]
		p.queue = p.queue[1:]

		if err := s.resolveOne(ctx, p, next); err != nil {
			return fail(err)
		}
	}

	newItems, err := s.fetchUnknownItems(ctx, p)
	if err != nil {
		return fail(err)
	}

	cycles := p.graph.findCycles()
	for _, c := range cycles {
		s.logger.Warn("recipe cycle",
			"from", c.From,
			"to", c.To,
			"path", c.Path,
			"error", entity.ErrCycleDetected)
	}

	result.Fetches = p.fetches
	result.Cycles = cycles
	result.StillUnresolved = p.failed
	result.Resolved = len(p.checked)

	if len(p.checked) == 0 && len(p.failed) > 0 {
		return fail(fmt.Errorf("all %d recipe lookups failed: %w", len(p.failed), p.lastErr))
	}

	recipes := make([]*entity.Recipe, 0, len(p.recipes))
	for _, r := range p.recipes {
		recipes = append(recipes, r)
	}
	res := &outbound.Resolution{
		Recipes:   recipes,
		Items:     newItems,
		Checked:   p.checked,
		CheckedAt: s.config.Now(),
	}
	if err := s.store.SaveResolution(ctx, res); err != nil {
		return fail(fmt.Errorf("save resolution: %w", err))
	}
	result.Recipes = len(recipes)
	result.NewItems = len(newItems)

	span.SetAttributes(
		attribute.Int("resolve.frontier", len(frontier)),
		attribute.Int("resolve.fetches", p.fetches),
		attribute.Int("resolve.cycles", len(cycles)),
	)
	s.logger.Info("recipe resolution complete",
		"frontier", len(frontier),
		"resolved", result.Resolved,
		"unresolved", len(result.StillUnresolved),
		"recipes", result.Recipes,
		"newItems", result.NewItems,
		"cycles", len(cycles),
		"fetches", p.fetches,
		"duration", time.Since(start))
	return result, nil
}

// resolveOne fetches the recipes producing one item and enqueues the
// ingredients that still need a lookup.
func (s *Service) resolveOne(ctx context.Context, p *pass, q queued) error {
	p.fetches++
	recipes, err := s.upstream.FetchRecipesForItem(ctx, q.id)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.Warn("recipe lookup failed", "itemID", q.id, "reason", entity.ErrorKind(err), "error", err)
		p.failed = append(p.failed, q.id)
		p.lastErr = err
		return nil
	}
	p.checked = append(p.checked, q.id)
	p.stored[q.id] = true

	var candidates []int64
	for _, r := range recipes {
		p.recipes[r.ID] = r
		p.graph.add(r)
		for _, id := range r.ItemIngredientIDs() {
			if !p.visited[id] {
				p.visited[id] = true
				candidates = append(candidates, id)
			}
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	known, err := s.store.GetItems(ctx, candidates)
	if err != nil {
		return fmt.Errorf("load ingredients of item %d: %w", q.id, err)
	}

	depth := q.depth + 1
	for _, id := range candidates {
		item, ok := known[id]
		if !ok {
			p.unknown = append(p.unknown, id)
		}
		if ok && item.RecipeCheckedAt != nil {
			// Resolved in an earlier pass; its stored edges can still close a cycle.
			if err := s.addStoredEdges(ctx, p, id); err != nil {
				return err
			}
			continue
		}
		if depth > s.config.MaxDepth {
			s.logger.Debug("depth limit reached, leaving ingredient pending", "itemID", id, "depth", depth)
			continue
		}
		p.queue = append(p.queue, queued{id: id, depth: depth})
	}
	return nil
}

// addStoredEdges adds the stored recipes reachable from id to the pass graph.
// Each item is read from the store at most once per pass.
func (s *Service) addStoredEdges(ctx context.Context, p *pass, id int64) error {
	work := []int64{id}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if p.stored[cur] {
			continue
		}
		p.stored[cur] = true

		recipes, err := s.store.GetRecipesByOutput(ctx, cur)
		if err != nil {
			return fmt.Errorf("load stored recipes of item %d: %w", cur, err)
		}
		for _, r := range recipes {
			p.graph.add(r)
			for _, ing := range r.ItemIngredientIDs() {
				if !p.stored[ing] {
					work = append(work, ing)
				}
			}
		}
	}
	return nil
}

// fetchUnknownItems loads the item records of ingredients the store has
// never seen. If a chunk cannot be fetched, the items whose recipes use
// those ingredients are unmarked so the next pass tries again.
func (s *Service) fetchUnknownItems(ctx context.Context, p *pass) ([]*entity.Item, error) {
	var items []*entity.Item
	missing := make(map[int64]bool)

	for _, chunk := range partition.Chunk(p.unknown, s.upstream.MaxBatchSize()) {
		res, err := s.upstream.FetchBatch(ctx, entity.JobItems, chunk)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("ingredient item lookup failed", "count", len(chunk), "error", err)
			for _, id := range chunk {
				missing[id] = true
			}
			p.lastErr = err
			continue
		}
		items = append(items, res.Items...)
		for _, id := range res.Missing {
			// Upstream does not know the ingredient; recipes keep referring to it.
			s.logger.Debug("ingredient item not found upstream", "itemID", id)
		}
	}

	if len(missing) > 0 {
		requeue := make(map[int64]bool)
		for _, r := range p.recipes {
			for _, id := range r.ItemIngredientIDs() {
				if missing[id] {
					requeue[r.OutputItemID] = true
				}
			}
		}
		checked := p.checked[:0]
		for _, id := range p.checked {
			if requeue[id] {
				p.failed = append(p.failed, id)
				continue
			}
			if missing[id] {
				// Never stored, so it cannot carry a marker.
				continue
			}
			checked = append(checked, id)
		}
		p.checked = checked
	}
	return items, nil
}
