package recipe_resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/gw2shinies/tpsync/internal/adapters/outbound/memory"
	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
	"github.com/gw2shinies/tpsync/internal/testutil"
)

// recipeBook serves recipes by output item and item records by id.
func recipeBook(recipes ...*entity.Recipe) *testutil.MockUpstream {
	byOutput := make(map[int64][]*entity.Recipe)
	for _, r := range recipes {
		byOutput[r.OutputItemID] = append(byOutput[r.OutputItemID], r)
	}
	return &testutil.MockUpstream{
		FetchRecipesForItemFn: func(_ context.Context, itemID int64) ([]*entity.Recipe, error) {
			return byOutput[itemID], nil
		},
		FetchBatchFn: func(_ context.Context, kind entity.JobKind, ids []int64) (*outbound.BatchResult, error) {
			if kind != entity.JobItems {
				return nil, fmt.Errorf("unexpected kind %s", kind)
			}
			res := &outbound.BatchResult{}
			for _, id := range ids {
				res.Items = append(res.Items, testutil.NewItem(id, fmt.Sprintf("Item %d", id)))
			}
			return res, nil
		},
	}
}

func newService(t *testing.T, upstream outbound.Upstream, store Store, maxDepth int) *Service {
	t.Helper()
	svc, err := NewService(Config{MaxDepth: maxDepth, Logger: testutil.DiscardLogger()}, upstream, store)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return svc
}

// seed stores items; checked ones get a recipe marker.
func seed(t *testing.T, store *memory.Store, pending []int64, checked []int64) {
	t.Helper()
	ctx := context.Background()
	var items []*entity.Item
	for _, id := range slices.Concat(pending, checked) {
		items = append(items, testutil.NewItem(id, fmt.Sprintf("Item %d", id)))
	}
	if err := store.UpsertItems(ctx, items); err != nil {
		t.Fatalf("seed items: %v", err)
	}
	if len(checked) > 0 {
		if err := store.SaveResolution(ctx, &outbound.Resolution{Checked: checked, CheckedAt: time.Now()}); err != nil {
			t.Fatalf("seed markers: %v", err)
		}
	}
}

func TestNewService_Validation(t *testing.T) {
	if _, err := NewService(Config{}, nil, memory.NewStore()); err == nil {
		t.Error("expected error for nil upstream")
	}
	if _, err := NewService(Config{}, &testutil.MockUpstream{}, nil); err == nil {
		t.Error("expected error for nil store")
	}
	svc, err := NewService(Config{}, &testutil.MockUpstream{}, memory.NewStore())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.config.MaxDepth != 8 || svc.config.MaxFrontier != 500 {
		t.Errorf("defaults not applied: %+v", svc.config)
	}
}

// Item 55 needs 10 and 20; item 20 needs 10 (already known) and 55.
func TestResolvePending_MutualCycleScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, []int64{55}, []int64{10})

	upstream := recipeBook(
		testutil.NewRecipe(100, 55, 10, 20),
		testutil.NewRecipe(101, 20, 10, 55),
	)
	res, err := newService(t, upstream, store, 8).ResolvePending(ctx)
	if err != nil {
		t.Fatalf("ResolvePending() error: %v", err)
	}

	if calls := upstream.RecipeCalls(); !slices.Equal(calls, []int64{55, 20}) {
		t.Errorf("recipe fetches = %v, want [55 20]", calls)
	}
	if res.Fetches != 2 || res.Resolved != 2 || res.Recipes != 2 || res.NewItems != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Cycles) != 1 {
		t.Fatalf("cycles = %+v, want one", res.Cycles)
	}
	c := res.Cycles[0]
	if c.From != 20 || c.To != 55 || !slices.Equal(c.Path, []int64{55, 20, 55}) {
		t.Errorf("cycle = %+v, want 20->55 via [55 20 55]", c)
	}

	for _, output := range []int64{55, 20} {
		recipes, _ := store.GetRecipesByOutput(ctx, output)
		if len(recipes) != 1 || len(recipes[0].Ingredients) != 2 {
			t.Errorf("recipes for %d = %+v", output, recipes)
		}
	}
	pending, _ := store.ListItemIDs(ctx, entity.ItemFilter{PendingRecipe: true})
	if len(pending) != 0 {
		t.Errorf("pending after pass = %v, want none", pending)
	}
}

func TestResolvePending_SelfReference(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, []int64{7}, nil)
	upstream := recipeBook(testutil.NewRecipe(1, 7, 7))

	res, err := newService(t, upstream, store, 8).ResolvePending(context.Background())
	if err != nil {
		t.Fatalf("ResolvePending() error: %v", err)
	}
	if res.Fetches != 1 {
		t.Errorf("fetches = %d, want 1", res.Fetches)
	}
	if len(res.Cycles) != 1 || res.Cycles[0].From != 7 || res.Cycles[0].To != 7 {
		t.Errorf("cycles = %+v", res.Cycles)
	}
}

func TestResolvePending_DepthLimit(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, []int64{1}, nil)
	upstream := recipeBook(
		testutil.NewRecipe(11, 1, 2),
		testutil.NewRecipe(12, 2, 3),
		testutil.NewRecipe(13, 3, 4),
	)

	res, err := newService(t, upstream, store, 1).ResolvePending(ctx)
	if err != nil {
		t.Fatalf("ResolvePending() error: %v", err)
	}
	if calls := upstream.RecipeCalls(); !slices.Equal(calls, []int64{1, 2}) {
		t.Errorf("recipe fetches = %v, want [1 2]", calls)
	}
	if res.NewItems != 2 {
		t.Errorf("new items = %d, want 2 (items 2 and 3)", res.NewItems)
	}

	pending, _ := store.ListItemIDs(ctx, entity.ItemFilter{PendingRecipe: true})
	if !slices.Equal(pending, []int64{3}) {
		t.Errorf("pending = %v, want [3]", pending)
	}

	// The next pass continues below the limit.
	if _, err := newService(t, upstream, store, 1).ResolvePending(ctx); err != nil {
		t.Fatalf("second ResolvePending() error: %v", err)
	}
	pending, _ = store.ListItemIDs(ctx, entity.ItemFilter{PendingRecipe: true})
	if len(pending) != 0 {
		t.Errorf("pending after second pass = %v", pending)
	}
}

// countingStore records stored-recipe reads by output item.
type countingStore struct {
	*memory.Store
	byOutput map[int64]int
}

func (c *countingStore) GetRecipesByOutput(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
	c.byOutput[itemID]++
	return c.Store.GetRecipesByOutput(ctx, itemID)
}

// Item 1 needs 20, 20 needs 55, 55 needs 20. With depth 1 the first pass
// stops above 55, so the loop only closes through 20's stored recipe.
func TestResolvePending_CycleThroughEarlierPass(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: memory.NewStore(), byOutput: make(map[int64]int)}
	seed(t, store.Store, []int64{1}, nil)
	upstream := recipeBook(
		testutil.NewRecipe(11, 1, 20),
		testutil.NewRecipe(12, 20, 55),
		testutil.NewRecipe(13, 55, 20),
	)

	first, err := newService(t, upstream, store, 1).ResolvePending(ctx)
	if err != nil {
		t.Fatalf("first ResolvePending() error: %v", err)
	}
	if len(first.Cycles) != 0 {
		t.Errorf("first pass cycles = %+v, want none", first.Cycles)
	}

	second, err := newService(t, upstream, store, 1).ResolvePending(ctx)
	if err != nil {
		t.Fatalf("second ResolvePending() error: %v", err)
	}
	if calls := upstream.RecipeCalls(); !slices.Equal(calls, []int64{1, 20, 55}) {
		t.Errorf("recipe fetches = %v, want [1 20 55]", calls)
	}
	if second.Fetches != 1 {
		t.Errorf("second pass fetches = %d, want 1", second.Fetches)
	}
	if len(second.Cycles) != 1 {
		t.Fatalf("second pass cycles = %+v, want one", second.Cycles)
	}
	c := second.Cycles[0]
	if c.From != 20 || c.To != 55 || !slices.Equal(c.Path, []int64{55, 20, 55}) {
		t.Errorf("cycle = %+v, want 20->55 via [55 20 55]", c)
	}
	for id, n := range store.byOutput {
		if n > 1 {
			t.Errorf("stored recipes of %d read %d times in one pass", id, n)
		}
	}
	if store.byOutput[55] != 0 {
		t.Errorf("item 55 was fetched this pass, stored recipes read %d times", store.byOutput[55])
	}
}

func TestResolvePending_FailedLookupStaysPending(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, []int64{5, 6}, nil)

	upstream := recipeBook(testutil.NewRecipe(60, 6))
	book := upstream.FetchRecipesForItemFn
	upstream.FetchRecipesForItemFn = func(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
		if itemID == 5 {
			return nil, fmt.Errorf("lookup: %w", entity.ErrTransient)
		}
		return book(ctx, itemID)
	}

	res, err := newService(t, upstream, store, 8).ResolvePending(ctx)
	if err != nil {
		t.Fatalf("ResolvePending() error: %v", err)
	}
	if !slices.Equal(res.StillUnresolved, []int64{5}) || res.Resolved != 1 {
		t.Errorf("result = %+v", res)
	}
	pending, _ := store.ListItemIDs(ctx, entity.ItemFilter{PendingRecipe: true})
	if !slices.Equal(pending, []int64{5}) {
		t.Errorf("pending = %v, want [5]", pending)
	}
}

func TestResolvePending_AllLookupsFail(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, []int64{1, 2}, nil)
	upstream := &testutil.MockUpstream{
		FetchRecipesForItemFn: func(context.Context, int64) ([]*entity.Recipe, error) {
			return nil, fmt.Errorf("down: %w", entity.ErrTransient)
		},
	}

	res, err := newService(t, upstream, store, 8).ResolvePending(context.Background())
	if !errors.Is(err, entity.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(res.StillUnresolved) != 2 {
		t.Errorf("unresolved = %v", res.StillUnresolved)
	}
}

func TestResolvePending_IngredientFetchFailureRequeuesParent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seed(t, store, []int64{1}, nil)

	upstream := recipeBook(testutil.NewRecipe(10, 1, 2))
	upstream.FetchBatchFn = func(context.Context, entity.JobKind, []int64) (*outbound.BatchResult, error) {
		return nil, fmt.Errorf("batch: %w", entity.ErrTransient)
	}

	res, err := newService(t, upstream, store, 8).ResolvePending(ctx)
	if !errors.Is(err, entity.ErrTransient) {
		t.Fatalf("expected transient error when nothing resolved, got %v (%+v)", err, res)
	}
	pending, _ := store.ListItemIDs(ctx, entity.ItemFilter{PendingRecipe: true})
	if !slices.Equal(pending, []int64{1}) {
		t.Errorf("pending = %v, want [1]", pending)
	}
}

func TestResolvePending_NothingPending(t *testing.T) {
	upstream := &testutil.MockUpstream{}
	res, err := newService(t, upstream, memory.NewStore(), 8).ResolvePending(context.Background())
	if err != nil {
		t.Fatalf("ResolvePending() error: %v", err)
	}
	if res.Fetches != 0 || len(upstream.RecipeCalls()) != 0 {
		t.Errorf("expected no work, got %+v", res)
	}
}

func TestResolvePending_Cancelled(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, []int64{1, 2, 3}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	upstream := recipeBook()
	upstream.FetchRecipesForItemFn = func(context.Context, int64) ([]*entity.Recipe, error) {
		cancel()
		return nil, nil
	}

	if _, err := newService(t, upstream, store, 8).ResolvePending(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := len(upstream.RecipeCalls()); n != 1 {
		t.Errorf("recipe fetches after cancel = %d, want 1", n)
	}
}

func TestRun_CheckpointsCompletedPass(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, []int64{1}, nil)

	var completed bool
	checkpoint := func(_ context.Context, _ int, c bool) error {
		completed = c
		return nil
	}
	stats, err := newService(t, recipeBook(testutil.NewRecipe(10, 1, 2)), store, 8).Run(context.Background(), nil, checkpoint)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !completed {
		t.Error("expected completed checkpoint")
	}
	if stats.Processed != 2 || stats.Written != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFindCycles(t *testing.T) {
	tests := []struct {
		name    string
		recipes []*entity.Recipe
		want    []entity.Cycle
	}{
		{
			name:    "acyclic",
			recipes: []*entity.Recipe{testutil.NewRecipe(1, 1, 2, 3), testutil.NewRecipe(2, 2, 3)},
		},
		{
			name:    "three node loop",
			recipes: []*entity.Recipe{testutil.NewRecipe(1, 1, 2), testutil.NewRecipe(2, 2, 3), testutil.NewRecipe(3, 3, 1)},
			want:    []entity.Cycle{{From: 3, To: 1, Path: []int64{1, 2, 3, 1}}},
		},
		{
			name:    "diamond is not a cycle",
			recipes: []*entity.Recipe{testutil.NewRecipe(1, 1, 2, 3), testutil.NewRecipe(2, 2, 4), testutil.NewRecipe(3, 3, 4)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGraph()
			for _, r := range tt.recipes {
				g.add(r)
			}
			got := g.findCycles()
			if len(got) != len(tt.want) {
				t.Fatalf("cycles = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i].From != tt.want[i].From || got[i].To != tt.want[i].To || !slices.Equal(got[i].Path, tt.want[i].Path) {
					t.Errorf("cycle %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
