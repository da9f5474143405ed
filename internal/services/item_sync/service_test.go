package item_sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gw2shinies/tpsync/internal/adapters/outbound/gw2api"
	"github.com/gw2shinies/tpsync/internal/adapters/outbound/memory"
	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/pkg/httpclient"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
	"github.com/gw2shinies/tpsync/internal/testutil"
)

func newService(t *testing.T, upstream outbound.Upstream, store outbound.ItemStore) *Service {
	t.Helper()
	svc, err := NewService(Config{Concurrency: 2, Logger: testutil.DiscardLogger()}, upstream, store)
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return svc
}

func TestNewService_Validation(t *testing.T) {
	store := memory.NewStore()
	upstream := &testutil.MockUpstream{}

	if _, err := NewService(Config{}, nil, store); err == nil {
		t.Error("expected error for nil upstream")
	}
	if _, err := NewService(Config{}, upstream, nil); err == nil {
		t.Error("expected error for nil store")
	}

	svc, err := NewService(Config{}, upstream, store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if svc.config.Concurrency != ConfigDefaults().Concurrency {
		t.Errorf("Concurrency = %d, want default", svc.config.Concurrency)
	}
	if svc.Kind() != entity.JobItems {
		t.Errorf("Kind() = %s", svc.Kind())
	}
}

// Three pages of 100 items where page 2 fails twice with a 503 before
// succeeding: the pass stores all 300 items and ends at page 3.
func TestSyncAll_RetriedPageScenario(t *testing.T) {
	var page2Attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiPage, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if apiPage == 1 && page2Attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var sb strings.Builder
		sb.WriteString("[")
		for i := range 100 {
			if i > 0 {
				sb.WriteString(",")
			}
			id := apiPage*100 + i + 1
			fmt.Fprintf(&sb, `{"id": %d, "name": "Item %d", "type": "CraftingMaterial", "rarity": "Fine", "flags": []}`, id, id)
		}
		sb.WriteString("]")
		w.Header().Set("X-Page-Total", "3")
		_, _ = w.Write([]byte(sb.String()))
	}))
	t.Cleanup(server.Close)

	client, err := gw2api.NewClient(gw2api.ClientConfig{
		BaseURL:  server.URL,
		PageSize: 100,
		HTTP: httpclient.Config{
			MaxRetries:      3,
			InitialBackoff:  time.Millisecond,
			MaxBackoff:      5 * time.Millisecond,
			RateLimitPerMin: 600000,
		},
		Logger: testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("gw2api.NewClient() error: %v", err)
	}

	ctx := context.Background()
	store := memory.NewStore()
	svc := newService(t, client, store)

	res, err := svc.SyncAll(ctx, nil, testutil.CursorCheckpoint(store, entity.JobItems))
	if err != nil {
		t.Fatalf("SyncAll() error: %v", err)
	}
	if res.Upserted != 300 || res.Pages != 3 || res.Failed != 0 {
		t.Errorf("result = %+v, want 300 upserted over 3 pages", res)
	}
	if got := page2Attempts.Load(); got != 3 {
		t.Errorf("page 2 attempts = %d, want 3", got)
	}

	ids, _ := store.ListItemIDs(ctx, entity.ItemFilter{})
	if len(ids) != 300 {
		t.Errorf("stored %d items, want 300", len(ids))
	}
	cursor, _ := store.GetCursor(ctx, entity.JobItems)
	if cursor == nil || cursor.Page != 3 || !cursor.Completed {
		t.Errorf("cursor = %+v, want page 3 completed", cursor)
	}
}

func TestSyncAll_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	upstream := &testutil.MockUpstream{FetchPageFn: testutil.ItemPages(4, 25)}
	svc := newService(t, upstream, store)
	checkpoint := testutil.CursorCheckpoint(store, entity.JobItems)

	if _, err := svc.SyncAll(ctx, nil, checkpoint); err != nil {
		t.Fatalf("first SyncAll() error: %v", err)
	}
	writes := store.ItemWrites()
	cursor, _ := store.GetCursor(ctx, entity.JobItems)

	res, err := svc.SyncAll(ctx, cursor, checkpoint)
	if err != nil {
		t.Fatalf("second SyncAll() error: %v", err)
	}
	if res.Upserted != 0 || res.Unchanged != 100 {
		t.Errorf("second pass = %+v, want 0 upserted / 100 unchanged", res)
	}
	if store.ItemWrites() != writes {
		t.Errorf("second pass wrote %d rows", store.ItemWrites()-writes)
	}
}

func TestSyncAll_WritesOnlyChangedItems(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	_ = store.UpsertItems(ctx, []*entity.Item{testutil.NewItem(1, "Item 1"), testutil.NewItem(2, "Old name")})
	writes := store.ItemWrites()

	upstream := &testutil.MockUpstream{FetchPageFn: testutil.ItemPages(1, 3)}
	res, err := newService(t, upstream, store).SyncAll(ctx, nil, testutil.CursorCheckpoint(store, entity.JobItems))
	if err != nil {
		t.Fatalf("SyncAll() error: %v", err)
	}
	if res.Upserted != 2 || res.Unchanged != 1 {
		t.Errorf("result = %+v, want 2 upserted / 1 unchanged", res)
	}
	if got := store.ItemWrites() - writes; got != 2 {
		t.Errorf("wrote %d rows, want 2", got)
	}
}

func TestSyncAll_ResumesAfterFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pages := testutil.ItemPages(4, 10)

	var failPage3 atomic.Bool
	failPage3.Store(true)
	upstream := &testutil.MockUpstream{
		FetchPageFn: func(ctx context.Context, kind entity.JobKind, page int) (*outbound.Page, error) {
			if page == 3 && failPage3.Load() {
				return nil, fmt.Errorf("page 3: %w", entity.ErrTransient)
			}
			return pages(ctx, kind, page)
		},
	}
	svc := newService(t, upstream, store)
	checkpoint := testutil.CursorCheckpoint(store, entity.JobItems)

	res, err := svc.SyncAll(ctx, nil, checkpoint)
	if !errors.Is(err, entity.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if res.Upserted != 20 || res.Failed != 1 {
		t.Errorf("partial result = %+v, want 20 upserted / 1 failed", res)
	}
	cursor, _ := store.GetCursor(ctx, entity.JobItems)
	if cursor == nil || cursor.Page != 2 || cursor.Completed {
		t.Fatalf("cursor after failure = %+v, want page 2", cursor)
	}

	failPage3.Store(false)
	before := len(upstream.PageCalls())
	res, err = svc.SyncAll(ctx, cursor, checkpoint)
	if err != nil {
		t.Fatalf("resumed SyncAll() error: %v", err)
	}
	resumed := upstream.PageCalls()[before:]
	slices.Sort(resumed)
	if !slices.Equal(resumed, []int{3, 4}) {
		t.Errorf("resumed run fetched pages %v, want [3 4]", resumed)
	}
	if res.Upserted != 20 {
		t.Errorf("resumed upserted = %d, want 20", res.Upserted)
	}
	cursor, _ = store.GetCursor(ctx, entity.JobItems)
	if cursor.Page != 4 || !cursor.Completed {
		t.Errorf("cursor = %+v, want page 4 completed", cursor)
	}
}

func TestSyncAll_CommitsInPageOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	pages := testutil.ItemPages(6, 5)
	upstream := &testutil.MockUpstream{
		FetchPageFn: func(ctx context.Context, kind entity.JobKind, page int) (*outbound.Page, error) {
			// Later pages answer first.
			time.Sleep(time.Duration(7-page) * 2 * time.Millisecond)
			return pages(ctx, kind, page)
		},
	}

	var committed []int
	checkpoint := func(_ context.Context, page int, _ bool) error {
		committed = append(committed, page)
		return nil
	}

	if _, err := newService(t, upstream, store).SyncAll(ctx, nil, checkpoint); err != nil {
		t.Fatalf("SyncAll() error: %v", err)
	}
	if !slices.Equal(committed, []int{1, 2, 3, 4, 5, 6}) {
		t.Errorf("commit order = %v", committed)
	}
}

func TestSyncAll_RestartsWhenResumePageRejected(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	upstream := &testutil.MockUpstream{FetchPageFn: testutil.ItemPages(2, 5)}

	cursor := &entity.SyncCursor{Kind: entity.JobItems, Page: 5}
	res, err := newService(t, upstream, store).SyncAll(ctx, cursor, testutil.CursorCheckpoint(store, entity.JobItems))
	if err != nil {
		t.Fatalf("SyncAll() error: %v", err)
	}
	if res.Pages != 2 {
		t.Errorf("pages = %d, want 2", res.Pages)
	}
	if calls := upstream.PageCalls(); calls[0] != 6 || calls[1] != 1 {
		t.Errorf("page calls = %v, want 6 then 1", calls)
	}
}

func TestSyncAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := memory.NewStore()
	pages := testutil.ItemPages(5, 5)
	upstream := &testutil.MockUpstream{
		FetchPageFn: func(ctx context.Context, kind entity.JobKind, page int) (*outbound.Page, error) {
			if page == 2 {
				cancel()
			}
			return pages(ctx, kind, page)
		},
	}

	_, err := newService(t, upstream, store).SyncAll(ctx, nil, testutil.CursorCheckpoint(store, entity.JobItems))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	cursor, _ := store.GetCursor(context.Background(), entity.JobItems)
	if cursor == nil || cursor.Completed {
		t.Errorf("cursor = %+v, want partial progress", cursor)
	}
}

func TestRun_MapsStats(t *testing.T) {
	store := memory.NewStore()
	upstream := &testutil.MockUpstream{FetchPageFn: testutil.ItemPages(1, 4)}

	stats, err := newService(t, upstream, store).Run(context.Background(), nil, testutil.CursorCheckpoint(store, entity.JobItems))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if stats.Processed != 4 || stats.Written != 4 {
		t.Errorf("stats = %+v", stats)
	}
}
