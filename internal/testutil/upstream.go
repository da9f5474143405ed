package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

var _ outbound.Upstream = (*MockUpstream)(nil)

// MockUpstream is a hand-written outbound.Upstream whose behavior is set
// through function fields. Unset functions return an error. Calls are counted.
type MockUpstream struct {
	FetchPageFn           func(ctx context.Context, kind entity.JobKind, page int) (*outbound.Page, error)
	FetchBatchFn          func(ctx context.Context, kind entity.JobKind, ids []int64) (*outbound.BatchResult, error)
	FetchRecipesForItemFn func(ctx context.Context, itemID int64) ([]*entity.Recipe, error)
	BatchSize             int

	mu          sync.Mutex
	pageCalls   []int
	batchCalls  int
	recipeCalls []int64
}

func (m *MockUpstream) FetchPage(ctx context.Context, kind entity.JobKind, page int) (*outbound.Page, error) {
	m.mu.Lock()
	m.pageCalls = append(m.pageCalls, page)
	m.mu.Unlock()
	if m.FetchPageFn == nil {
		return nil, fmt.Errorf("FetchPage not configured")
	}
	return m.FetchPageFn(ctx, kind, page)
}

func (m *MockUpstream) FetchBatch(ctx context.Context, kind entity.JobKind, ids []int64) (*outbound.BatchResult, error) {
	m.mu.Lock()
	m.batchCalls++
	m.mu.Unlock()
	if m.FetchBatchFn == nil {
		return nil, fmt.Errorf("FetchBatch not configured")
	}
	return m.FetchBatchFn(ctx, kind, ids)
}

func (m *MockUpstream) FetchRecipesForItem(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
	m.mu.Lock()
	m.recipeCalls = append(m.recipeCalls, itemID)
	m.mu.Unlock()
	if m.FetchRecipesForItemFn == nil {
		return nil, fmt.Errorf("FetchRecipesForItem not configured")
	}
	return m.FetchRecipesForItemFn(ctx, itemID)
}

func (m *MockUpstream) MaxBatchSize() int {
	if m.BatchSize <= 0 {
		return 200
	}
	return m.BatchSize
}

// PageCalls returns the requested page numbers in call order.
func (m *MockUpstream) PageCalls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.pageCalls...)
}

// BatchCalls returns how many FetchBatch calls were made.
func (m *MockUpstream) BatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// RecipeCalls returns the item ids passed to FetchRecipesForItem in call order.
func (m *MockUpstream) RecipeCalls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.recipeCalls...)
}

// ItemPages serves total pages of perPage sequential items, starting at id 1.
func ItemPages(total, perPage int) func(ctx context.Context, kind entity.JobKind, page int) (*outbound.Page, error) {
	return func(_ context.Context, _ entity.JobKind, page int) (*outbound.Page, error) {
		if page < 1 || page > total {
			return nil, fmt.Errorf("page %d: %w", page, entity.ErrFatal)
		}
		p := &outbound.Page{Number: page, Total: total}
		for i := range perPage {
			id := int64((page-1)*perPage + i + 1)
			p.Items = append(p.Items, NewItem(id, fmt.Sprintf("Item %d", id)))
		}
		return p, nil
	}
}
