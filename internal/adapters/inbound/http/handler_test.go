package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/inbound"
	"github.com/gw2shinies/tpsync/internal/testutil"
)

type mockCatalog struct {
	getItemFn           func(ctx context.Context, id int64) (*entity.Item, error)
	getRecipeFn         func(ctx context.Context, id int64) (*entity.Recipe, error)
	getRecipesForItemFn func(ctx context.Context, itemID int64) ([]*entity.Recipe, error)
	getCurrentPriceFn   func(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error)
	getHistoryFn        func(ctx context.Context, itemID int64, from, to time.Time) ([]*entity.PriceSnapshot, error)
}

func (m *mockCatalog) GetItem(ctx context.Context, id int64) (*entity.Item, error) {
	if m.getItemFn != nil {
		return m.getItemFn(ctx, id)
	}
	return nil, entity.ErrNotFound
}

func (m *mockCatalog) GetRecipe(ctx context.Context, id int64) (*entity.Recipe, error) {
	if m.getRecipeFn != nil {
		return m.getRecipeFn(ctx, id)
	}
	return nil, entity.ErrNotFound
}

func (m *mockCatalog) GetRecipesForItem(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
	if m.getRecipesForItemFn != nil {
		return m.getRecipesForItemFn(ctx, itemID)
	}
	return nil, entity.ErrNotFound
}

func (m *mockCatalog) GetCurrentPrice(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error) {
	if m.getCurrentPriceFn != nil {
		return m.getCurrentPriceFn(ctx, itemID)
	}
	return nil, entity.ErrNotFound
}

func (m *mockCatalog) GetHistory(ctx context.Context, itemID int64, from, to time.Time) ([]*entity.PriceSnapshot, error) {
	if m.getHistoryFn != nil {
		return m.getHistoryFn(ctx, itemID, from, to)
	}
	return nil, nil
}

type mockStatus struct {
	statuses []entity.JobStatus
}

func (m *mockStatus) Status() []entity.JobStatus { return m.statuses }

func serve(t *testing.T, catalog *mockCatalog, status inbound.StatusReporter, path string) *httptest.ResponseRecorder {
	t.Helper()
	h := NewHandler(catalog, status, testutil.DiscardLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandler_GetItem(t *testing.T) {
	item := testutil.NewItem(19721, "Glob of Ectoplasm")

	tests := []struct {
		name           string
		path           string
		getItemFn      func(ctx context.Context, id int64) (*entity.Item, error)
		expectedStatus int
	}{
		{
			name: "found",
			path: "/api/v1/items/19721",
			getItemFn: func(ctx context.Context, id int64) (*entity.Item, error) {
				return item, nil
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "not found",
			path:           "/api/v1/items/42",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "non-numeric id",
			path:           "/api/v1/items/ecto",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "non-positive id",
			path:           "/api/v1/items/0",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "store failure",
			path: "/api/v1/items/19721",
			getItemFn: func(ctx context.Context, id int64) (*entity.Item, error) {
				return nil, errors.New("connection reset")
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, &mockCatalog{getItemFn: tt.getItemFn}, nil, tt.path)
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if w.Code != http.StatusOK {
				return
			}
			var resp itemResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.ID != 19721 || resp.Name != "Glob of Ectoplasm" {
				t.Errorf("unexpected item %+v", resp)
			}
		})
	}
}

func TestHandler_GetItemRecipes(t *testing.T) {
	recipe := testutil.NewRecipe(7, 19721, 24277)

	catalog := &mockCatalog{
		getRecipesForItemFn: func(ctx context.Context, itemID int64) ([]*entity.Recipe, error) {
			if itemID != 19721 {
				return nil, entity.ErrNotFound
			}
			return []*entity.Recipe{recipe}, nil
		},
	}

	w := serve(t, catalog, nil, "/api/v1/items/19721/recipes")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp []recipeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].ID != 7 {
		t.Fatalf("unexpected recipes %+v", resp)
	}
	if len(resp[0].Ingredients) != 1 || resp[0].Ingredients[0].Kind != "Item" || resp[0].Ingredients[0].Count != 1 {
		t.Errorf("unexpected ingredients %+v", resp[0].Ingredients)
	}

	w = serve(t, catalog, nil, "/api/v1/items/5/recipes")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 for unknown item, got %d", w.Code)
	}
}

func TestHandler_GetRecipe(t *testing.T) {
	catalog := &mockCatalog{
		getRecipeFn: func(ctx context.Context, id int64) (*entity.Recipe, error) {
			return testutil.NewRecipe(id, 100), nil
		},
	}

	w := serve(t, catalog, nil, "/api/v1/recipes/9")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp recipeResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != 9 || resp.OutputItemID != 100 {
		t.Errorf("unexpected recipe %+v", resp)
	}
	if resp.Ingredients == nil {
		t.Error("expected empty ingredients array, got null")
	}
}

func TestHandler_GetPrice(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	catalog := &mockCatalog{
		getCurrentPriceFn: func(ctx context.Context, itemID int64) (*entity.PriceSnapshot, error) {
			return &entity.PriceSnapshot{
				ItemID:       itemID,
				Timestamp:    ts,
				BuyPrice:     100,
				SellPrice:    200,
				BuyQuantity:  10,
				SellQuantity: 20,
			}, nil
		},
	}

	w := serve(t, catalog, nil, "/api/v1/items/19721/price")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp currentPriceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ItemID != 19721 || !resp.Timestamp.Equal(ts) {
		t.Errorf("unexpected snapshot %+v", resp)
	}
	// 200 * 0.85 - 100
	if resp.Profit != 70 {
		t.Errorf("expected profit 70, got %d", resp.Profit)
	}
	if resp.ROI != 70 {
		t.Errorf("expected roi 70, got %v", resp.ROI)
	}

	w = serve(t, &mockCatalog{}, nil, "/api/v1/items/19721/price")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404 without price, got %d", w.Code)
	}
}

func TestHandler_GetHistory(t *testing.T) {
	var gotFrom, gotTo time.Time
	catalog := &mockCatalog{
		getHistoryFn: func(ctx context.Context, itemID int64, from, to time.Time) ([]*entity.PriceSnapshot, error) {
			gotFrom, gotTo = from, to
			return []*entity.PriceSnapshot{
				{ItemID: itemID, Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), BuyPrice: 1, SellPrice: 2},
				{ItemID: itemID, Timestamp: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), BuyPrice: 3, SellPrice: 4},
			}, nil
		},
	}

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedFrom   time.Time
		expectedTo     time.Time
	}{
		{
			name:           "unbounded",
			path:           "/api/v1/items/1/history",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bounded",
			path:           "/api/v1/items/1/history?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z",
			expectedStatus: http.StatusOK,
			expectedFrom:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			expectedTo:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:           "malformed from",
			path:           "/api/v1/items/1/history?from=yesterday",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "malformed to",
			path:           "/api/v1/items/1/history?to=2026-13-01",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "inverted range",
			path:           "/api/v1/items/1/history?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFrom, gotTo = time.Time{}, time.Time{}
			w := serve(t, catalog, nil, tt.path)
			if w.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if w.Code != http.StatusOK {
				return
			}
			if !gotFrom.Equal(tt.expectedFrom) || !gotTo.Equal(tt.expectedTo) {
				t.Errorf("expected range [%v, %v], got [%v, %v]", tt.expectedFrom, tt.expectedTo, gotFrom, gotTo)
			}
			var resp []priceResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if len(resp) != 2 || resp[0].BuyPrice != 1 || resp[1].BuyPrice != 3 {
				t.Errorf("unexpected history %+v", resp)
			}
		})
	}
}

func TestHandler_GetStatus(t *testing.T) {
	status := &mockStatus{statuses: []entity.JobStatus{
		{Kind: entity.JobItems, State: entity.JobIdle},
		{Kind: entity.JobPrices, State: entity.JobBackoff, ConsecutiveFailures: 2, LastFailureReason: "transient"},
	}}

	w := serve(t, &mockCatalog{}, status, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp []entity.JobStatus
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 2 || resp[1].State != entity.JobBackoff || resp[1].ConsecutiveFailures != 2 {
		t.Errorf("unexpected status %+v", resp)
	}

	w = serve(t, &mockCatalog{}, nil, "/api/v1/status")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 without scheduler, got %d", w.Code)
	}
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("expected empty list, got %q", got)
	}
}
