package gw2bltc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/pkg/httpclient"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(ClientConfig{
		BaseURL: server.URL,
		HTTP: httpclient.Config{
			MaxRetries:      1,
			InitialBackoff:  time.Millisecond,
			MaxBackoff:      time.Millisecond,
			RateLimitPerMin: 600000,
		},
	})
}

func TestClient_FetchHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tp/chart/19684" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[[1735776000, 61, 51, 210, 110], [1735689600, 60, 50, 200, 100], [1735700000, 1]]`))
	})

	history, err := client.FetchHistory(context.Background(), 19684)
	if err != nil {
		t.Fatalf("FetchHistory() error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d snapshots, want 2 (short row skipped)", len(history))
	}

	first := history[0]
	if !first.Timestamp.Equal(time.Unix(1735689600, 0)) {
		t.Errorf("history not sorted: first timestamp %v", first.Timestamp)
	}
	if first.SellPrice != 60 || first.BuyPrice != 50 || first.SellQuantity != 200 || first.BuyQuantity != 100 {
		t.Errorf("unexpected column mapping: %+v", first)
	}
}

func TestClient_FetchHistory_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	history, err := client.FetchHistory(context.Background(), 12345)
	if err != nil {
		t.Fatalf("FetchHistory() error: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("expected empty history, got %d", len(history))
	}
}

func TestClient_FetchHistory_ServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchHistory(context.Background(), 1)
	if !errors.Is(err, entity.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}
