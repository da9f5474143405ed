package testutil

import (
	"context"
	"sync"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/outbound"
)

var _ outbound.PriceCache = (*MockPriceCache)(nil)

// MockPriceCache is an in-memory outbound.PriceCache. SetErr, when set, is
// returned by SetCurrent instead of storing.
type MockPriceCache struct {
	SetErr error

	mu     sync.Mutex
	prices map[int64]*entity.PriceSnapshot
	gets   int
}

func (m *MockPriceCache) SetCurrent(_ context.Context, snapshots []*entity.PriceSnapshot) error {
	if m.SetErr != nil {
		return m.SetErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prices == nil {
		m.prices = make(map[int64]*entity.PriceSnapshot)
	}
	for _, s := range snapshots {
		c := *s
		m.prices[s.ItemID] = &c
	}
	return nil
}

func (m *MockPriceCache) GetCurrent(_ context.Context, itemID int64) (*entity.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if p, ok := m.prices[itemID]; ok {
		c := *p
		return &c, nil
	}
	return nil, nil
}

func (m *MockPriceCache) Close() error { return nil }

// Len returns the number of cached items.
func (m *MockPriceCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prices)
}

// Gets returns how many GetCurrent calls were made.
func (m *MockPriceCache) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}
