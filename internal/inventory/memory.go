package inventory

import (
	"context"
	"sync"

	"github.com/drluca/orderflow/internal/events"
)

// MemoryStockStore is the in-memory StockStore used by tests.
type MemoryStockStore struct {
	mu           sync.Mutex
	available    map[string]int
	reserved     map[string]int
	reservations map[string][]events.Item
}

func NewMemoryStockStore(available map[string]int) *MemoryStockStore {
	avail := make(map[string]int, len(available))
	for k, v := range available {
		avail[k] = v
	}
	return &MemoryStockStore{
		available:    avail,
		reserved:     make(map[string]int),
		reservations: make(map[string][]events.Item),
	}
}

func (s *MemoryStockStore) Reserve(_ context.Context, orderID string, items []events.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range items {
		if s.available[it.ProductID]-s.reserved[it.ProductID] < it.Quantity {
			return &ShortageError{ProductID: it.ProductID}
		}
	}
	for _, it := range items {
		s.reserved[it.ProductID] += it.Quantity
	}
	s.reservations[orderID] = append([]events.Item(nil), items...)
	return nil
}

func (s *MemoryStockStore) Release(_ context.Context, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.reservations[orderID]
	if !ok {
		return false, nil
	}
	for _, it := range items {
		s.reserved[it.ProductID] -= it.Quantity
	}
	delete(s.reservations, orderID)
	return true, nil
}

// ReservedQuantity reports how much of a product is currently held.
func (s *MemoryStockStore) ReservedQuantity(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved[productID]
}
