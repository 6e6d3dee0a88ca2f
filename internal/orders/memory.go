package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is the in-memory Repository used by tests.
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*Order)}
}

func (r *MemoryRepository) Create(_ context.Context, o *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	r.orders[o.ID] = &clone
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]*Order, error) {
	return r.listWhere(func(*Order) bool { return true })
}

func (r *MemoryRepository) ListByCustomer(_ context.Context, customerID string) ([]*Order, error) {
	return r.listWhere(func(o *Order) bool { return o.CustomerID == customerID })
}

func (r *MemoryRepository) listWhere(keep func(*Order) bool) ([]*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Order
	for _, o := range r.orders {
		if keep(o) {
			clone := *o
			clone.Items = append([]Item(nil), o.Items...)
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) TransitionFromPending(_ context.Context, id string, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if o.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}
