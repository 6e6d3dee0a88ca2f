// Package correlation groups saga events by their correlation id, which for
// this workflow equals the order id.
package correlation

import (
	"sync"

	"github.com/drluca/orderflow/internal/events"
)

// Key extracts the correlation id an event should be grouped under. Older
// producers left CorrelationID unset and relied on the order id alone.
func Key(env events.Envelope) string {
	if env.CorrelationID != "" {
		return env.CorrelationID
	}
	return env.Order.OrderID
}

// Tracker remembers correlation ids whose saga already reached a terminal
// state, so a consumer can discard stale steps without a repository lookup.
// It is advisory and per-instance; the conditional status update remains the
// authoritative guard.
type Tracker struct {
	mu       sync.Mutex
	settled  map[string]struct{}
	order    []string
	capacity int
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Tracker{
		settled:  make(map[string]struct{}, capacity),
		capacity: capacity,
	}
}

// MarkSettled records that the saga for the given correlation id completed.
// The oldest entry is evicted once capacity is reached.
func (t *Tracker) MarkSettled(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.settled[id]; ok {
		return
	}
	if len(t.order) >= t.capacity {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.settled, oldest)
	}
	t.settled[id] = struct{}{}
	t.order = append(t.order, id)
}

// Settled reports whether the saga for the correlation id is known to be done.
func (t *Tracker) Settled(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.settled[id]
	return ok
}
