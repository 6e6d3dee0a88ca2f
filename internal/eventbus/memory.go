package eventbus

import (
	"context"
	"sync"

	"github.com/drluca/orderflow/internal/events"
)

// MemoryBus is an in-process Bus used by tests and local wiring. Publish
// delivers synchronously to every subscribed group whose bindings match; the
// broker's at-least-once behavior is exercised in tests by delivering the same
// envelope again.
type MemoryBus struct {
	mu        sync.Mutex
	subs      []subscription
	published []events.Envelope
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Publish(ctx context.Context, env events.Envelope) error {
	b.mu.Lock()
	b.published = append(b.published, env)
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if !sub.matches(env.EventType) {
			continue
		}
		if err := sub.handler(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, group string, types []events.Type, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{group: group, types: types, handler: handler})
	return nil
}

// Published returns every envelope handed to Publish, in order.
func (b *MemoryBus) Published() []events.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Envelope, len(b.published))
	copy(out, b.published)
	return out
}

// PublishedOfType filters the publish log by event type.
func (b *MemoryBus) PublishedOfType(t events.Type) []events.Envelope {
	var out []events.Envelope
	for _, env := range b.Published() {
		if env.EventType == t {
			out = append(out, env)
		}
	}
	return out
}

func (b *MemoryBus) Close() {}

func (s subscription) matches(t events.Type) bool {
	for _, st := range s.types {
		if st == t {
			return true
		}
	}
	return false
}
