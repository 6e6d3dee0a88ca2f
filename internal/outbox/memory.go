package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/drluca/orderflow/internal/events"
)

// MemoryQueue is the in-memory Queue used by tests.
type MemoryQueue struct {
	mu     sync.Mutex
	nextID int64
	rows   []Row
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, env events.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	q.rows = append(q.rows, Row{
		ID:        q.nextID,
		EventID:   env.EventID,
		EventType: string(env.EventType),
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (q *MemoryQueue) FetchPending(_ context.Context, limit int) ([]Row, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Row
	for _, r := range q.rows {
		if r.SentAt == nil && r.DeadAt == nil {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (q *MemoryQueue) MarkSent(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.rows {
		if q.rows[i].ID == id {
			now := time.Now().UTC()
			q.rows[i].SentAt = &now
		}
	}
	return nil
}

func (q *MemoryQueue) MarkDead(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.rows {
		if q.rows[i].ID == id {
			now := time.Now().UTC()
			q.rows[i].DeadAt = &now
		}
	}
	return nil
}

// Rows returns a copy of every enqueued row, sent or not.
func (q *MemoryQueue) Rows() []Row {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Row, len(q.rows))
	copy(out, q.rows)
	return out
}
