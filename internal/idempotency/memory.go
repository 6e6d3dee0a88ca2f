package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is the in-memory Ledger used by tests.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record)}
}

func (l *MemoryLedger) Seen(_ context.Context, group, eventID string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[group+"/"+eventID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (l *MemoryLedger) Mark(_ context.Context, group, eventID string, outcome []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := group + "/" + eventID
	if _, ok := l.records[key]; ok {
		return ErrDuplicateMark
	}
	l.records[key] = Record{
		Group:       group,
		EventID:     eventID,
		Outcome:     outcome,
		ProcessedAt: time.Now().UTC(),
	}
	return nil
}
