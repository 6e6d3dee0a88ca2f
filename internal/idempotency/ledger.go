// Package idempotency tracks processed event ids per consumer group so that
// at-least-once delivery behaves as effectively-once. The ledger mark must be
// written in the same transaction as the side effect it guards.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicateMark is returned by Mark when another worker recorded the same
// (group, eventId) pair first. Losing this race is a steady-state no-op, not
// a failure.
var ErrDuplicateMark = errors.New("event already marked as processed")

// Record is one processed-event entry. Outcome optionally holds the envelope
// that was published as a result, so a duplicate delivery can replay it
// instead of re-running the side effect.
type Record struct {
	Group       string          `db:"consumer_group"`
	EventID     string          `db:"event_id"`
	Outcome     json.RawMessage `db:"outcome"`
	ProcessedAt time.Time       `db:"processed_at"`
}

// Ledger is the durable processed-event store. Seen returns nil when the
// event has not been handled by the group yet.
type Ledger interface {
	Seen(ctx context.Context, group, eventID string) (*Record, error)
	Mark(ctx context.Context, group, eventID string, outcome []byte) error
}
