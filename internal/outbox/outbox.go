// Package outbox implements the transactional outbox used by the order
// service: envelopes are enqueued in the same database transaction as the
// state change that produced them, and a background dispatcher publishes them
// until the broker acknowledges. Losing the check-request would strand an
// order in PENDING forever, so publishes are retried, never dropped.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drluca/orderflow/internal/database"
	"github.com/drluca/orderflow/internal/events"
)

// Row is one pending, sent or dead outbox entry.
type Row struct {
	ID        int64           `db:"id"`
	EventID   string          `db:"event_id"`
	EventType string          `db:"event_type"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt time.Time       `db:"created_at"`
	SentAt    *time.Time      `db:"sent_at"`
	DeadAt    *time.Time      `db:"dead_at"`
}

// Queue is the outbox contract. Enqueue joins the transaction carried by the
// context when one is open. MarkDead parks an unpublishable row: it leaves the
// pending set but stays queryable for inspection, the outbox's dead-letter
// path.
type Queue interface {
	Enqueue(ctx context.Context, env events.Envelope) error
	FetchPending(ctx context.Context, limit int) ([]Row, error)
	MarkSent(ctx context.Context, id int64) error
	MarkDead(ctx context.Context, id int64) error
}

// PostgresStore persists outbox rows in the outbox table.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Enqueue(ctx context.Context, env events.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("failed to marshal envelope for outbox: %w", err)
	}
	query := `INSERT INTO outbox(event_id, event_type, payload) VALUES ($1, $2, $3)`
	if _, err := s.db.Ext(ctx).ExecContext(ctx, query, env.EventID, string(env.EventType), payload); err != nil {
		return fmt.Errorf("failed to insert outbox row: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchPending(ctx context.Context, limit int) ([]Row, error) {
	query := `SELECT id, event_id, event_type, payload, created_at, sent_at, dead_at FROM outbox WHERE sent_at IS NULL AND dead_at IS NULL ORDER BY id LIMIT $1`
	rows, err := s.db.Ext(ctx).QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending outbox rows: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.StructScan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkSent(ctx context.Context, id int64) error {
	query := `UPDATE outbox SET sent_at=now() WHERE id=$1`
	if _, err := s.db.Ext(ctx).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark outbox row sent: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkDead(ctx context.Context, id int64) error {
	query := `UPDATE outbox SET dead_at=now() WHERE id=$1`
	if _, err := s.db.Ext(ctx).ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark outbox row dead: %w", err)
	}
	return nil
}
