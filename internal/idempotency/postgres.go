package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/drluca/orderflow/internal/database"
)

// PostgresLedger stores processed-event records in the processed_events
// table. Mark participates in any transaction carried by the context, which
// is how the mark commits atomically with the guarded side effect.
type PostgresLedger struct {
	db *database.DB
}

func NewPostgresLedger(db *database.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Seen(ctx context.Context, group, eventID string) (*Record, error) {
	var rec Record
	query := `SELECT consumer_group, event_id, outcome, processed_at FROM processed_events WHERE consumer_group=$1 AND event_id=$2`
	err := sqlx.GetContext(ctx, l.db.Ext(ctx), &rec, query, group, eventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query processed_events: %w", err)
	}
	return &rec, nil
}

func (l *PostgresLedger) Mark(ctx context.Context, group, eventID string, outcome []byte) error {
	query := `INSERT INTO processed_events(consumer_group, event_id, outcome, processed_at) VALUES ($1, $2, $3, now())`
	_, err := l.db.Ext(ctx).ExecContext(ctx, query, group, eventID, outcome)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateMark
		}
		return fmt.Errorf("failed to insert processed_events record: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
