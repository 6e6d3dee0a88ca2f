package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/drluca/orderflow/internal/database"
)

// PostgresRepository stores orders in the orders table with the line items
// embedded as JSON, mirroring the aggregate shape.
type PostgresRepository struct {
	db *database.DB
}

func NewPostgresRepository(db *database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type orderRow struct {
	ID              string          `db:"id"`
	CustomerID      string          `db:"customer_id"`
	CustomerName    string          `db:"customer_name"`
	Items           json.RawMessage `db:"items"`
	TotalAmount     float64         `db:"total_amount"`
	Status          string          `db:"status"`
	CreatedAt       sql.NullTime    `db:"created_at"`
	UpdatedAt       sql.NullTime    `db:"updated_at"`
	ShippingAddress string          `db:"shipping_address"`
}

func (r *PostgresRepository) Create(ctx context.Context, o *Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	query := `INSERT INTO orders(id, customer_id, customer_name, items, total_amount, status, shipping_address, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = r.db.Ext(ctx).ExecContext(ctx, query,
		o.ID, o.CustomerID, o.CustomerName, items, o.TotalAmount, string(o.Status), o.ShippingAddress, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Order, error) {
	var row orderRow
	query := `SELECT id, customer_id, customer_name, items, total_amount, status, created_at, updated_at, shipping_address FROM orders WHERE id=$1`
	err := sqlx.GetContext(ctx, r.db.Ext(ctx), &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order %s: %w", id, err)
	}
	return row.toOrder()
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Order, error) {
	query := `SELECT id, customer_id, customer_name, items, total_amount, status, created_at, updated_at, shipping_address FROM orders ORDER BY created_at DESC`
	return r.queryOrders(ctx, query)
}

func (r *PostgresRepository) ListByCustomer(ctx context.Context, customerID string) ([]*Order, error) {
	query := `SELECT id, customer_id, customer_name, items, total_amount, status, created_at, updated_at, shipping_address FROM orders WHERE customer_id=$1 ORDER BY created_at DESC`
	return r.queryOrders(ctx, query, customerID)
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := r.db.Ext(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		var row orderRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		o, err := row.toOrder()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TransitionFromPending applies the conditional update that arbitrates
// duplicate deliveries. Zero rows affected means either the order is gone
// (ErrNotFound) or it already left PENDING (ErrConflict).
func (r *PostgresRepository) TransitionFromPending(ctx context.Context, id string, to Status) error {
	query := `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1 AND status=$3`
	res, err := r.db.Ext(ctx).ExecContext(ctx, query, id, string(to), string(StatusPending))
	if err != nil {
		return fmt.Errorf("failed to transition order %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for order %s: %w", id, err)
	}
	if affected == 0 {
		var exists bool
		if err := sqlx.GetContext(ctx, r.db.Ext(ctx), &exists, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, id); err != nil {
			return fmt.Errorf("failed to check order %s existence: %w", id, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}
	return nil
}

func (row orderRow) toOrder() (*Order, error) {
	var items []Item
	if len(row.Items) > 0 {
		if err := json.Unmarshal(row.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal items for order %s: %w", row.ID, err)
		}
	}
	return &Order{
		ID:              row.ID,
		CustomerID:      row.CustomerID,
		CustomerName:    row.CustomerName,
		Items:           items,
		TotalAmount:     row.TotalAmount,
		Status:          Status(row.Status),
		CreatedAt:       row.CreatedAt.Time,
		UpdatedAt:       row.UpdatedAt.Time,
		ShippingAddress: row.ShippingAddress,
	}, nil
}
