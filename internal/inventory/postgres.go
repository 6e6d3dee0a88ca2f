package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/drluca/orderflow/internal/database"
	"github.com/drluca/orderflow/internal/events"
)

// PostgresStockStore keeps available quantity and a reserved counter per
// product, plus one reservation row per order line so cancellation can
// release exactly what was held.
type PostgresStockStore struct {
	db *database.DB
}

func NewPostgresStockStore(db *database.DB) *PostgresStockStore {
	return &PostgresStockStore{db: db}
}

type stockRow struct {
	ProductID string `db:"product_id"`
	Quantity  int    `db:"quantity"`
	Reserved  int    `db:"reserved"`
}

// Reserve locks the stock rows for the requested products, verifies every
// line can be covered and only then applies the reserved increments. Checking
// before writing keeps the enclosing transaction alive on a shortage, so the
// caller can still record the outcome in the idempotency ledger.
func (s *PostgresStockStore) Reserve(ctx context.Context, orderID string, items []events.Item) error {
	ext := s.db.Ext(ctx)

	for _, it := range items {
		var row stockRow
		query := `SELECT product_id, quantity, reserved FROM product_stock WHERE product_id=$1 FOR UPDATE`
		err := sqlx.GetContext(ctx, ext, &row, query, it.ProductID)
		if errors.Is(err, sql.ErrNoRows) {
			// Unknown product counts as a shortage of that product.
			return &ShortageError{ProductID: it.ProductID}
		}
		if err != nil {
			return fmt.Errorf("failed to lock stock row for %s: %w", it.ProductID, err)
		}
		if row.Quantity-row.Reserved < it.Quantity {
			return &ShortageError{ProductID: it.ProductID}
		}
	}

	for _, it := range items {
		update := `UPDATE product_stock SET reserved = reserved + $1 WHERE product_id=$2`
		if _, err := ext.ExecContext(ctx, update, it.Quantity, it.ProductID); err != nil {
			return fmt.Errorf("failed to reserve %d of %s: %w", it.Quantity, it.ProductID, err)
		}
		insert := `INSERT INTO reservations(order_id, product_id, quantity) VALUES ($1, $2, $3)`
		if _, err := ext.ExecContext(ctx, insert, orderID, it.ProductID, it.Quantity); err != nil {
			return fmt.Errorf("failed to record reservation for order %s: %w", orderID, err)
		}
	}
	return nil
}

type reservationRow struct {
	ProductID string `db:"product_id"`
	Quantity  int    `db:"quantity"`
}

// Release returns held stock for the order and marks its reservation rows
// released. The released flag makes a second release a no-op rather than a
// double decrement.
func (s *PostgresStockStore) Release(ctx context.Context, orderID string) (bool, error) {
	ext := s.db.Ext(ctx)

	var rows []reservationRow
	query := `SELECT product_id, quantity FROM reservations WHERE order_id=$1 AND released=false FOR UPDATE`
	if err := sqlx.SelectContext(ctx, ext, &rows, query, orderID); err != nil {
		return false, fmt.Errorf("failed to query reservations for order %s: %w", orderID, err)
	}
	if len(rows) == 0 {
		return false, nil
	}

	for _, r := range rows {
		update := `UPDATE product_stock SET reserved = reserved - $1 WHERE product_id=$2`
		if _, err := ext.ExecContext(ctx, update, r.Quantity, r.ProductID); err != nil {
			return false, fmt.Errorf("failed to release %d of %s: %w", r.Quantity, r.ProductID, err)
		}
	}
	mark := `UPDATE reservations SET released=true WHERE order_id=$1 AND released=false`
	if _, err := ext.ExecContext(ctx, mark, orderID); err != nil {
		return false, fmt.Errorf("failed to mark reservations released for order %s: %w", orderID, err)
	}
	return true, nil
}
