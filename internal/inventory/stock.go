// Package inventory implements the reservation side of the order saga: it
// consumes check requests, reserves stock all-or-nothing, publishes the
// outcome, and releases reservations when an order is cancelled.
package inventory

import (
	"context"

	"github.com/drluca/orderflow/internal/events"
)

// ShortageError reports the first product that could not be covered. It is a
// business outcome, not a processing failure: the handler converts it into an
// INVENTORY_INSUFFICIENT event.
type ShortageError struct {
	ProductID string
}

func (e *ShortageError) Error() string {
	return "insufficient stock for " + e.ProductID
}

// StockStore is the stock-accounting collaborator. Reserve must be
// all-or-nothing: on a shortage of any single item no reservation is left
// behind. Release undoes a reservation and reports whether one existed;
// releasing twice, or releasing an unknown order, is a safe no-op.
type StockStore interface {
	Reserve(ctx context.Context, orderID string, items []events.Item) error
	Release(ctx context.Context, orderID string) (bool, error)
}
