package orders

import "context"

// Repository is the order record store. TransitionFromPending is the mutual
// exclusion point for duplicate deliveries racing each other: it updates the
// status only while the order is still PENDING and reports ErrConflict to the
// loser.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context) ([]*Order, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*Order, error)
	TransitionFromPending(ctx context.Context, id string, to Status) error
}
