package orders

import "errors"

var (
	// ErrValidation rejects a malformed create command before it enters the
	// saga.
	ErrValidation = errors.New("invalid order")

	// ErrNotFound means the referenced order id is unknown. Event handlers
	// treat it as a discardable no-op rather than a broker failure.
	ErrNotFound = errors.New("order not found")

	// ErrConflict means a conditional status update lost a race because the
	// order already left PENDING. Resolved as a no-op, same as ErrNotFound.
	ErrConflict = errors.New("order already transitioned")
)
