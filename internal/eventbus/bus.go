// Package eventbus abstracts the publish/subscribe transport carrying saga
// events. Delivery to a consumer group is at-least-once; handlers must be
// idempotent.
package eventbus

import (
	"context"
	"errors"

	"github.com/drluca/orderflow/internal/events"
)

// ErrTransport indicates the broker could not durably accept or deliver a
// message. Callers retry with backoff; the order service routes publishes
// through the outbox so nothing is lost.
var ErrTransport = errors.New("event bus transport failure")

// ErrPermanentFailure is returned by a Handler to signal that a message is
// malformed and must not be redelivered. The consumer nacks it to the DLQ.
var ErrPermanentFailure = errors.New("permanent failure processing message")

// Handler processes one decoded envelope. Any error other than
// ErrPermanentFailure causes a redelivery.
type Handler func(ctx context.Context, env events.Envelope) error

// Bus is the transport contract shared by both services. Publish returns only
// after the broker has acknowledged durability. Subscribe registers a handler
// for the given event types under a consumer group; the group name doubles as
// the idempotency ledger key.
type Bus interface {
	Publish(ctx context.Context, env events.Envelope) error
	Subscribe(ctx context.Context, group string, types []events.Type, handler Handler) error
	Close()
}
