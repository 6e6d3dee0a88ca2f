package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/drluca/orderflow/internal/correlation"
	"github.com/drluca/orderflow/internal/database"
	"github.com/drluca/orderflow/internal/eventbus"
	"github.com/drluca/orderflow/internal/events"
	"github.com/drluca/orderflow/internal/idempotency"
	"github.com/drluca/orderflow/internal/metrics"
)

// Group is the consumer group the inventory service subscribes under; it also
// keys its idempotency ledger entries.
const Group = "inventory-service"

// Handler is the inventory reservation handler. It consumes
// INVENTORY_CHECK_REQUESTED and ORDER_CANCELLED; the stock accounting itself
// lives behind StockStore.
type Handler struct {
	store   StockStore
	ledger  idempotency.Ledger
	cache   *idempotency.SeenCache
	bus     eventbus.Bus
	tx      database.TxRunner
	metrics *metrics.Metrics
}

func NewHandler(store StockStore, ledger idempotency.Ledger, cache *idempotency.SeenCache, bus eventbus.Bus, tx database.TxRunner, m *metrics.Metrics) *Handler {
	return &Handler{store: store, ledger: ledger, cache: cache, bus: bus, tx: tx, metrics: m}
}

// HandleEvent routes a delivery by type. Unknown types are acknowledged
// silently so future producers cannot poison the queue.
func (h *Handler) HandleEvent(ctx context.Context, env events.Envelope) error {
	switch env.EventType {
	case events.TypeInventoryCheckRequested:
		return h.handleCheckRequested(ctx, env)
	case events.TypeOrderCancelled:
		return h.handleOrderCancelled(ctx, env)
	default:
		log.Debug().Str("eventType", string(env.EventType)).Msg("Ignoring event type")
		return nil
	}
}

// handleCheckRequested decides the reservation outcome for a check request.
// The decision and the ledger mark commit together; a duplicate delivery
// republishes the recorded outcome instead of re-evaluating stock, which
// under at-least-once delivery could otherwise reserve twice.
func (h *Handler) handleCheckRequested(ctx context.Context, env events.Envelope) error {
	orderID := correlation.Key(env)
	if orderID == "" || len(env.Order.Items) == 0 {
		log.Warn().Str("eventId", env.EventID).Msg("Check request without order data, discarding")
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeDiscarded)
		return nil
	}

	// The cache is only set after the outcome was published, so a cache hit
	// means there is nothing left to replay.
	if h.cache.Seen(ctx, Group, env.EventID) {
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
		return nil
	}
	rec, err := h.ledger.Seen(ctx, Group, env.EventID)
	if err != nil {
		return err
	}
	if rec != nil {
		return h.replayOutcome(ctx, env, rec)
	}

	var outcome events.Envelope
	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		reserveErr := h.store.Reserve(ctx, orderID, env.Order.Items)
		var shortage *ShortageError
		switch {
		case reserveErr == nil:
			outcome = events.New(events.TypeInventoryReserved, env.Order, Group)
		case errors.As(reserveErr, &shortage):
			outcome = events.New(events.TypeInventoryInsufficient, env.Order, Group)
			outcome.Message = shortage.Error()
		default:
			return reserveErr
		}
		raw, err := outcome.Encode()
		if err != nil {
			return err
		}
		return h.ledger.Mark(ctx, Group, env.EventID, raw)
	})
	if errors.Is(err, idempotency.ErrDuplicateMark) {
		// Another worker won the race for the same delivery; its recorded
		// outcome will be replayed on the next redelivery if needed.
		log.Info().Str("eventId", env.EventID).Str("orderId", orderID).Msg("Concurrent duplicate check request, skipping")
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
		return nil
	}
	if err != nil {
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeFailed)
		return fmt.Errorf("failed to process check request for order %s: %w", orderID, err)
	}

	if err := h.bus.Publish(ctx, outcome); err != nil {
		// The decision is durable; redelivery of the check request will
		// replay the recorded outcome rather than reserve again.
		return fmt.Errorf("failed to publish inventory outcome for order %s: %w", orderID, err)
	}

	h.cache.Remember(ctx, Group, env.EventID)
	h.metrics.Consumed(string(env.EventType), metrics.OutcomeApplied)
	h.metrics.Published(string(outcome.EventType))
	log.Info().Str("orderId", orderID).Str("outcome", string(outcome.EventType)).Str("eventId", env.EventID).Msg("Inventory check processed")
	return nil
}

// replayOutcome republishes the envelope recorded for an already-processed
// delivery. A record with no outcome means the original processing had
// nothing to announce, so there is nothing to replay.
func (h *Handler) replayOutcome(ctx context.Context, env events.Envelope, rec *idempotency.Record) error {
	if len(rec.Outcome) == 0 {
		log.Info().Str("eventId", env.EventID).Msg("Duplicate delivery with no recorded outcome, skipping")
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
		return nil
	}
	outcome, err := events.Decode(rec.Outcome)
	if err != nil {
		log.Error().Err(err).Str("eventId", env.EventID).Msg("Recorded outcome is unreadable, cannot replay")
		return eventbus.ErrPermanentFailure
	}
	if err := h.bus.Publish(ctx, outcome); err != nil {
		return fmt.Errorf("failed to replay inventory outcome: %w", err)
	}
	h.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
	log.Info().Str("orderId", outcome.CorrelationID).Str("outcome", string(outcome.EventType)).Msg("Replayed recorded inventory outcome for duplicate delivery")
	return nil
}

// handleOrderCancelled is the compensating transaction: it releases whatever
// the order still holds and announces INVENTORY_RELEASED. Running it with no
// reservation on file is a no-op, not an error. The INVENTORY_RELEASED
// envelope commits as the ledger outcome together with the release itself, so
// a publish failure after commit only delays the event until the redelivered
// cancellation replays it.
func (h *Handler) handleOrderCancelled(ctx context.Context, env events.Envelope) error {
	orderID := correlation.Key(env)
	if orderID == "" {
		log.Warn().Str("eventId", env.EventID).Msg("Cancellation without correlation id, discarding")
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeDiscarded)
		return nil
	}

	if h.cache.Seen(ctx, Group, env.EventID) {
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
		return nil
	}
	rec, err := h.ledger.Seen(ctx, Group, env.EventID)
	if err != nil {
		return err
	}
	if rec != nil {
		return h.replayOutcome(ctx, env, rec)
	}

	var outcome *events.Envelope
	err = h.tx.WithinTx(ctx, func(ctx context.Context) error {
		released, err := h.store.Release(ctx, orderID)
		if err != nil {
			return err
		}
		var raw []byte
		if released {
			out := events.New(events.TypeInventoryReleased, env.Order, Group)
			if raw, err = out.Encode(); err != nil {
				return err
			}
			outcome = &out
		}
		return h.ledger.Mark(ctx, Group, env.EventID, raw)
	})
	if errors.Is(err, idempotency.ErrDuplicateMark) {
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
		return nil
	}
	if err != nil {
		h.metrics.Consumed(string(env.EventType), metrics.OutcomeFailed)
		return fmt.Errorf("failed to release inventory for order %s: %w", orderID, err)
	}

	if outcome != nil {
		if err := h.bus.Publish(ctx, *outcome); err != nil {
			// The release is durable; the redelivered cancellation replays
			// the recorded event.
			return fmt.Errorf("failed to publish release for order %s: %w", orderID, err)
		}
		h.metrics.Published(string(events.TypeInventoryReleased))
		log.Info().Str("orderId", orderID).Msg("Reservation released after cancellation")
	} else {
		log.Info().Str("orderId", orderID).Msg("No reservation held for cancelled order, nothing to release")
	}

	h.cache.Remember(ctx, Group, env.EventID)
	h.metrics.Consumed(string(env.EventType), metrics.OutcomeApplied)
	return nil
}

// SubscribedTypes lists the event types the inventory service consumes.
func SubscribedTypes() []events.Type {
	return []events.Type{events.TypeInventoryCheckRequested, events.TypeOrderCancelled}
}
