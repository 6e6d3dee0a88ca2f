package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/drluca/orderflow/internal/correlation"
	"github.com/drluca/orderflow/internal/database"
	"github.com/drluca/orderflow/internal/events"
	"github.com/drluca/orderflow/internal/idempotency"
	"github.com/drluca/orderflow/internal/metrics"
	"github.com/drluca/orderflow/internal/outbox"
)

// Group is the consumer group the order service subscribes under; it also
// keys the idempotency ledger entries the service writes.
const Group = "order-service"

// CreateOrderCommand is the inbound create request handed over by the REST
// layer.
type CreateOrderCommand struct {
	CustomerID      string `json:"customerId"`
	CustomerName    string `json:"customerName"`
	Items           []Item `json:"items"`
	ShippingAddress string `json:"shippingAddress"`
}

// Service is the order lifecycle manager. It owns the PENDING -> CONFIRMED /
// CANCELLED saga transitions; the later operational states (PROCESSING,
// SHIPPED, DELIVERED) are driven by commands outside this workflow.
type Service struct {
	repo    Repository
	queue   outbox.Queue
	tx      database.TxRunner
	ledger  idempotency.Ledger
	cache   *idempotency.SeenCache
	tracker *correlation.Tracker
	metrics *metrics.Metrics
}

func NewService(repo Repository, queue outbox.Queue, tx database.TxRunner, ledger idempotency.Ledger, cache *idempotency.SeenCache, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		queue:   queue,
		tx:      tx,
		ledger:  ledger,
		cache:   cache,
		tracker: correlation.NewTracker(4096),
		metrics: m,
	}
}

// CreateOrder validates the command, persists the order in PENDING state and
// enqueues ORDER_CREATED followed by INVENTORY_CHECK_REQUESTED. The order row
// and both outbox rows commit in one transaction; the dispatcher retries the
// publishes until the broker acknowledges, so the check request cannot be
// lost after the order became durable.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*Order, error) {
	if err := validateItems(cmd.Items); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := &Order{
		ID:              uuid.New().String(),
		CustomerID:      cmd.CustomerID,
		CustomerName:    cmd.CustomerName,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ShippingAddress: cmd.ShippingAddress,
	}
	order.SetItems(cmd.Items)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, order); err != nil {
			return err
		}
		snapshot := order.Snapshot()
		if err := s.queue.Enqueue(ctx, events.New(events.TypeOrderCreated, snapshot, Group)); err != nil {
			return err
		}
		return s.queue.Enqueue(ctx, events.New(events.TypeInventoryCheckRequested, snapshot, Group))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	log.Info().Str("orderId", order.ID).Str("customerId", order.CustomerID).Float64("totalAmount", order.TotalAmount).Msg("Order created, inventory check requested")
	return order, nil
}

// HandleInventoryOutcome consumes INVENTORY_RESERVED and
// INVENTORY_INSUFFICIENT events. The transition, the ledger mark and the
// terminal event enqueue are one atomic unit; every other path is a logged
// no-op so redelivered or stale events never fail the subscription.
func (s *Service) HandleInventoryOutcome(ctx context.Context, env events.Envelope) error {
	var to Status
	var terminal events.Type
	reason := ""
	switch env.EventType {
	case events.TypeInventoryReserved:
		to, terminal = StatusConfirmed, events.TypeOrderConfirmed
	case events.TypeInventoryInsufficient:
		to, terminal = StatusCancelled, events.TypeOrderCancelled
		reason = env.Message
		if reason == "" {
			reason = "insufficient inventory"
		}
	default:
		// Unknown event types are ignored, not errors; future producers may
		// add types this consumer does not know about.
		log.Debug().Str("eventType", string(env.EventType)).Msg("Ignoring event type")
		return nil
	}

	orderID := correlation.Key(env)
	if orderID == "" {
		log.Warn().Str("eventId", env.EventID).Msg("Event without correlation id, discarding")
		s.metrics.Consumed(string(env.EventType), metrics.OutcomeDiscarded)
		return nil
	}

	if s.tracker.Settled(orderID) {
		log.Debug().Str("orderId", orderID).Str("eventId", env.EventID).Msg("Saga already settled, discarding stale event")
		s.metrics.Consumed(string(env.EventType), metrics.OutcomeDiscarded)
		return nil
	}
	if s.cache.Seen(ctx, Group, env.EventID) {
		log.Debug().Str("eventId", env.EventID).Msg("Duplicate event detected by cache, skipping")
		s.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
		return nil
	}
	rec, err := s.ledger.Seen(ctx, Group, env.EventID)
	if err != nil {
		return err
	}
	if rec != nil {
		log.Info().Str("eventId", env.EventID).Str("orderId", orderID).Msg("Event already processed, skipping")
		s.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
		return nil
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.TransitionFromPending(ctx, orderID, to); err != nil {
			return err
		}
		if err := s.ledger.Mark(ctx, Group, env.EventID, nil); err != nil {
			return err
		}
		order, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return err
		}
		out := events.New(terminal, order.Snapshot(), Group)
		out.Message = reason
		return s.queue.Enqueue(ctx, out)
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		// The order may have been deleted administratively, or the outcome
		// raced ahead of the order becoming durable; redelivery handles the
		// latter, so acknowledging here is safe only for the former. The
		// record store is the producer of the check request, so by the time
		// an outcome exists the order row exists too.
		log.Warn().Str("orderId", orderID).Str("eventId", env.EventID).Msg("Order not found for inventory outcome, discarding")
		s.metrics.Consumed(string(env.EventType), metrics.OutcomeDiscarded)
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, idempotency.ErrDuplicateMark):
		log.Info().Str("orderId", orderID).Str("eventId", env.EventID).Msg("Order already transitioned, treating as no-op")
		s.tracker.MarkSettled(orderID)
		s.metrics.Consumed(string(env.EventType), metrics.OutcomeDuplicate)
		return nil
	default:
		s.metrics.Consumed(string(env.EventType), metrics.OutcomeFailed)
		return fmt.Errorf("failed to apply inventory outcome for order %s: %w", orderID, err)
	}

	s.tracker.MarkSettled(orderID)
	s.cache.Remember(ctx, Group, env.EventID)
	s.metrics.Consumed(string(env.EventType), metrics.OutcomeApplied)
	s.metrics.Transitioned(string(to))
	log.Info().Str("orderId", orderID).Str("status", string(to)).Str("eventId", env.EventID).Msg("Order transitioned by inventory outcome")
	return nil
}

// GetOrder returns a single order by id.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// ListOrders returns all orders, newest first.
func (s *Service) ListOrders(ctx context.Context) ([]*Order, error) {
	return s.repo.List(ctx)
}

// ListOrdersByCustomer returns a customer's orders, newest first.
func (s *Service) ListOrdersByCustomer(ctx context.Context, customerID string) ([]*Order, error) {
	return s.repo.ListByCustomer(ctx, customerID)
}

// SubscribedTypes lists the event types the order service consumes.
func SubscribedTypes() []events.Type {
	return []events.Type{events.TypeInventoryReserved, events.TypeInventoryInsufficient}
}
