package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drluca/orderflow/internal/database"
	"github.com/drluca/orderflow/internal/eventbus"
	"github.com/drluca/orderflow/internal/events"
	"github.com/drluca/orderflow/internal/idempotency"
)

func newTestHandler(available map[string]int) (*Handler, *MemoryStockStore, *eventbus.MemoryBus) {
	store := NewMemoryStockStore(available)
	bus := eventbus.NewMemoryBus()
	h := NewHandler(store, idempotency.NewMemoryLedger(), nil, bus, database.NoTx{}, nil)
	return h, store, bus
}

func checkRequest(orderID string, items ...events.Item) events.Envelope {
	return events.New(events.TypeInventoryCheckRequested, events.OrderSnapshot{
		OrderID: orderID,
		Items:   items,
	}, "order-service")
}

func TestSuccessfulReservationPublishesReserved(t *testing.T) {
	ctx := context.Background()
	h, store, bus := newTestHandler(map[string]int{"PROD001": 5})

	env := checkRequest("order-1", events.Item{ProductID: "PROD001", Quantity: 2})
	require.NoError(t, h.HandleEvent(ctx, env))

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeInventoryReserved, published[0].EventType)
	assert.Equal(t, "order-1", published[0].CorrelationID)
	assert.Equal(t, 2, store.ReservedQuantity("PROD001"))
}

func TestShortagePublishesInsufficientWithReason(t *testing.T) {
	ctx := context.Background()
	h, store, bus := newTestHandler(map[string]int{"PROD001": 1})

	env := checkRequest("order-1", events.Item{ProductID: "PROD001", Quantity: 2})
	require.NoError(t, h.HandleEvent(ctx, env))

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeInventoryInsufficient, published[0].EventType)
	assert.Equal(t, "insufficient stock for PROD001", published[0].Message)
	assert.Equal(t, 0, store.ReservedQuantity("PROD001"))
}

func TestReservationIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	h, store, bus := newTestHandler(map[string]int{"A": 10, "B": 0})

	env := checkRequest("order-1",
		events.Item{ProductID: "A", Quantity: 2},
		events.Item{ProductID: "B", Quantity: 1},
	)
	require.NoError(t, h.HandleEvent(ctx, env))

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeInventoryInsufficient, published[0].EventType)
	assert.Equal(t, 0, store.ReservedQuantity("A"), "no partial reservation when B is short")
	assert.Equal(t, 0, store.ReservedQuantity("B"))
}

func TestDuplicateCheckRequestReplaysOutcomeWithoutReReserving(t *testing.T) {
	ctx := context.Background()
	h, store, bus := newTestHandler(map[string]int{"PROD001": 5})

	env := checkRequest("order-1", events.Item{ProductID: "PROD001", Quantity: 2})
	require.NoError(t, h.HandleEvent(ctx, env))
	require.NoError(t, h.HandleEvent(ctx, env), "same eventId delivered again")

	assert.Equal(t, 2, store.ReservedQuantity("PROD001"), "stock must not be reserved twice")

	published := bus.Published()
	require.Len(t, published, 2, "duplicate delivery replays the recorded outcome")
	assert.Equal(t, published[0].EventID, published[1].EventID, "replay re-emits the identical envelope")
	assert.Equal(t, events.TypeInventoryReserved, published[1].EventType)
}

func TestCheckRequestWithoutOrderDataIsDiscarded(t *testing.T) {
	ctx := context.Background()
	h, _, bus := newTestHandler(map[string]int{"PROD001": 5})

	env := events.New(events.TypeInventoryCheckRequested, events.OrderSnapshot{}, "order-service")
	require.NoError(t, h.HandleEvent(ctx, env))
	assert.Empty(t, bus.Published(), "unknown order is logged and discarded, nothing published")
}

func TestCancellationReleasesReservation(t *testing.T) {
	ctx := context.Background()
	h, store, bus := newTestHandler(map[string]int{"PROD001": 5})

	check := checkRequest("order-1", events.Item{ProductID: "PROD001", Quantity: 2})
	require.NoError(t, h.HandleEvent(ctx, check))
	require.Equal(t, 2, store.ReservedQuantity("PROD001"))

	cancelled := events.New(events.TypeOrderCancelled, check.Order, "order-service")
	require.NoError(t, h.HandleEvent(ctx, cancelled))

	assert.Equal(t, 0, store.ReservedQuantity("PROD001"))
	published := bus.Published()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeInventoryReleased, published[1].EventType)
	assert.Equal(t, "order-1", published[1].CorrelationID)
}

func TestCancellationWithoutReservationIsNoOp(t *testing.T) {
	ctx := context.Background()
	h, _, bus := newTestHandler(map[string]int{"PROD001": 5})

	cancelled := events.New(events.TypeOrderCancelled, events.OrderSnapshot{OrderID: "order-unknown"}, "order-service")
	require.NoError(t, h.HandleEvent(ctx, cancelled), "releasing nothing is a no-op, not an error")
	assert.Empty(t, bus.Published(), "no INVENTORY_RELEASED when nothing was held")
}

func TestDuplicateCancellationReleasesOnce(t *testing.T) {
	ctx := context.Background()
	h, store, bus := newTestHandler(map[string]int{"PROD001": 5})

	check := checkRequest("order-1", events.Item{ProductID: "PROD001", Quantity: 2})
	require.NoError(t, h.HandleEvent(ctx, check))

	cancelled := events.New(events.TypeOrderCancelled, check.Order, "order-service")
	require.NoError(t, h.HandleEvent(ctx, cancelled))
	require.NoError(t, h.HandleEvent(ctx, cancelled))

	assert.Equal(t, 0, store.ReservedQuantity("PROD001"), "reserved counter must not go negative")
	released := bus.PublishedOfType(events.TypeInventoryReleased)
	require.Len(t, released, 2, "duplicate delivery replays the recorded release")
	assert.Equal(t, released[0].EventID, released[1].EventID, "replay re-emits the identical envelope")
}

// flakyBus fails a configurable number of publishes before delegating to the
// in-memory bus, standing in for a broker outage.
type flakyBus struct {
	*eventbus.MemoryBus
	failures int
}

func (b *flakyBus) Publish(ctx context.Context, env events.Envelope) error {
	if b.failures > 0 {
		b.failures--
		return eventbus.ErrTransport
	}
	return b.MemoryBus.Publish(ctx, env)
}

func TestCancellationRedeliveryReplaysReleaseAfterPublishFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStockStore(map[string]int{"PROD001": 5})
	bus := &flakyBus{MemoryBus: eventbus.NewMemoryBus()}
	h := NewHandler(store, idempotency.NewMemoryLedger(), nil, bus, database.NoTx{}, nil)

	check := checkRequest("order-1", events.Item{ProductID: "PROD001", Quantity: 2})
	require.NoError(t, h.HandleEvent(ctx, check))
	require.Equal(t, 2, store.ReservedQuantity("PROD001"))

	cancelled := events.New(events.TypeOrderCancelled, check.Order, "order-service")
	bus.failures = 1
	require.Error(t, h.HandleEvent(ctx, cancelled), "transport failure must surface so the broker redelivers")
	assert.Equal(t, 0, store.ReservedQuantity("PROD001"), "the release itself committed")
	assert.Empty(t, bus.PublishedOfType(events.TypeInventoryReleased))

	require.NoError(t, h.HandleEvent(ctx, cancelled))
	released := bus.PublishedOfType(events.TypeInventoryReleased)
	require.Len(t, released, 1, "redelivery replays the recorded release")
	assert.Equal(t, "order-1", released[0].CorrelationID)
}

// failingStockStore fails the first Reserve with the given error, standing in
// for a database outage mid-delivery.
type failingStockStore struct {
	*MemoryStockStore
	reserveErr error
}

func (s *failingStockStore) Reserve(ctx context.Context, orderID string, items []events.Item) error {
	if s.reserveErr != nil {
		err := s.reserveErr
		s.reserveErr = nil
		return err
	}
	return s.MemoryStockStore.Reserve(ctx, orderID, items)
}

func TestTransientReserveFailureIsRetriedNotClassified(t *testing.T) {
	ctx := context.Background()
	store := &failingStockStore{
		MemoryStockStore: NewMemoryStockStore(map[string]int{"PROD001": 5}),
		reserveErr:       errors.New("connection reset by peer"),
	}
	bus := eventbus.NewMemoryBus()
	h := NewHandler(store, idempotency.NewMemoryLedger(), nil, bus, database.NoTx{}, nil)

	env := checkRequest("order-1", events.Item{ProductID: "PROD001", Quantity: 2})
	require.Error(t, h.HandleEvent(ctx, env), "an infrastructure failure is not a business outcome")
	assert.Empty(t, bus.Published(), "no INVENTORY_INSUFFICIENT for a transient failure")

	require.NoError(t, h.HandleEvent(ctx, env), "redelivery succeeds once the store recovers")
	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeInventoryReserved, published[0].EventType)
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	ctx := context.Background()
	h, _, bus := newTestHandler(map[string]int{"PROD001": 5})

	env := events.New(events.Type("NOTIFICATION_SENT"), events.OrderSnapshot{OrderID: "order-1"}, "notification-service")
	require.NoError(t, h.HandleEvent(ctx, env))
	assert.Empty(t, bus.Published())
}
