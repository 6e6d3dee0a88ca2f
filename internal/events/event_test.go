package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsIdentityAndCorrelation(t *testing.T) {
	order := OrderSnapshot{OrderID: "order-1", CustomerID: "cust-1"}

	env := New(TypeOrderCreated, order, "order-service")

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, TypeOrderCreated, env.EventType)
	assert.Equal(t, "order-1", env.CorrelationID)
	assert.Equal(t, "order-service", env.Source)
	assert.WithinDuration(t, time.Now().UTC(), env.Timestamp, time.Second)

	other := New(TypeOrderCreated, order, "order-service")
	assert.NotEqual(t, env.EventID, other.EventID, "each publish gets a fresh event id")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := New(TypeInventoryInsufficient, OrderSnapshot{
		OrderID:      "order-2",
		CustomerID:   "cust-2",
		CustomerName: "Ada",
		Items: []Item{
			{ProductID: "PROD001", ProductName: "Widget", Quantity: 2, Price: 9.99},
		},
		TotalAmount: 19.98,
		Status:      "PENDING",
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}, "inventory-service")
	env.Message = "insufficient stock for PROD001"

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, env.EventType, decoded.EventType)
	assert.Equal(t, env.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, env.Source, decoded.Source)
	assert.Equal(t, env.Message, decoded.Message)
	assert.True(t, env.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, env.Order.Items, decoded.Order.Items)
	assert.Equal(t, env.Order.TotalAmount, decoded.Order.TotalAmount)
	assert.Equal(t, env.Order.Status, decoded.Order.Status)

	reencoded, err := decoded.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(reencoded))
}

func TestRoutingKeys(t *testing.T) {
	assert.Equal(t, "order.created", TypeOrderCreated.RoutingKey())
	assert.Equal(t, "inventory.check_requested", TypeInventoryCheckRequested.RoutingKey())
	assert.Equal(t, "inventory.reserved", TypeInventoryReserved.RoutingKey())
	assert.Equal(t, "inventory.insufficient", TypeInventoryInsufficient.RoutingKey())
	assert.Equal(t, "order.confirmed", TypeOrderConfirmed.RoutingKey())
	assert.Equal(t, "order.cancelled", TypeOrderCancelled.RoutingKey())
	assert.Equal(t, "inventory.released", TypeInventoryReleased.RoutingKey())
}
