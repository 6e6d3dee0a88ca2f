// Package events defines the envelope exchanged between the order and
// inventory services. Envelopes are immutable once published; a correction is
// always a new envelope with a new event id.
package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type tags an envelope with the lifecycle step it represents.
type Type string

const (
	TypeOrderCreated            Type = "ORDER_CREATED"
	TypeInventoryCheckRequested Type = "INVENTORY_CHECK_REQUESTED"
	TypeInventoryReserved       Type = "INVENTORY_RESERVED"
	TypeInventoryInsufficient   Type = "INVENTORY_INSUFFICIENT"
	TypeOrderConfirmed          Type = "ORDER_CONFIRMED"
	TypeOrderCancelled          Type = "ORDER_CANCELLED"
	TypeInventoryReleased       Type = "INVENTORY_RELEASED"
)

// RoutingKey maps the event type to its broker routing key, e.g.
// INVENTORY_CHECK_REQUESTED -> "inventory.check_requested".
func (t Type) RoutingKey() string {
	parts := strings.SplitN(strings.ToLower(string(t)), "_", 2)
	return strings.Join(parts, ".")
}

// Item is one order line as carried on the wire.
type Item struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

// OrderSnapshot is the state of the order at publish time. Events carry the
// full snapshot so consumers never need to query the producer back.
type OrderSnapshot struct {
	OrderID         string    `json:"orderId"`
	CustomerID      string    `json:"customerId"`
	CustomerName    string    `json:"customerName"`
	Items           []Item    `json:"items"`
	TotalAmount     float64   `json:"totalAmount"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	ShippingAddress string    `json:"shippingAddress,omitempty"`
}

// Envelope is the wire message for every saga event. The correlation id equals
// the order id and links all events of one saga instance.
type Envelope struct {
	EventID       string        `json:"eventId"`
	EventType     Type          `json:"eventType"`
	CorrelationID string        `json:"correlationId"`
	Source        string        `json:"source"`
	Timestamp     time.Time     `json:"timestamp"`
	Order         OrderSnapshot `json:"order"`
	Message       string        `json:"message,omitempty"`
}

// New builds an envelope for the given order snapshot. The event id is fresh
// per call; it doubles as the idempotency key on the consumer side.
func New(t Type, order OrderSnapshot, source string) Envelope {
	return Envelope{
		EventID:       uuid.New().String(),
		EventType:     t,
		CorrelationID: order.OrderID,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		Order:         order,
	}
}

// Encode serializes the envelope to its JSON wire format.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope from its JSON wire format.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(data, &e)
	return e, err
}
