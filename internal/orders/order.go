// Package orders owns the order aggregate and its lifecycle: validation,
// the status machine driven by inventory outcome events, and the read side
// the REST layer exposes.
package orders

import (
	"fmt"
	"time"

	"github.com/drluca/orderflow/internal/events"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusFailed     Status = "FAILED"
)

// Item is one order line. Quantity and price are validated positive at
// creation time.
type Item struct {
	ProductID   string  `json:"productId"`
	ProductName string  `json:"productName"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
}

func (i Item) Subtotal() float64 {
	return float64(i.Quantity) * i.Price
}

// Order is the aggregate root. TotalAmount is derived from the items and
// never stored independently of them.
type Order struct {
	ID              string    `json:"orderId" db:"id"`
	CustomerID      string    `json:"customerId" db:"customer_id"`
	CustomerName    string    `json:"customerName" db:"customer_name"`
	Items           []Item    `json:"items"`
	TotalAmount     float64   `json:"totalAmount" db:"total_amount"`
	Status          Status    `json:"status" db:"status"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" db:"updated_at"`
	ShippingAddress string    `json:"shippingAddress,omitempty" db:"shipping_address"`
}

// SetItems replaces the line items and recomputes the total.
func (o *Order) SetItems(items []Item) {
	o.Items = items
	total := 0.0
	for _, it := range items {
		total += it.Subtotal()
	}
	o.TotalAmount = total
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for _, it := range items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: item product id is required", ErrValidation)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %s quantity must be positive", ErrValidation, it.ProductID)
		}
		if it.Price < 0 {
			return fmt.Errorf("%w: item %s price must not be negative", ErrValidation, it.ProductID)
		}
	}
	return nil
}

// Snapshot renders the order as the payload carried inside an event envelope.
func (o *Order) Snapshot() events.OrderSnapshot {
	items := make([]events.Item, len(o.Items))
	for i, it := range o.Items {
		items[i] = events.Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.Price,
		}
	}
	return events.OrderSnapshot{
		OrderID:         o.ID,
		CustomerID:      o.CustomerID,
		CustomerName:    o.CustomerName,
		Items:           items,
		TotalAmount:     o.TotalAmount,
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		ShippingAddress: o.ShippingAddress,
	}
}
