package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusReady     OrderStatus = "ready"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(raw)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown order status: %q", raw)
	}

	return status, nil
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending, OrderStatusAccepted, OrderStatusPreparing,
		OrderStatusReady, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo implements the order state machine:
// pending → accepted → preparing → ready → completed, with cancelled
// reachable from any state before completion.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == OrderStatusCancelled {
		return s != OrderStatusCompleted && s != OrderStatusCancelled
	}

	switch s {
	case OrderStatusPending:
		return next == OrderStatusAccepted
	case OrderStatusAccepted:
		return next == OrderStatusPreparing
	case OrderStatusPreparing:
		return next == OrderStatusReady
	case OrderStatusReady:
		return next == OrderStatusCompleted
	default:
		return false
	}
}

type Order struct {
	ID             uuid.UUID      `db:"id"`
	CustomerID     string         `db:"customer_id"`
	Status         OrderStatus    `db:"status"`
	DeliveryMethod string         `db:"delivery_method"`
	CancelReason   *string        `db:"cancel_reason"`
	Total          int64          `db:"total"`
	Items          []OrderItem    `db:"items"`
	StatusHistory  []StatusChange `db:"status_history"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type OrderItem struct {
	ID        int64     `db:"id"`
	OrderID   uuid.UUID `db:"order_id"`
	ProductID string    `db:"product_id"`
	Name      string    `db:"name"`
	UnitPrice int64     `db:"unit_price"`
	Quantity  int32     `db:"quantity"`
}

// StatusChange is one entry of the append-only status history.
type StatusChange struct {
	Status     OrderStatus `db:"status"`
	StatusDate time.Time   `db:"status_date"`
	UpdatedBy  string      `db:"updated_by"`
}

func (o *Order) CalculateTotal() {
	var total int64
	for _, item := range o.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	o.Total = total
}
