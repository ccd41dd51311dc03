package domain

import (
	"fmt"
	"time"
)

// Event type tags. The outbox dispatch table is keyed by these exact
// strings; an event whose tag is not registered stays pending.
const (
	EventTypeOrderCreated   = "OrderCreated"
	EventTypeOrderAccepted  = "OrderAccepted"
	EventTypeOrderPreparing = "OrderPreparing"
	EventTypeOrderReady     = "OrderReady"
	EventTypeOrderCompleted = "OrderCompleted"
	EventTypeOrderCancelled = "OrderCancelled"
)

var statusEventTypes = map[OrderStatus]string{
	OrderStatusAccepted:  EventTypeOrderAccepted,
	OrderStatusPreparing: EventTypeOrderPreparing,
	OrderStatusReady:     EventTypeOrderReady,
	OrderStatusCompleted: EventTypeOrderCompleted,
	OrderStatusCancelled: EventTypeOrderCancelled,
}

// EventTypeForStatus maps a target status to its outbox event type tag.
func EventTypeForStatus(status OrderStatus) (string, error) {
	eventType, ok := statusEventTypes[status]
	if !ok {
		return "", fmt.Errorf("no event type for status %q", status)
	}

	return eventType, nil
}

// QueueForStatus returns the broker queue carrying transitions into status,
// e.g. order.accepted.queue. Queues are durable, non-exclusive and
// non-auto-delete.
func QueueForStatus(status OrderStatus) string {
	return fmt.Sprintf("order.%s.queue", status)
}

// QueueOrderCreated carries the order snapshot emitted on creation.
const QueueOrderCreated = "order.created.queue"

// OrderCreatedMessage is the full order snapshot published when an order is
// created.
type OrderCreatedMessage struct {
	OrderID        string             `json:"orderId"`
	EventType      string             `json:"eventType"`
	EventDate      time.Time          `json:"eventDate"`
	CustomerID     string             `json:"customerId"`
	Status         string             `json:"status"`
	Items          []OrderItemMessage `json:"items"`
	Total          int64              `json:"total"`
	DeliveryMethod string             `json:"deliveryMethod"`
}

type OrderItemMessage struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int32  `json:"quantity"`
}

// StatusUpdateMessage describes one status transition. It is both the
// payload of status-change outbox events and the shape consumed from the
// per-status queues.
type StatusUpdateMessage struct {
	OrderID        string    `json:"orderId"`
	EventType      string    `json:"eventType"`
	EventDate      time.Time `json:"eventDate"`
	CustomerID     string    `json:"customerId,omitempty"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previousStatus,omitempty"`
	UpdatedBy      string    `json:"updatedBy"`
	CancelReason   string    `json:"cancelReason,omitempty"`
}
