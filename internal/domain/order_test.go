package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusAccepted, true},
		{OrderStatusAccepted, OrderStatusPreparing, true},
		{OrderStatusPreparing, OrderStatusReady, true},
		{OrderStatusReady, OrderStatusCompleted, true},

		{OrderStatusPending, OrderStatusPreparing, false},
		{OrderStatusPending, OrderStatusReady, false},
		{OrderStatusPending, OrderStatusCompleted, false},
		{OrderStatusAccepted, OrderStatusPending, false},
		{OrderStatusReady, OrderStatusPreparing, false},
		{OrderStatusCompleted, OrderStatusReady, false},

		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusAccepted, OrderStatusCancelled, true},
		{OrderStatusPreparing, OrderStatusCancelled, true},
		{OrderStatusReady, OrderStatusCancelled, true},
		{OrderStatusCompleted, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusCancelled, false},

		{OrderStatusCancelled, OrderStatusAccepted, false},
		{OrderStatusCompleted, OrderStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_to_"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("preparing")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPreparing, status)

	_, err = ParseOrderStatus("shipped")
	require.Error(t, err)

	_, err = ParseOrderStatus("")
	require.Error(t, err)
}

func TestEventTypeForStatus(t *testing.T) {
	eventType, err := EventTypeForStatus(OrderStatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, EventTypeOrderAccepted, eventType)

	eventType, err = EventTypeForStatus(OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, EventTypeOrderCancelled, eventType)

	// Orders are created pending; no transition event targets it.
	_, err = EventTypeForStatus(OrderStatusPending)
	require.Error(t, err)
}

func TestQueueForStatus(t *testing.T) {
	assert.Equal(t, "order.accepted.queue", QueueForStatus(OrderStatusAccepted))
	assert.Equal(t, "order.cancelled.queue", QueueForStatus(OrderStatusCancelled))
}

func TestCalculateTotal(t *testing.T) {
	order := &Order{
		Items: []OrderItem{
			{UnitPrice: 1050, Quantity: 2},
			{UnitPrice: 300, Quantity: 3},
		},
	}

	order.CalculateTotal()

	assert.Equal(t, int64(3000), order.Total)
}

func TestCalculateTotal_Empty(t *testing.T) {
	order := &Order{Total: 999}
	order.CalculateTotal()

	assert.Zero(t, order.Total)
}
