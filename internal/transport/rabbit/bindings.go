package rabbit

import (
	"context"

	"github.com/fasttechfoods/order-service/internal/domain"
	"github.com/fasttechfoods/order-service/pkg/outbox/dispatcher"
	outboxdomain "github.com/fasttechfoods/order-service/pkg/outbox/domain"
	"github.com/fasttechfoods/order-service/pkg/rabbitmq"
)

// RegisterPublishers wires every known event type into the dispatcher's
// routing table. Event payloads are stored already serialized, so the bound
// publish function only has to route them to the right queue.
func RegisterPublishers(d *dispatcher.Dispatcher, pub rabbitmq.Publisher) {
	routes := map[string]string{
		domain.EventTypeOrderCreated:   domain.QueueOrderCreated,
		domain.EventTypeOrderAccepted:  domain.QueueForStatus(domain.OrderStatusAccepted),
		domain.EventTypeOrderPreparing: domain.QueueForStatus(domain.OrderStatusPreparing),
		domain.EventTypeOrderReady:     domain.QueueForStatus(domain.OrderStatusReady),
		domain.EventTypeOrderCompleted: domain.QueueForStatus(domain.OrderStatusCompleted),
		domain.EventTypeOrderCancelled: domain.QueueForStatus(domain.OrderStatusCancelled),
	}

	for eventType, queue := range routes {
		queue := queue
		d.Register(eventType, func(ctx context.Context, event *outboxdomain.OutboxEvent) error {
			return pub.PublishToQueue(ctx, queue, event.EventData)
		})
	}
}
