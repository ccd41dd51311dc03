package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fasttechfoods/order-service/pkg/mylogger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrPoisonMessage marks a message that can never be processed successfully,
// no matter how many times it is redelivered. Handlers wrap decode failures
// and unrecoverable business errors with it; the consumer rejects such
// messages without requeue.
var ErrPoisonMessage = errors.New("poison message")

// HandlerFunc processes one raw message body. The context carries the
// per-message timeout; implementations must honor cancellation.
type HandlerFunc func(ctx context.Context, body []byte) error

// QueueConsumer serializes processing of one queue: prefetch is pinned to 1
// so messages are handled one at a time in delivery order.
type QueueConsumer struct {
	conn    *Connection
	queue   string
	handler HandlerFunc
	timeout time.Duration
	logger  *zap.Logger
	tracer  trace.Tracer
}

func NewQueueConsumer(conn *Connection, queue string, handler HandlerFunc, timeout time.Duration, logger *zap.Logger) *QueueConsumer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &QueueConsumer{
		conn:    conn,
		queue:   queue,
		handler: handler,
		timeout: timeout,
		logger:  logger,
		tracer:  otel.Tracer("rabbitmq_consumer"),
	}
}

// Start consumes the queue until ctx is cancelled or the delivery channel
// closes. Blocking; run one goroutine per queue.
func (c *QueueConsumer) Start(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set qos on queue %s: %w", c.queue, err)
	}

	deliveries, err := ch.Consume(
		c.queue,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume queue %s: %w", c.queue, err)
	}

	mylogger.Info(ctx, c.logger, "Consumer started", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, c.logger, "Consumer stopping", zap.String("queue", c.queue))

			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for queue %s", c.queue)
			}

			c.handleDelivery(ctx, d)
		}
	}
}

func (c *QueueConsumer) handleDelivery(parent context.Context, d amqp.Delivery) {
	ctx := c.extractTracing(parent, d.Headers)

	ctx, span := c.tracer.Start(ctx, "RabbitMQ.HandleDelivery",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("rabbitmq.queue", c.queue),
		attribute.Int("rabbitmq.body_size", len(d.Body)),
	)

	handlerCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.handler(handlerCtx, d.Body)

	switch {
	case err == nil:
		span.SetAttributes(attribute.String("rabbitmq.status", "acknowledged"))

		if err := d.Ack(false); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to ack message",
				zap.String("queue", c.queue),
				zap.Error(err),
			)
		}

	case errors.Is(err, context.DeadlineExceeded):
		// Timeouts are surfaced for operator attention instead of being
		// retried blindly; requeueing would just time out again.
		span.SetAttributes(attribute.String("rabbitmq.status", "timeout"))
		span.RecordError(err)

		mylogger.Error(ctx, c.logger, "Handler timed out, rejecting without requeue",
			zap.String("queue", c.queue),
			zap.Duration("timeout", c.timeout),
		)

		c.nack(ctx, d, false)

	case errors.Is(err, ErrPoisonMessage):
		span.SetAttributes(attribute.String("rabbitmq.status", "poison"))
		span.RecordError(err)

		mylogger.Error(ctx, c.logger, "Poison message, rejecting without requeue",
			zap.String("queue", c.queue),
			zap.Error(err),
		)

		c.nack(ctx, d, false)

	default:
		span.SetAttributes(attribute.String("rabbitmq.status", "requeued"))
		span.RecordError(err)

		mylogger.Error(ctx, c.logger, "Handler failed, requeueing message",
			zap.String("queue", c.queue),
			zap.Error(err),
		)

		c.nack(ctx, d, true)
	}
}

func (c *QueueConsumer) nack(ctx context.Context, d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		mylogger.Error(ctx, c.logger, "Failed to nack message",
			zap.String("queue", c.queue),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
	}
}

func (c *QueueConsumer) extractTracing(ctx context.Context, headers amqp.Table) context.Context {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
