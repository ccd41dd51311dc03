package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fasttechfoods/order-service/pkg/utils"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Publisher pushes JSON messages to named queues. A nil error from
// PublishToQueue means the broker accepted the message.
type Publisher interface {
	PublishToQueue(ctx context.Context, queue string, message any) error
	Close() error
}

type publisher struct {
	mu       sync.Mutex
	ch       *amqp.Channel
	logger   *zap.Logger
	tracer   trace.Tracer
	breaker  *gobreaker.CircuitBreaker
	declared map[string]bool
}

func NewPublisher(conn *Connection, logger *zap.Logger) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "rabbitmq-publisher",
		Timeout: 15 * time.Second,
	})

	return &publisher{
		ch:       ch,
		logger:   logger,
		tracer:   otel.Tracer("rabbitmq_publisher"),
		breaker:  breaker,
		declared: make(map[string]bool),
	}, nil
}

// PublishToQueue serializes message to JSON and publishes it to the default
// exchange with the queue name as routing key. Messages are persistent and
// carry trace headers so consumer spans correlate with the producer.
func (p *publisher) PublishToQueue(ctx context.Context, queue string, message any) error {
	ctx, span := p.tracer.Start(ctx, "RabbitMQ.PublishToQueue",
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	defer span.End()

	span.SetAttributes(attribute.String("rabbitmq.queue", queue))

	body, err := json.Marshal(message)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to marshal message: %w", err)
	}

	headers := amqp.Table{}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers[k] = v
	}

	if spanCtx := trace.SpanFromContext(ctx).SpanContext(); spanCtx.IsValid() {
		headers["trace-id"] = spanCtx.TraceID().String()
		headers["span-id"] = spanCtx.SpanID().String()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[queue] {
		if err := declareQueue(p.ch, queue); err != nil {
			span.RecordError(err)

			return err
		}

		p.declared[queue] = true
	}

	_, err = utils.ExecuteWithBreaker(p.breaker, func() (struct{}, error) {
		return struct{}{}, p.ch.PublishWithContext(
			ctx,
			"",    // default exchange
			queue, // routing key
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    uuid.NewString(),
				Timestamp:    time.Now().UTC(),
				Headers:      headers,
				Body:         body,
			},
		)
	})
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to publish to queue %s: %w", queue, err)
	}

	return nil
}

func (p *publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.Close()
}
