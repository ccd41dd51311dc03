package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fasttechfoods/order-service/pkg/mylogger"
	"github.com/fasttechfoods/order-service/pkg/outbox/domain"
	"github.com/fasttechfoods/order-service/pkg/outbox/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PublishFunc decodes an event's payload and pushes it to the broker. An
// entry exists per event type; returning nil means the broker acknowledged
// receipt.
type PublishFunc func(ctx context.Context, event *domain.OutboxEvent) error

type Config struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
}

// Dispatcher periodically drains due outbox events to the broker. Event
// types resolve against a closed table built at startup; unknown types are
// logged and left pending because they need a code change, not a retry.
type Dispatcher struct {
	store  repository.Store
	logger *zap.Logger
	tracer trace.Tracer
	cfg    Config
	table  map[string]PublishFunc

	// runMu serializes ticks: a tick that fires while the previous one is
	// still draining is skipped rather than processing the same events twice.
	runMu sync.Mutex
}

func New(store repository.Store, logger *zap.Logger, cfg Config) *Dispatcher {
	cfg.applyDefaults()

	return &Dispatcher{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("outbox_dispatcher"),
		cfg:    cfg,
		table:  make(map[string]PublishFunc),
	}
}

// Register binds an event type tag to its publish call. Must be called
// before Start; the table is closed once the dispatcher is running.
func (d *Dispatcher) Register(eventType string, publish PublishFunc) {
	d.table[eventType] = publish
}

// Start runs the dispatch loop until ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	mylogger.Info(ctx, d.logger, "Starting outbox dispatcher",
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("batch_size", d.cfg.BatchSize),
	)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, d.logger, "Outbox dispatcher stopping")

			return
		case <-ticker.C:
			if err := d.RunOnce(ctx); err != nil {
				mylogger.Error(ctx, d.logger, "Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// ErrTickInProgress is returned when a tick overlaps a still-running one.
var ErrTickInProgress = fmt.Errorf("outbox dispatch already in progress")

// RunOnce drains one due batch. Safe to call concurrently; overlapping
// calls are rejected with ErrTickInProgress instead of double-processing.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	if !d.runMu.TryLock() {
		mylogger.Warn(ctx, d.logger, "Skipping outbox tick, previous run still in progress")

		return ErrTickInProgress
	}
	defer d.runMu.Unlock()

	ctx, span := d.tracer.Start(ctx, "OutboxDispatcher.RunOnce")
	defer span.End()

	events, err := d.store.FetchDue(ctx, d.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to fetch due events: %w", err)
	}

	if len(events) == 0 {
		return nil
	}

	span.SetAttributes(attribute.Int("outbox.events_count", len(events)))

	mylogger.Info(ctx, d.logger, "Processing outbox events", zap.Int("count", len(events)))

	for _, event := range events {
		d.processEvent(ctx, event)
	}

	return nil
}

// processEvent publishes one event and records its disposition. Failures
// are contained here so one bad event never aborts the rest of the batch.
func (d *Dispatcher) processEvent(ctx context.Context, event *domain.OutboxEvent) {
	ctx, span := d.tracer.Start(ctx, "OutboxDispatcher.processEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("outbox.event_id", event.ID.String()),
		attribute.String("outbox.event_type", event.EventType),
		attribute.Int("outbox.retry_count", event.RetryCount),
	)

	publish, ok := d.table[event.EventType]
	if !ok {
		// Needs a deployment with a registered handler, not a retry.
		span.SetAttributes(attribute.Bool("outbox.unknown_event", true))

		mylogger.Warn(ctx, d.logger, "Unknown outbox event type, leaving pending",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
		)

		return
	}

	if err := publish(ctx, event); err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, d.logger, "Failed to publish outbox event, scheduling retry",
			zap.String("event_id", event.ID.String()),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)

		d.handlePublishFailure(ctx, event, err)

		return
	}

	if err := d.store.MarkProcessed(ctx, event.ID); err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, d.logger, "Failed to mark outbox event processed",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)

		return
	}

	mylogger.Debug(ctx, d.logger, "Outbox event published",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
	)
}

func (d *Dispatcher) handlePublishFailure(ctx context.Context, event *domain.OutboxEvent, pubErr error) {
	retryCount, err := d.store.IncrementRetry(ctx, event.ID, pubErr.Error())
	if err != nil {
		mylogger.Error(ctx, d.logger, "Failed to increment outbox retry count",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)

		return
	}

	// The threshold check uses the freshly incremented count, never the
	// value captured when the batch was fetched.
	if retryCount < d.cfg.MaxRetries {
		return
	}

	reason := fmt.Sprintf("exceeded maximum retry attempts (%d): %s", d.cfg.MaxRetries, pubErr.Error())

	if err := d.store.MarkDeadLetter(ctx, event.ID, reason); err != nil {
		mylogger.Error(ctx, d.logger, "Failed to dead-letter outbox event",
			zap.String("event_id", event.ID.String()),
			zap.Error(err),
		)

		return
	}

	mylogger.Error(ctx, d.logger, "Outbox event moved to dead-letter after max retries",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.Int("retry_count", retryCount),
	)
}
