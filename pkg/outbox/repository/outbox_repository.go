package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fasttechfoods/order-service/pkg/outbox/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrEventNotFound is returned when a disposition update matches no event.
var ErrEventNotFound = errors.New("outbox event not found")

// Store is the persistence contract the dispatcher and the admin surface
// operate against. Events are never deleted; they remain as audit trail.
type Store interface {
	Append(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
	FetchDue(ctx context.Context, batchSize int) ([]*domain.OutboxEvent, error)
	FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	FetchDeadLetters(ctx context.Context) ([]*domain.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	IncrementRetry(ctx context.Context, id uuid.UUID, errMsg string) (int, error)
	MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error
	ReprocessDeadLetter(ctx context.Context, id uuid.UUID) error
}

type outboxStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOutboxStore(pool *pgxpool.Pool, logger *zap.Logger) Store {
	return &outboxStore{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("outbox_store"),
	}
}

// Append inserts a new pending event as part of the caller's transaction.
// It never commits on its own: atomicity with the accompanying mutation is
// the whole point.
func (s *outboxStore) Append(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.Append")
	defer span.End()

	span.SetAttributes(
		attribute.String("outbox.event_type", event.EventType),
		attribute.String("outbox.aggregate_id", event.AggregateID),
	)

	query := `
		INSERT INTO outbox_events (id, event_type, event_data, aggregate_id, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := tx.Exec(
		ctx,
		query,
		event.ID,
		event.EventType,
		event.EventData,
		event.AggregateID,
		event.CorrelationID,
		event.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to append outbox event: %w", err)
	}

	return nil
}

// FetchDue returns pending events whose retry schedule has come due, oldest
// first, capped at batchSize.
func (s *outboxStore) FetchDue(ctx context.Context, batchSize int) ([]*domain.OutboxEvent, error) {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.FetchDue")
	defer span.End()

	span.SetAttributes(attribute.Int("outbox.batch_size", batchSize))

	query := `
		SELECT id, event_type, event_data, aggregate_id, correlation_id, created_at,
		       processed_at, next_retry_at, is_processed, is_dead_letter, retry_count,
		       error_message, dead_letter_reason, dead_letter_at
		FROM outbox_events
		WHERE NOT is_processed
		  AND NOT is_dead_letter
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, batchSize)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query due outbox events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}

	span.SetAttributes(attribute.Int("outbox.result_count", len(events)))

	return events, nil
}

// FetchPending returns every event still awaiting publication, oldest first.
// Unlike FetchDue it ignores the retry schedule: an event deferred by its
// backoff window is still pending and must stay visible to operators.
func (s *outboxStore) FetchPending(ctx context.Context, limit int) ([]*domain.OutboxEvent, error) {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.FetchPending")
	defer span.End()

	span.SetAttributes(attribute.Int("outbox.limit", limit))

	query := `
		SELECT id, event_type, event_data, aggregate_id, correlation_id, created_at,
		       processed_at, next_retry_at, is_processed, is_dead_letter, retry_count,
		       error_message, dead_letter_reason, dead_letter_at
		FROM outbox_events
		WHERE NOT is_processed
		  AND NOT is_dead_letter
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query pending outbox events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}

	span.SetAttributes(attribute.Int("outbox.result_count", len(events)))

	return events, nil
}

// FetchDeadLetters returns quarantined events, most recently dead-lettered first.
func (s *outboxStore) FetchDeadLetters(ctx context.Context) ([]*domain.OutboxEvent, error) {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.FetchDeadLetters")
	defer span.End()

	query := `
		SELECT id, event_type, event_data, aggregate_id, correlation_id, created_at,
		       processed_at, next_retry_at, is_processed, is_dead_letter, retry_count,
		       error_message, dead_letter_reason, dead_letter_at
		FROM outbox_events
		WHERE is_dead_letter
		ORDER BY dead_letter_at DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query dead-letter events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}

	return events, nil
}

// MarkProcessed records a successful publish. Idempotent: a second call
// leaves processed_at at the first call's value.
func (s *outboxStore) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.MarkProcessed")
	defer span.End()

	span.SetAttributes(attribute.String("outbox.event_id", id.String()))

	query := `
		UPDATE outbox_events
		SET is_processed = TRUE,
		    processed_at = COALESCE(processed_at, NOW()),
		    error_message = NULL
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to mark outbox event processed: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

// IncrementRetry bumps retry_count and schedules the next attempt using
// exponential backoff. Both are computed server-side against the stored
// count so concurrent dispatcher instances never lose an update. The fresh
// count is returned for the dead-letter threshold check.
func (s *outboxStore) IncrementRetry(ctx context.Context, id uuid.UUID, errMsg string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.IncrementRetry")
	defer span.End()

	span.SetAttributes(attribute.String("outbox.event_id", id.String()))

	query := `
		UPDATE outbox_events
		SET retry_count = retry_count + 1,
		    next_retry_at = NOW() + make_interval(mins => 1 << LEAST(retry_count, 4)),
		    error_message = $2
		WHERE id = $1
		RETURNING retry_count
	`

	var retryCount int
	if err := s.pool.QueryRow(ctx, query, id, errMsg).Scan(&retryCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrEventNotFound
		}

		span.RecordError(err)

		return 0, fmt.Errorf("failed to increment outbox retry count: %w", err)
	}

	span.SetAttributes(attribute.Int("outbox.retry_count", retryCount))

	return retryCount, nil
}

// MarkDeadLetter quarantines an event that exhausted its retry budget.
// Dead-lettered events are excluded from FetchDue until reprocessed.
func (s *outboxStore) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.MarkDeadLetter")
	defer span.End()

	span.SetAttributes(
		attribute.String("outbox.event_id", id.String()),
		attribute.String("outbox.dead_letter_reason", reason),
	)

	query := `
		UPDATE outbox_events
		SET is_dead_letter = TRUE,
		    dead_letter_reason = $2,
		    dead_letter_at = NOW()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, reason)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to dead-letter outbox event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

// ReprocessDeadLetter clears the quarantine, resets the retry budget and
// makes the event immediately due again. Administrative use only.
func (s *outboxStore) ReprocessDeadLetter(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "OutboxStore.ReprocessDeadLetter")
	defer span.End()

	span.SetAttributes(attribute.String("outbox.event_id", id.String()))

	query := `
		UPDATE outbox_events
		SET is_dead_letter = FALSE,
		    is_processed = FALSE,
		    retry_count = 0,
		    next_retry_at = NOW(),
		    error_message = NULL,
		    dead_letter_reason = NULL,
		    dead_letter_at = NULL
		WHERE id = $1 AND is_dead_letter
	`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		span.RecordError(err)

		return fmt.Errorf("failed to reprocess dead-letter event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrEventNotFound
	}

	return nil
}

func scanEvents(rows pgx.Rows) ([]*domain.OutboxEvent, error) {
	var events []*domain.OutboxEvent

	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(
			&e.ID,
			&e.EventType,
			&e.EventData,
			&e.AggregateID,
			&e.CorrelationID,
			&e.CreatedAt,
			&e.ProcessedAt,
			&e.NextRetryAt,
			&e.IsProcessed,
			&e.IsDeadLetter,
			&e.RetryCount,
			&e.ErrorMessage,
			&e.DeadLetterReason,
			&e.DeadLetterAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning outbox event: %w", err)
		}

		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}
