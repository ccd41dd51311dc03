package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is one row of the append-only publish ledger. At any moment an
// event is in exactly one of three states: pending (neither flag set),
// processed, or dead-lettered.
type OutboxEvent struct {
	ID               uuid.UUID       `db:"id"`
	EventType        string          `db:"event_type"`
	EventData        json.RawMessage `db:"event_data"`
	AggregateID      string          `db:"aggregate_id"`
	CorrelationID    string          `db:"correlation_id"`
	CreatedAt        time.Time       `db:"created_at"`
	ProcessedAt      *time.Time      `db:"processed_at"`
	NextRetryAt      *time.Time      `db:"next_retry_at"`
	IsProcessed      bool            `db:"is_processed"`
	IsDeadLetter     bool            `db:"is_dead_letter"`
	RetryCount       int             `db:"retry_count"`
	ErrorMessage     *string         `db:"error_message"`
	DeadLetterReason *string         `db:"dead_letter_reason"`
	DeadLetterAt     *time.Time      `db:"dead_letter_at"`
}

// NewEvent builds a pending event with the payload serialized and closed over
// at creation time.
func NewEvent(eventType string, payload any, aggregateID, correlationID string) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return &OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		EventData:     data,
		AggregateID:   aggregateID,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// IsPending reports whether the event is still waiting for publication.
func (e *OutboxEvent) IsPending() bool {
	return !e.IsProcessed && !e.IsDeadLetter
}

// Backoff returns the delay before the next publish attempt after the given
// retry count: 1, 2, 4, 8 minutes, capped at 16.
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > 5 {
		retryCount = 5
	}

	return time.Duration(1<<(retryCount-1)) * time.Minute
}
