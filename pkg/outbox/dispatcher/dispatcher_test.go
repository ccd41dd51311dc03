package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fasttechfoods/order-service/pkg/outbox/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore keeps events in memory and mimics the disposition transitions
// of the real store.
type fakeStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.OutboxEvent

	fetchDelay time.Duration
	maxRetries int
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[uuid.UUID]*domain.OutboxEvent)}
}

func (s *fakeStore) add(event *domain.OutboxEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
}

func (s *fakeStore) Append(_ context.Context, _ pgx.Tx, event *domain.OutboxEvent) error {
	s.add(event)

	return nil
}

func (s *fakeStore) FetchDue(_ context.Context, batchSize int) ([]*domain.OutboxEvent, error) {
	if s.fetchDelay > 0 {
		time.Sleep(s.fetchDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.OutboxEvent
	for _, event := range s.events {
		if event.IsPending() && len(due) < batchSize {
			copied := *event
			due = append(due, &copied)
		}
	}

	return due, nil
}

func (s *fakeStore) FetchPending(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*domain.OutboxEvent
	for _, event := range s.events {
		if event.IsPending() && len(pending) < limit {
			copied := *event
			pending = append(pending, &copied)
		}
	}

	return pending, nil
}

func (s *fakeStore) FetchDeadLetters(context.Context) ([]*domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dead []*domain.OutboxEvent
	for _, event := range s.events {
		if event.IsDeadLetter {
			copied := *event
			dead = append(dead, &copied)
		}
	}

	return dead, nil
}

func (s *fakeStore) MarkProcessed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return errors.New("event not found")
	}
	event.IsProcessed = true

	return nil
}

func (s *fakeStore) IncrementRetry(_ context.Context, id uuid.UUID, errMsg string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return 0, errors.New("event not found")
	}
	event.RetryCount++
	event.ErrorMessage = &errMsg
	next := time.Now().Add(domain.Backoff(event.RetryCount))
	event.NextRetryAt = &next

	return event.RetryCount, nil
}

func (s *fakeStore) MarkDeadLetter(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return errors.New("event not found")
	}
	event.IsDeadLetter = true
	event.DeadLetterReason = &reason
	now := time.Now()
	event.DeadLetterAt = &now

	return nil
}

func (s *fakeStore) ReprocessDeadLetter(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok || !event.IsDeadLetter {
		return errors.New("event not found")
	}
	event.IsDeadLetter = false
	event.RetryCount = 0

	return nil
}

func (s *fakeStore) get(id uuid.UUID) domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.events[id]
}

func mustEvent(t *testing.T, eventType string) *domain.OutboxEvent {
	t.Helper()

	event, err := domain.NewEvent(eventType, map[string]string{"k": "v"}, "agg-1", "corr-1")
	require.NoError(t, err)

	return event
}

func TestRunOnce_PublishesAndMarksProcessed(t *testing.T) {
	store := newFakeStore()
	event := mustEvent(t, "OrderAccepted")
	store.add(event)

	d := New(store, zap.NewNop(), Config{})

	var published []*domain.OutboxEvent
	d.Register("OrderAccepted", func(_ context.Context, e *domain.OutboxEvent) error {
		published = append(published, e)

		return nil
	})

	require.NoError(t, d.RunOnce(context.Background()))

	require.Len(t, published, 1)
	assert.Equal(t, event.ID, published[0].ID)
	assert.True(t, store.get(event.ID).IsProcessed)
}

func TestRunOnce_UnknownEventTypeStaysPending(t *testing.T) {
	store := newFakeStore()
	event := mustEvent(t, "SomethingNew")
	store.add(event)

	d := New(store, zap.NewNop(), Config{})

	require.NoError(t, d.RunOnce(context.Background()))

	got := store.get(event.ID)
	assert.True(t, got.IsPending())
	assert.Zero(t, got.RetryCount)
}

func TestRunOnce_FailureSchedulesRetry(t *testing.T) {
	store := newFakeStore()
	event := mustEvent(t, "OrderAccepted")
	store.add(event)

	d := New(store, zap.NewNop(), Config{})
	d.Register("OrderAccepted", func(context.Context, *domain.OutboxEvent) error {
		return errors.New("broker unavailable")
	})

	require.NoError(t, d.RunOnce(context.Background()))

	got := store.get(event.ID)
	assert.True(t, got.IsPending())
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "broker unavailable", *got.ErrorMessage)
	require.NotNil(t, got.NextRetryAt)
	assert.True(t, got.NextRetryAt.After(time.Now()))
}

func TestRunOnce_DeadLettersAfterMaxRetries(t *testing.T) {
	store := newFakeStore()
	event := mustEvent(t, "OrderAccepted")
	event.RetryCount = 4
	store.add(event)

	d := New(store, zap.NewNop(), Config{MaxRetries: 5})
	d.Register("OrderAccepted", func(context.Context, *domain.OutboxEvent) error {
		return errors.New("still broken")
	})

	require.NoError(t, d.RunOnce(context.Background()))

	got := store.get(event.ID)
	assert.True(t, got.IsDeadLetter)
	assert.False(t, got.IsProcessed)
	assert.Equal(t, 5, got.RetryCount)
	require.NotNil(t, got.DeadLetterReason)
	assert.Contains(t, *got.DeadLetterReason, "exceeded maximum retry attempts (5)")
	require.NotNil(t, got.DeadLetterAt)
}

func TestRunOnce_OneFailureDoesNotAbortBatch(t *testing.T) {
	store := newFakeStore()
	bad := mustEvent(t, "OrderAccepted")
	good := mustEvent(t, "OrderReady")
	store.add(bad)
	store.add(good)

	d := New(store, zap.NewNop(), Config{})
	d.Register("OrderAccepted", func(context.Context, *domain.OutboxEvent) error {
		return errors.New("broker unavailable")
	})
	d.Register("OrderReady", func(context.Context, *domain.OutboxEvent) error {
		return nil
	})

	require.NoError(t, d.RunOnce(context.Background()))

	assert.Equal(t, 1, store.get(bad.ID).RetryCount)
	assert.True(t, store.get(good.ID).IsProcessed)
}

func TestRunOnce_OverlappingTickIsSkipped(t *testing.T) {
	store := newFakeStore()
	store.fetchDelay = 200 * time.Millisecond
	store.add(mustEvent(t, "OrderAccepted"))

	d := New(store, zap.NewNop(), Config{})
	d.Register("OrderAccepted", func(context.Context, *domain.OutboxEvent) error {
		return nil
	})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- d.RunOnce(context.Background())
	}()

	time.Sleep(50 * time.Millisecond)
	assert.ErrorIs(t, d.RunOnce(context.Background()), ErrTickInProgress)

	require.NoError(t, <-firstDone)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 5, cfg.MaxRetries)
}
