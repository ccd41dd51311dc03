package txmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fasttechfoods/order-service/pkg/mylogger"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned when a unit of work kept hitting transient
// storage conflicts on every attempt. It is distinct from the business error
// the unit of work itself may return.
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

const maxAttempts = 3

// retryDelays holds the escalating pause after each failed attempt.
var retryDelays = [maxAttempts]time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// TxBeginner is the slice of pgxpool.Pool the manager needs.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Manager executes a unit of work inside one atomic transaction and retries
// the whole unit from scratch on transient conflicts. The unit must be safe
// to re-execute: nothing from a failed attempt is ever committed.
type Manager struct {
	db     TxBeginner
	logger *zap.Logger
	tracer trace.Tracer
}

func New(db TxBeginner, logger *zap.Logger) *Manager {
	return &Manager{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("txmanager"),
	}
}

// WithinTransaction runs fn inside a repeatable-read transaction, committing
// on success. Transient conflicts abort the transaction and retry fn up to
// 3 attempts with 100/200/400 ms delays; any other error is propagated
// immediately. Exhausting retries returns ErrRetriesExhausted wrapping the
// last conflict.
func (m *Manager) WithinTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, span := m.tracer.Start(ctx, "Txmanager.WithinTransaction")
	defer span.End()

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := m.runAttempt(ctx, fn)
		if err == nil {
			span.SetAttributes(attribute.Int("tx.attempts", attempt))
			return nil
		}

		if !IsTransient(err) {
			span.RecordError(err)
			return err
		}

		lastErr = err

		mylogger.Warn(
			ctx,
			m.logger,
			"Transient storage conflict, retrying transaction",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err),
		)

		if attempt < maxAttempts {
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	span.RecordError(lastErr)

	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, maxAttempts, lastErr)
}

func (m *Manager) runAttempt(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(
				cleanupCtx,
				m.logger,
				"Failed to rollback transaction",
				zap.Error(err),
			)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// IsTransient reports whether err is a storage conflict worth retrying the
// whole unit of work for. Classification is structural, against a closed set
// of engine error codes, never by message matching.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	switch pgErr.Code {
	case pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
		pgerrcode.LockNotAvailable:
		return true
	default:
		return false
	}
}
