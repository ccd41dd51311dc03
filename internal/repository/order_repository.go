package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/fasttechfoods/order-service/internal/domain"
	"github.com/fasttechfoods/order-service/pkg/mylogger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderRepository owns order persistence. It is transition-agnostic: it
// records whatever status the caller decided on and appends the matching
// history entry. Mutations run inside the caller's transaction.
type OrderRepository interface {
	Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	List(ctx context.Context, customerID string) ([]*domain.Order, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status domain.OrderStatus, actor string, cancelReason *string) error
}

type orderRepo struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	tracer  trace.Tracer
	builder sq.StatementBuilderType
}

func NewOrderRepository(pool *pgxpool.Pool, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:    pool,
		logger:  logger,
		tracer:  otel.Tracer("order_repository"),
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *orderRepo) Create(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.Int("order.items_count", len(order.Items)),
	)

	queryOrder := `
		INSERT INTO orders (id, customer_id, status, delivery_method, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	if err := tx.QueryRow(
		ctx,
		queryOrder,
		order.ID,
		order.CustomerID,
		string(order.Status),
		order.DeliveryMethod,
		order.Total,
	).Scan(&order.CreatedAt, &order.UpdatedAt); err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to insert order", zap.Error(err))

		return fmt.Errorf("failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (order_id, product_id, name, unit_price, quantity)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		if err := tx.QueryRow(
			ctx,
			queryItem,
			item.OrderID,
			item.ProductID,
			item.Name,
			item.UnitPrice,
			item.Quantity,
		).Scan(&item.ID); err != nil {
			span.RecordError(err)

			mylogger.Error(ctx, r.logger, "Failed to insert order item", zap.Error(err))

			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	if err := r.appendHistory(ctx, tx, order.ID, order.Status, "system"); err != nil {
		span.RecordError(err)

		return err
	}

	order.StatusHistory = []domain.StatusChange{{
		Status:     order.Status,
		StatusDate: order.CreatedAt,
		UpdatedBy:  "system",
	}}

	return nil
}

func (r *orderRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetByID")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", id.String()))

	query := `
		SELECT id, customer_id, status, delivery_method, cancel_reason, total, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var order domain.Order
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&order.ID,
		&order.CustomerID,
		&order.Status,
		&order.DeliveryMethod,
		&order.CancelReason,
		&order.Total,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}

		span.RecordError(err)

		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	items, err := r.itemsOf(ctx, id)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}
	order.Items = items

	history, err := r.historyOf(ctx, id)
	if err != nil {
		span.RecordError(err)

		return nil, err
	}
	order.StatusHistory = history

	return &order, nil
}

// List returns orders newest first, optionally filtered by customer.
func (r *orderRepo) List(ctx context.Context, customerID string) ([]*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.List")
	defer span.End()

	builder := r.builder.
		Select("id", "customer_id", "status", "delivery_method", "cancel_reason", "total", "created_at", "updated_at").
		From("orders").
		OrderBy("created_at DESC")

	if customerID != "" {
		span.SetAttributes(attribute.String("order.customer_id", customerID))
		builder = builder.Where(sq.Eq{"customer_id": customerID})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build orders query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		var order domain.Order
		if err := rows.Scan(
			&order.ID,
			&order.CustomerID,
			&order.Status,
			&order.DeliveryMethod,
			&order.CancelReason,
			&order.Total,
			&order.CreatedAt,
			&order.UpdatedAt,
		); err != nil {
			span.RecordError(err)

			return nil, fmt.Errorf("error scanning order: %w", err)
		}

		orders = append(orders, &order)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("rows error: %w", err)
	}

	span.SetAttributes(attribute.Int("order.result_count", len(orders)))

	return orders, nil
}

// UpdateStatus sets the status (and cancel reason, when given) and appends
// the history entry, all within the caller's transaction. Reports
// ErrOrderNotFound when no row matched.
func (r *orderRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status domain.OrderStatus, actor string, cancelReason *string) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.status", string(status)),
	)

	query := `
		UPDATE orders
		SET status = $1,
		    cancel_reason = COALESCE($2, cancel_reason),
		    updated_at = NOW()
		WHERE id = $3
	`

	tag, err := tx.Exec(ctx, query, string(status), cancelReason, orderID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(ctx, r.logger, "Failed to update order status", zap.Error(err))

		return fmt.Errorf("failed to update order status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		mylogger.Warn(ctx, r.logger, "Order not found",
			zap.String("order_id", orderID.String()),
		)

		return ErrOrderNotFound
	}

	return r.appendHistory(ctx, tx, orderID, status, actor)
}

func (r *orderRepo) appendHistory(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, status domain.OrderStatus, actor string) error {
	query := `
		INSERT INTO order_status_history (order_id, status, status_date, updated_by)
		VALUES ($1, $2, NOW(), $3)
	`

	if _, err := tx.Exec(ctx, query, orderID, string(status), actor); err != nil {
		mylogger.Error(ctx, r.logger, "Failed to append status history", zap.Error(err))

		return fmt.Errorf("failed to append status history: %w", err)
	}

	return nil
}

func (r *orderRepo) itemsOf(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, name, unit_price, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.UnitPrice, &item.Quantity); err != nil {
			return nil, fmt.Errorf("error scanning order item: %w", err)
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *orderRepo) historyOf(ctx context.Context, orderID uuid.UUID) ([]domain.StatusChange, error) {
	query := `
		SELECT status, status_date, updated_by
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY status_date ASC, id ASC
	`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status history: %w", err)
	}
	defer rows.Close()

	var history []domain.StatusChange
	for rows.Next() {
		var change domain.StatusChange
		var statusDate time.Time
		if err := rows.Scan(&change.Status, &statusDate, &change.UpdatedBy); err != nil {
			return nil, fmt.Errorf("error scanning status history: %w", err)
		}

		change.StatusDate = statusDate
		history = append(history, change)
	}

	return history, rows.Err()
}
