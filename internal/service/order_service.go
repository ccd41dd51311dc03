package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fasttechfoods/order-service/internal/domain"
	"github.com/fasttechfoods/order-service/internal/repository"
	"github.com/fasttechfoods/order-service/pkg/mylogger"
	outboxdomain "github.com/fasttechfoods/order-service/pkg/outbox/domain"
	outboxrepo "github.com/fasttechfoods/order-service/pkg/outbox/repository"
	"github.com/fasttechfoods/order-service/pkg/txmanager"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrInvalidTransition is returned when a requested status change is not
// permitted by the order state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

type CreateOrderRequest struct {
	CustomerID     string            `json:"customerId" validate:"required"`
	DeliveryMethod string            `json:"deliveryMethod"`
	Items          []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
}

type CreateOrderItem struct {
	ProductID string `json:"productId" validate:"required"`
	Name      string `json:"name" validate:"required"`
	UnitPrice int64  `json:"unitPrice" validate:"gte=0"`
	Quantity  int32  `json:"quantity" validate:"gt=0"`
}

// OrderService is the order lifecycle API. Status mutations come in two
// flavors: UpdateOrderStatus and CancelOrder append an outbox event inside
// the same transaction, while UpdateOrderStatusDirect writes only the order
// row. Broker-driven handlers use the direct path so a consumed transition
// never republishes itself.
type OrderService interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error)
	GetOrders(ctx context.Context, customerID string) ([]*domain.Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, updatedBy string) error
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason, updatedBy string) error
	UpdateOrderStatusDirect(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, updatedBy string, cancelReason *string) error
}

type orderService struct {
	orders repository.OrderRepository
	outbox outboxrepo.Store
	tx     *txmanager.Manager
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderService(
	orders repository.OrderRepository,
	outbox outboxrepo.Store,
	tx *txmanager.Manager,
	logger *zap.Logger,
) OrderService {
	return &orderService{
		orders: orders,
		outbox: outbox,
		tx:     tx,
		logger: logger,
		tracer: otel.Tracer("order_service"),
	}
}

func (s *orderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	order := &domain.Order{
		ID:             uuid.New(),
		CustomerID:     req.CustomerID,
		Status:         domain.OrderStatusPending,
		DeliveryMethod: req.DeliveryMethod,
	}

	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	order.CalculateTotal()

	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.String("order.customer_id", order.CustomerID),
	)

	message := domain.OrderCreatedMessage{
		OrderID:        order.ID.String(),
		EventType:      domain.EventTypeOrderCreated,
		EventDate:      time.Now().UTC(),
		CustomerID:     order.CustomerID,
		Status:         string(order.Status),
		Total:          order.Total,
		DeliveryMethod: order.DeliveryMethod,
	}
	for _, item := range order.Items {
		message.Items = append(message.Items, domain.OrderItemMessage{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	event, err := outboxdomain.NewEvent(
		domain.EventTypeOrderCreated,
		message,
		order.ID.String(),
		s.correlationID(ctx),
	)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return err
		}

		return s.outbox.Append(ctx, tx, event)
	})
	if err != nil {
		span.RecordError(err)

		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("customer_id", order.CustomerID),
	)

	return order, nil
}

func (s *orderService) GetOrders(ctx context.Context, customerID string) ([]*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrders")
	defer span.End()

	return s.orders.List(ctx, customerID)
}

func (s *orderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrderByID")
	defer span.End()

	return s.orders.GetByID(ctx, id)
}

// UpdateOrderStatus validates the transition against the current state,
// then atomically updates the order and appends the matching outbox event.
func (s *orderService) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, updatedBy string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateOrderStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.status", string(status)),
	)

	return s.updateWithEvent(ctx, orderID, status, updatedBy, nil)
}

// CancelOrder is UpdateOrderStatus specialized for cancellation: it records
// the reason on the order row and in the published message.
func (s *orderService) CancelOrder(ctx context.Context, orderID uuid.UUID, reason, updatedBy string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.CancelOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order.id", orderID.String()))

	return s.updateWithEvent(ctx, orderID, domain.OrderStatusCancelled, updatedBy, &reason)
}

func (s *orderService) updateWithEvent(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, updatedBy string, cancelReason *string) error {
	current, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}

	if !current.Status.CanTransitionTo(status) {
		mylogger.Warn(ctx, s.logger, "Rejected status transition",
			zap.String("order_id", orderID.String()),
			zap.String("from", string(current.Status)),
			zap.String("to", string(status)),
		)

		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	eventType, err := domain.EventTypeForStatus(status)
	if err != nil {
		return err
	}

	message := domain.StatusUpdateMessage{
		OrderID:        orderID.String(),
		EventType:      eventType,
		EventDate:      time.Now().UTC(),
		CustomerID:     current.CustomerID,
		Status:         string(status),
		PreviousStatus: string(current.Status),
		UpdatedBy:      updatedBy,
	}
	if cancelReason != nil {
		message.CancelReason = *cancelReason
	}

	event, err := outboxdomain.NewEvent(eventType, message, orderID.String(), s.correlationID(ctx))
	if err != nil {
		return err
	}

	err = s.tx.WithinTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.orders.UpdateStatus(ctx, tx, orderID, status, updatedBy, cancelReason); err != nil {
			return err
		}

		return s.outbox.Append(ctx, tx, event)
	})
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	mylogger.Info(ctx, s.logger, "Order status updated",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(status)),
		zap.String("event_type", eventType),
	)

	return nil
}

// UpdateOrderStatusDirect applies a status already decided elsewhere. It
// skips transition validation and appends no outbox event, so consuming a
// status message cannot start a publish loop.
func (s *orderService) UpdateOrderStatusDirect(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, updatedBy string, cancelReason *string) error {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateOrderStatusDirect")
	defer span.End()

	span.SetAttributes(
		attribute.String("order.id", orderID.String()),
		attribute.String("order.status", string(status)),
	)

	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return s.orders.UpdateStatus(ctx, tx, orderID, status, updatedBy, cancelReason)
	})
	if err != nil {
		return err
	}

	mylogger.Info(ctx, s.logger, "Order status applied from event",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(status)),
	)

	return nil
}

// correlationID derives the correlation id from the active trace when one
// exists, otherwise mints one.
func (s *orderService) correlationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}

	return uuid.NewString()
}
