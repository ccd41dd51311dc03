package rabbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fasttechfoods/order-service/internal/domain"
	"github.com/fasttechfoods/order-service/internal/repository"
	"github.com/fasttechfoods/order-service/internal/service"
	"github.com/fasttechfoods/order-service/pkg/mylogger"
	"github.com/fasttechfoods/order-service/pkg/rabbitmq"
	"github.com/fasttechfoods/order-service/pkg/txmanager"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusHandler consumes status update messages for one target status and
// applies them through the direct service path, which appends no outbox
// event. Unrecoverable inputs are reported as poison so the consumer drops
// them instead of requeueing.
type StatusHandler struct {
	orders service.OrderService
	status domain.OrderStatus
	logger *zap.Logger
}

func NewStatusHandler(orders service.OrderService, status domain.OrderStatus, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		orders: orders,
		status: status,
		logger: logger,
	}
}

func (h *StatusHandler) Handle(ctx context.Context, body []byte) error {
	var message domain.StatusUpdateMessage
	if err := json.Unmarshal(body, &message); err != nil {
		mylogger.Error(ctx, h.logger, "Failed to decode status update message",
			zap.String("status", string(h.status)),
			zap.Error(err),
		)

		return fmt.Errorf("%w: %v", rabbitmq.ErrPoisonMessage, err)
	}

	orderID, err := uuid.Parse(message.OrderID)
	if err != nil {
		mylogger.Error(ctx, h.logger, "Status update message carries invalid order id",
			zap.String("order_id", message.OrderID),
			zap.Error(err),
		)

		return fmt.Errorf("%w: invalid order id %q", rabbitmq.ErrPoisonMessage, message.OrderID)
	}

	updatedBy := message.UpdatedBy
	if updatedBy == "" {
		updatedBy = "event"
	}

	var cancelReason *string
	if h.status == domain.OrderStatusCancelled && message.CancelReason != "" {
		cancelReason = &message.CancelReason
	}

	if err := h.orders.UpdateOrderStatusDirect(ctx, orderID, h.status, updatedBy, cancelReason); err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) || errors.Is(err, txmanager.ErrRetriesExhausted) {
			mylogger.Error(ctx, h.logger, "Dropping unprocessable status update",
				zap.String("order_id", message.OrderID),
				zap.String("status", string(h.status)),
				zap.Error(err),
			)

			return fmt.Errorf("%w: %v", rabbitmq.ErrPoisonMessage, err)
		}

		return err
	}

	return nil
}

// Handlers binds every per-status queue to its handler. The pending status
// has no queue: orders are born pending, never moved into it.
func Handlers(orders service.OrderService, logger *zap.Logger) map[string]rabbitmq.HandlerFunc {
	statuses := []domain.OrderStatus{
		domain.OrderStatusAccepted,
		domain.OrderStatusPreparing,
		domain.OrderStatusReady,
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
	}

	handlers := make(map[string]rabbitmq.HandlerFunc, len(statuses))
	for _, status := range statuses {
		handler := NewStatusHandler(orders, status, logger)
		handlers[domain.QueueForStatus(status)] = handler.Handle
	}

	return handlers
}
