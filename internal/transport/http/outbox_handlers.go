package http

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fasttechfoods/order-service/pkg/mylogger"
	"github.com/fasttechfoods/order-service/pkg/outbox/domain"
	"github.com/fasttechfoods/order-service/pkg/outbox/repository"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutboxHandlers is the operational surface over the outbox ledger:
// inspecting pending and dead-lettered events and requeueing the latter.
type OutboxHandlers struct {
	store  repository.Store
	logger *zap.Logger
}

func NewOutboxHandlers(store repository.Store, logger *zap.Logger) *OutboxHandlers {
	return &OutboxHandlers{
		store:  store,
		logger: logger,
	}
}

func (h *OutboxHandlers) Register(app *fiber.App) {
	api := app.Group("/api/outbox")

	api.Get("/pending", h.listPending)
	api.Get("/dead-letter", h.listDeadLetters)
	api.Post("/reprocess/:id", h.reprocess)
}

func (h *OutboxHandlers) listPending(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	events, err := h.store.FetchPending(c.UserContext(), limit)
	if err != nil {
		mylogger.Error(c.UserContext(), h.logger, "Failed to list pending outbox events", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list pending events",
		})
	}

	return c.JSON(fiber.Map{"events": toEventResponses(events)})
}

func (h *OutboxHandlers) listDeadLetters(c *fiber.Ctx) error {
	events, err := h.store.FetchDeadLetters(c.UserContext())
	if err != nil {
		mylogger.Error(c.UserContext(), h.logger, "Failed to list dead-lettered outbox events", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list dead-lettered events",
		})
	}

	return c.JSON(fiber.Map{"events": toEventResponses(events)})
}

func (h *OutboxHandlers) reprocess(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid event id",
		})
	}

	if err := h.store.ReprocessDeadLetter(c.UserContext(), id); err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "dead-lettered event not found",
			})
		}

		mylogger.Error(c.UserContext(), h.logger, "Failed to reprocess outbox event", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to reprocess event",
		})
	}

	mylogger.Info(c.UserContext(), h.logger, "Dead-lettered event queued for reprocessing",
		zap.String("event_id", id.String()),
	)

	return c.SendStatus(fiber.StatusNoContent)
}

type eventResponse struct {
	ID               string          `json:"id"`
	EventType        string          `json:"eventType"`
	EventData        json.RawMessage `json:"eventData"`
	AggregateID      string          `json:"aggregateId"`
	CorrelationID    string          `json:"correlationId"`
	CreatedAt        time.Time       `json:"createdAt"`
	NextRetryAt      *time.Time      `json:"nextRetryAt,omitempty"`
	RetryCount       int             `json:"retryCount"`
	ErrorMessage     *string         `json:"errorMessage,omitempty"`
	DeadLetterReason *string         `json:"deadLetterReason,omitempty"`
	DeadLetterAt     *time.Time      `json:"deadLetterAt,omitempty"`
}

func toEventResponses(events []*domain.OutboxEvent) []eventResponse {
	responses := make([]eventResponse, 0, len(events))
	for _, event := range events {
		responses = append(responses, eventResponse{
			ID:               event.ID.String(),
			EventType:        event.EventType,
			EventData:        event.EventData,
			AggregateID:      event.AggregateID,
			CorrelationID:    event.CorrelationID,
			CreatedAt:        event.CreatedAt,
			NextRetryAt:      event.NextRetryAt,
			RetryCount:       event.RetryCount,
			ErrorMessage:     event.ErrorMessage,
			DeadLetterReason: event.DeadLetterReason,
			DeadLetterAt:     event.DeadLetterAt,
		})
	}

	return responses
}
