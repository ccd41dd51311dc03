package http

import (
	"errors"

	"github.com/fasttechfoods/order-service/internal/domain"
	"github.com/fasttechfoods/order-service/internal/repository"
	"github.com/fasttechfoods/order-service/internal/service"
	"github.com/fasttechfoods/order-service/pkg/mylogger"
	"github.com/fasttechfoods/order-service/pkg/utils"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type OrderHandlers struct {
	orders   service.OrderService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewOrderHandlers(orders service.OrderService, logger *zap.Logger) *OrderHandlers {
	return &OrderHandlers{
		orders:   orders,
		validate: validator.New(),
		logger:   logger,
	}
}

func (h *OrderHandlers) Register(app *fiber.App) {
	api := app.Group("/api/orders")

	api.Post("/", h.createOrder)
	api.Get("/", h.listOrders)
	api.Get("/:id", h.getOrder)
	api.Patch("/:id/status", h.updateStatus)
	api.Post("/:id/cancel", h.cancelOrder)
}

func (h *OrderHandlers) createOrder(c *fiber.Ctx) error {
	var req service.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"errors": utils.FormatValidationError(err),
		})
	}

	order, err := h.orders.CreateOrder(c.UserContext(), req)
	if err != nil {
		mylogger.Error(c.UserContext(), h.logger, "Failed to create order", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create order",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(toOrderResponse(order))
}

func (h *OrderHandlers) listOrders(c *fiber.Ctx) error {
	customerID := c.Query("customerId")

	orders, err := h.orders.GetOrders(c.UserContext(), customerID)
	if err != nil {
		mylogger.Error(c.UserContext(), h.logger, "Failed to list orders", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list orders",
		})
	}

	responses := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		responses = append(responses, toOrderResponse(order))
	}

	return c.JSON(fiber.Map{"orders": responses})
}

func (h *OrderHandlers) getOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid order id",
		})
	}

	order, err := h.orders.GetOrderByID(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "order not found",
			})
		}

		mylogger.Error(c.UserContext(), h.logger, "Failed to get order", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get order",
		})
	}

	return c.JSON(toOrderResponse(order))
}

type updateStatusRequest struct {
	Status    string `json:"status" validate:"required"`
	UpdatedBy string `json:"updatedBy"`
}

func (h *OrderHandlers) updateStatus(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid order id",
		})
	}

	var req updateStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"errors": utils.FormatValidationError(err),
		})
	}

	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	updatedBy := req.UpdatedBy
	if updatedBy == "" {
		updatedBy = "api"
	}

	if err := h.orders.UpdateOrderStatus(c.UserContext(), id, status, updatedBy); err != nil {
		return h.statusUpdateError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

type cancelOrderRequest struct {
	Reason    string `json:"reason" validate:"required"`
	UpdatedBy string `json:"updatedBy"`
}

func (h *OrderHandlers) cancelOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid order id",
		})
	}

	var req cancelOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := h.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"errors": utils.FormatValidationError(err),
		})
	}

	updatedBy := req.UpdatedBy
	if updatedBy == "" {
		updatedBy = "api"
	}

	if err := h.orders.CancelOrder(c.UserContext(), id, req.Reason, updatedBy); err != nil {
		return h.statusUpdateError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *OrderHandlers) statusUpdateError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "order not found",
		})
	case errors.Is(err, service.ErrInvalidTransition):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	default:
		mylogger.Error(c.UserContext(), h.logger, "Failed to update order status", zap.Error(err))

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update order status",
		})
	}
}
