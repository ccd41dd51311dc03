package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fasttechfoods/order-service/internal/domain"
	"github.com/fasttechfoods/order-service/internal/repository"
	"github.com/fasttechfoods/order-service/internal/service"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrderService struct {
	service.OrderService

	orders map[uuid.UUID]*domain.Order

	createErr error
	updateErr error

	lastStatus domain.OrderStatus
	lastActor  string
	lastReason string
}

func newFakeOrderService() *fakeOrderService {
	return &fakeOrderService{orders: make(map[uuid.UUID]*domain.Order)}
}

func (f *fakeOrderService) CreateOrder(_ context.Context, req service.CreateOrderRequest) (*domain.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	order := &domain.Order{
		ID:         uuid.New(),
		CustomerID: req.CustomerID,
		Status:     domain.OrderStatusPending,
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
	f.orders[order.ID] = order

	return order, nil
}

func (f *fakeOrderService) GetOrders(context.Context, string) ([]*domain.Order, error) {
	var orders []*domain.Order
	for _, order := range f.orders {
		orders = append(orders, order)
	}

	return orders, nil
}

func (f *fakeOrderService) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	order, ok := f.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}

	return order, nil
}

func (f *fakeOrderService) UpdateOrderStatus(_ context.Context, _ uuid.UUID, status domain.OrderStatus, updatedBy string) error {
	f.lastStatus = status
	f.lastActor = updatedBy

	return f.updateErr
}

func (f *fakeOrderService) CancelOrder(_ context.Context, _ uuid.UUID, reason, updatedBy string) error {
	f.lastReason = reason
	f.lastActor = updatedBy

	return f.updateErr
}

func newTestApp(orders service.OrderService) *fiber.App {
	app := fiber.New()
	NewOrderHandlers(orders, zap.NewNop()).Register(app)

	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	return resp
}

func TestCreateOrder_Returns201(t *testing.T) {
	orders := newFakeOrderService()
	app := newTestApp(orders)

	resp := doJSON(t, app, http.MethodPost, "/api/orders/", fiber.Map{
		"customerId": "customer-1",
		"items": []fiber.Map{
			{"productId": "burger-1", "name": "Burger", "unitPrice": 1200, "quantity": 2},
		},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created orderResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "customer-1", created.CustomerID)
	assert.Equal(t, "pending", created.Status)
	assert.Equal(t, int64(2400), created.Total)
}

func TestCreateOrder_ValidatesInput(t *testing.T) {
	app := newTestApp(newFakeOrderService())

	// Missing customerId and empty items.
	resp := doJSON(t, app, http.MethodPost, "/api/orders/", fiber.Map{
		"items": []fiber.Map{},
	})

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetOrder_NotFound(t *testing.T) {
	app := newTestApp(newFakeOrderService())

	resp := doJSON(t, app, http.MethodGet, "/api/orders/"+uuid.NewString(), nil)

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetOrder_BadID(t *testing.T) {
	app := newTestApp(newFakeOrderService())

	resp := doJSON(t, app, http.MethodGet, "/api/orders/not-a-uuid", nil)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStatus_Succeeds(t *testing.T) {
	orders := newFakeOrderService()
	app := newTestApp(orders)

	resp := doJSON(t, app, http.MethodPatch,
		fmt.Sprintf("/api/orders/%s/status", uuid.NewString()),
		fiber.Map{"status": "accepted", "updatedBy": "manager"},
	)

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, domain.OrderStatusAccepted, orders.lastStatus)
	assert.Equal(t, "manager", orders.lastActor)
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	app := newTestApp(newFakeOrderService())

	resp := doJSON(t, app, http.MethodPatch,
		fmt.Sprintf("/api/orders/%s/status", uuid.NewString()),
		fiber.Map{"status": "shipped"},
	)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStatus_InvalidTransitionIsConflict(t *testing.T) {
	orders := newFakeOrderService()
	orders.updateErr = fmt.Errorf("%w: pending -> ready", service.ErrInvalidTransition)
	app := newTestApp(orders)

	resp := doJSON(t, app, http.MethodPatch,
		fmt.Sprintf("/api/orders/%s/status", uuid.NewString()),
		fiber.Map{"status": "ready"},
	)

	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCancelOrder_RequiresReason(t *testing.T) {
	app := newTestApp(newFakeOrderService())

	resp := doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/orders/%s/cancel", uuid.NewString()),
		fiber.Map{},
	)

	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelOrder_Succeeds(t *testing.T) {
	orders := newFakeOrderService()
	app := newTestApp(orders)

	resp := doJSON(t, app, http.MethodPost,
		fmt.Sprintf("/api/orders/%s/cancel", uuid.NewString()),
		fiber.Map{"reason": "changed my mind"},
	)

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "changed my mind", orders.lastReason)
	assert.Equal(t, "api", orders.lastActor)
}
