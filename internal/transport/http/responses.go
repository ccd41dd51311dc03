package http

import (
	"time"

	"github.com/fasttechfoods/order-service/internal/domain"
)

type orderResponse struct {
	ID             string                `json:"id"`
	CustomerID     string                `json:"customerId"`
	Status         string                `json:"status"`
	DeliveryMethod string                `json:"deliveryMethod,omitempty"`
	CancelReason   *string               `json:"cancelReason,omitempty"`
	Total          int64                 `json:"total"`
	Items          []orderItemResponse   `json:"items"`
	StatusHistory  []statusChangeDetails `json:"statusHistory,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

type orderItemResponse struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int32  `json:"quantity"`
}

type statusChangeDetails struct {
	Status     string    `json:"status"`
	StatusDate time.Time `json:"statusDate"`
	UpdatedBy  string    `json:"updatedBy"`
}

func toOrderResponse(order *domain.Order) orderResponse {
	resp := orderResponse{
		ID:             order.ID.String(),
		CustomerID:     order.CustomerID,
		Status:         string(order.Status),
		DeliveryMethod: order.DeliveryMethod,
		CancelReason:   order.CancelReason,
		Total:          order.Total,
		Items:          make([]orderItemResponse, 0, len(order.Items)),
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}

	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}

	for _, change := range order.StatusHistory {
		resp.StatusHistory = append(resp.StatusHistory, statusChangeDetails{
			Status:     string(change.Status),
			StatusDate: change.StatusDate,
			UpdatedBy:  change.UpdatedBy,
		})
	}

	return resp
}
