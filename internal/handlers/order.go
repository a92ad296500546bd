package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/handlers/render"
	"github.com/nkiryanov/gozon/internal/handlers/userctx"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
)

type orderResponse struct {
	OrderID     string    `json:"orderId"`
	UserID      string    `json:"userId"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newOrderResponse(o models.Order) orderResponse {
	return orderResponse{
		OrderID:     o.ID,
		UserID:      o.UserID,
		Amount:      o.Amount,
		Description: o.Description,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func handleCreateOrder(orderService orderService, l logger.Logger) http.Handler {
	type request struct {
		Amount      int64  `json:"amount" validate:"gt=0"`
		Description string `json:"description" validate:"max=1024"`
	}

	type response struct {
		OrderID string `json:"orderId"`
		Status  string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		order, err := orderService.CreateOrder(r.Context(), userID, req.Amount, req.Description)

		switch {
		case err == nil:
			render.JSONWithStatus(w, response{OrderID: order.ID, Status: order.Status}, http.StatusAccepted)
		case errors.Is(err, apperrors.ErrAmountInvalid):
			render.ServiceError(w, "Amount must be positive", http.StatusBadRequest)
		default:
			l.Error("Failed to create order", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListOrders(orderService orderService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		orders, err := orderService.ListOrders(r.Context(), userID)
		if err != nil {
			l.Error("Failed to list orders", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		res := make([]orderResponse, 0, len(orders))
		for _, o := range orders {
			res = append(res, newOrderResponse(o))
		}
		render.JSON(w, res)
	})
}

func handleGetOrder(orderService orderService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		order, err := orderService.GetUserOrder(r.Context(), userID, r.PathValue("orderId"))

		switch {
		case err == nil:
			render.JSON(w, newOrderResponse(order))
		case errors.Is(err, apperrors.ErrOrderNotFound):
			render.ServiceError(w, "Order not found", http.StatusNotFound)
		default:
			l.Error("Failed to get order", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
