package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/handlers/render"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
)

// Subscribe to status changes of user orders: /ws?userId=...&orderId=...
// Without orderId every order of the user is streamed.
func handleOrderStatusWS(orderService orderService, hub hub, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.URL.Query().Get("userId"))
		orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))

		if userID == "" {
			render.ServiceError(w, "Query parameter 'userId' is required", http.StatusBadRequest)
			return
		}

		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			// Accept already wrote the response
			l.Debug("Failed to accept websocket", "error", err)
			return
		}

		c := hub.Add(ws, userID, orderID)

		// Subscriber of one order gets its current state first
		if orderID != "" {
			order, err := orderService.GetUserOrder(r.Context(), userID, orderID)
			switch {
			case err == nil:
				if err := hub.SendTo(r.Context(), c.ID, models.NewOrderStatusChanged(order)); err != nil {
					l.Debug("Failed to send order snapshot", "connection_id", c.ID, "error", err)
				}
			case errors.Is(err, apperrors.ErrOrderNotFound):
				// Unknown or foreign order, nothing to restore
			default:
				l.Error("Failed to get order for snapshot", "order_id", orderID, "error", err)
			}
		}

		hub.Serve(r.Context(), c)
	})
}
