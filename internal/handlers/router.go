package handlers

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/nkiryanov/gozon/internal/handlers/middleware"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
	"github.com/nkiryanov/gozon/internal/realtime"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// Routes of orders service
func NewOrdersRouter(orderService orderService, hub hub, logger logger.Logger) http.Handler {
	withUser := middleware.UserIDMiddleware()

	api := http.NewServeMux()
	api.Handle("POST /orders", withUser(handleCreateOrder(orderService, logger)))
	api.Handle("GET /orders", withUser(handleListOrders(orderService, logger)))
	api.Handle("GET /orders/{orderId}", withUser(handleGetOrder(orderService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	root.Handle("GET /ws", handleOrderStatusWS(orderService, hub, logger))

	return chain(root,
		middleware.LoggerMiddleware(logger),
	)
}

// Routes of payments service
func NewPaymentsRouter(accountService accountService, logger logger.Logger) http.Handler {
	withUser := middleware.UserIDMiddleware()

	api := http.NewServeMux()
	api.Handle("POST /accounts", withUser(handleCreateAccount(accountService, logger)))
	api.Handle("POST /accounts/topup", withUser(handleTopUp(accountService, logger)))
	api.Handle("GET /accounts/balance", withUser(handleBalance(accountService, logger)))
	api.Handle("GET /accounts/transactions", withUser(handleListTransactions(accountService, logger)))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))

	return chain(root,
		middleware.LoggerMiddleware(logger),
	)
}

type orderService interface {
	// Create NEW order and request its payment
	// Has to return apperrors.ErrAmountInvalid if amount is not positive
	CreateOrder(ctx context.Context, userID string, amount int64, description string) (models.Order, error)

	// Has to return apperrors.ErrOrderNotFound if order not found or belongs to other user
	GetUserOrder(ctx context.Context, userID string, orderID string) (models.Order, error)

	ListOrders(ctx context.Context, userID string) ([]models.Order, error)
}

type accountService interface {
	// Has to return apperrors.ErrAccountAlreadyExists if user has account already
	CreateAccount(ctx context.Context, userID string) (models.Account, error)

	// Has to return apperrors.ErrAccountNotFound if user has no account
	GetBalance(ctx context.Context, userID string) (models.Account, error)

	// Has to return apperrors.ErrAccountNotFound if user has no account
	// and apperrors.ErrAmountInvalid if amount is not positive
	TopUp(ctx context.Context, userID string, amount int64) (models.Account, error)

	ListTransactions(ctx context.Context, userID string) ([]models.AccountTransaction, error)
}

type hub interface {
	Add(ws *websocket.Conn, userID string, orderID string) *realtime.Conn
	SendTo(ctx context.Context, id string, e models.OrderStatusChanged) error
	Serve(ctx context.Context, c *realtime.Conn)
}
