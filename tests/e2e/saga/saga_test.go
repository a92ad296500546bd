package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gozon/internal/broker"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
	"github.com/nkiryanov/gozon/tests/e2e"
)

type createResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type orderResponse struct {
	OrderID string `json:"orderId"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

// Read events until the order reaches one of terminal statuses
func waitTerminal(t *testing.T, ws *websocket.Conn, orderID string) models.OrderStatusChanged {
	ctx, cancel := context.WithTimeout(t.Context(), 15*time.Second)
	defer cancel()

	for {
		var e models.OrderStatusChanged
		require.NoError(t, wsjson.Read(ctx, ws, &e), "no terminal status event received")

		if e.OrderID == orderID && e.Status != models.OrderStatusNew {
			return e
		}
	}
}

func Test_Saga(t *testing.T) {
	s := e2e.StartSaga(t)

	createOrder := func(t *testing.T, userID string, amount int) string {
		code, body := s.Do(t, http.MethodPost, s.OrdersURL+"/api/orders", userID, fmt.Sprintf(`{"amount": %d, "description": "book"}`, amount))
		require.Equalf(t, http.StatusAccepted, code, "not expected code. Body: %s", body)

		var res createResponse
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		require.Equal(t, models.OrderStatusNew, res.Status)
		require.NotEmpty(t, res.OrderID)
		return res.OrderID
	}

	getOrder := func(t *testing.T, userID string, orderID string) orderResponse {
		code, body := s.Do(t, http.MethodGet, s.OrdersURL+"/api/orders/"+orderID, userID, "")
		require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)

		var res orderResponse
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		return res
	}

	balance := func(t *testing.T, userID string) int64 {
		code, body := s.Do(t, http.MethodGet, s.PaymentsURL+"/api/accounts/balance", userID, "")
		require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)

		var res balanceResponse
		require.NoError(t, json.Unmarshal([]byte(body), &res))
		return res.Balance
	}

	t.Run("paid order finished", func(t *testing.T) {
		code, body := s.Do(t, http.MethodPost, s.PaymentsURL+"/api/accounts", "alice", "")
		require.Equalf(t, http.StatusCreated, code, "not expected code. Body: %s", body)
		code, body = s.Do(t, http.MethodPost, s.PaymentsURL+"/api/accounts/topup", "alice", `{"amount": 500}`)
		require.Equalf(t, http.StatusOK, code, "not expected code. Body: %s", body)

		allOrders := s.Subscribe(t, "alice", "")

		orderID := createOrder(t, "alice", 300)

		// Subscribed to the order: snapshot first, then changes if the order was still NEW
		oneOrder := s.Subscribe(t, "alice", orderID)

		for _, ws := range []*websocket.Conn{allOrders, oneOrder} {
			e := waitTerminal(t, ws, orderID)
			require.Equal(t, models.OrderStatusFinished, e.Status)
			require.EqualValues(t, 300, e.Amount)
			require.Equal(t, "alice", e.UserID)
			require.Equal(t, "book", e.Description)
		}

		require.Equal(t, models.OrderStatusFinished, getOrder(t, "alice", orderID).Status)
		require.EqualValues(t, 200, balance(t, "alice"))

		code, body = s.Do(t, http.MethodGet, s.PaymentsURL+"/api/accounts/transactions", "alice", "")
		require.Equal(t, http.StatusOK, code)
		require.Contains(t, body, `"amount":-300`)
		require.Contains(t, body, `"reference":"`+orderID+`"`)
	})

	t.Run("not enough money cancelled", func(t *testing.T) {
		code, _ := s.Do(t, http.MethodPost, s.PaymentsURL+"/api/accounts", "bob", "")
		require.Equal(t, http.StatusCreated, code)

		ws := s.Subscribe(t, "bob", "")
		orderID := createOrder(t, "bob", 300)

		e := waitTerminal(t, ws, orderID)
		require.Equal(t, models.OrderStatusCancelled, e.Status)
		require.EqualValues(t, 0, balance(t, "bob"), "balance never goes negative")
	})

	t.Run("no account cancelled", func(t *testing.T) {
		ws := s.Subscribe(t, "carol", "")
		orderID := createOrder(t, "carol", 100)

		e := waitTerminal(t, ws, orderID)
		require.Equal(t, models.OrderStatusCancelled, e.Status)

		code, _ := s.Do(t, http.MethodGet, s.PaymentsURL+"/api/accounts/balance", "carol", "")
		require.Equal(t, http.StatusNotFound, code, "no account is created on the way")
	})

	t.Run("redelivered result changes nothing", func(t *testing.T) {
		code, _ := s.Do(t, http.MethodPost, s.PaymentsURL+"/api/accounts", "dave", "")
		require.Equal(t, http.StatusCreated, code)
		code, _ = s.Do(t, http.MethodPost, s.PaymentsURL+"/api/accounts/topup", "dave", `{"amount": 100}`)
		require.Equal(t, http.StatusOK, code)

		ws := s.Subscribe(t, "dave", "")
		orderID := createOrder(t, "dave", 100)
		require.Equal(t, models.OrderStatusFinished, waitTerminal(t, ws, orderID).Status)

		p := broker.NewPublisher(s.RabbitMQURL, logger.NewNoOpLogger())
		defer p.Close() // nolint:errcheck

		publish := func(messageID string) {
			body, err := json.Marshal(models.PaymentResult{
				MessageID: messageID,
				OrderID:   orderID,
				UserID:    "dave",
				Amount:    100,
				Status:    models.PaymentStatusFailedInsufficientFunds,
			})
			require.NoError(t, err)

			err = p.Publish(t.Context(), "", s.Config.RabbitMQ.PaymentResultQueue, broker.NewPublishing(messageID, models.TypePaymentResult, body))
			require.NoError(t, err)
		}

		// Same message again (request message id is the order id) and a fresh one for the same order
		publish(orderID)
		publish("late-" + orderID)

		require.Eventually(t, func() bool {
			var n int
			err := s.OrdersPool.QueryRow(t.Context(), `SELECT count(*) FROM inbox_messages WHERE message_id = $1`, "late-"+orderID).Scan(&n)
			return err == nil && n == 1
		}, 10*time.Second, 50*time.Millisecond, "late result should be consumed")

		require.Equal(t, models.OrderStatusFinished, getOrder(t, "dave", orderID).Status, "terminal status never changes")
		require.EqualValues(t, 0, balance(t, "dave"), "charged once")
	})
}
