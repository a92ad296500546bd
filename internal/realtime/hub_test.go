package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
)

// Start server registering every accepted connection in the hub
func serveHub(t *testing.T, h *Hub) (string, <-chan *Conn) {
	added := make(chan *Conn, 10)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c := h.Add(ws, r.URL.Query().Get("userId"), r.URL.Query().Get("orderId"))
		added <- c
		h.Serve(r.Context(), c)
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), added
}

func dial(t *testing.T, url string, added <-chan *Conn) (*websocket.Conn, *Conn) {
	ws, _, err := websocket.Dial(t.Context(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })

	select {
	case c := <-added:
		return ws, c
	case <-time.After(time.Second):
		t.Fatal("connection was not registered")
		return nil, nil
	}
}

func read(t *testing.T, ws *websocket.Conn) models.OrderStatusChanged {
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	var e models.OrderStatusChanged
	require.NoError(t, wsjson.Read(ctx, ws, &e))
	return e
}

func event(userID string, orderID string, status string) models.OrderStatusChanged {
	return models.OrderStatusChanged{Type: models.TypeOrderStatusChanged, UserID: userID, OrderID: orderID, Status: status, Amount: 300}
}

func TestConn_Matches(t *testing.T) {
	tests := []struct {
		name     string
		conn     *Conn
		event    models.OrderStatusChanged
		expected bool
	}{
		{"all orders of user", &Conn{UserID: "alice"}, event("alice", "o-1", models.OrderStatusFinished), true},
		{"the order", &Conn{UserID: "alice", OrderID: "o-1"}, event("alice", "o-1", models.OrderStatusFinished), true},
		{"other order", &Conn{UserID: "alice", OrderID: "o-1"}, event("alice", "o-2", models.OrderStatusFinished), false},
		{"other user", &Conn{UserID: "alice"}, event("bob", "o-1", models.OrderStatusFinished), false},
		{"other user same order", &Conn{UserID: "alice", OrderID: "o-1"}, event("bob", "o-1", models.OrderStatusFinished), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.conn.Matches(tt.event))
		})
	}
}

func TestHub(t *testing.T) {
	t.Run("broadcast to matching connections", func(t *testing.T) {
		h := NewHub(logger.NewNoOpLogger())
		url, added := serveHub(t, h)

		allOrders, _ := dial(t, url+"?userId=alice", added)
		oneOrder, _ := dial(t, url+"?userId=alice&orderId=o-2", added)
		require.Equal(t, 2, h.Len())

		// Not matching events go first: if they were delivered they would be read first
		require.NoError(t, h.Broadcast(t.Context(), event("bob", "o-9", models.OrderStatusFinished)))
		require.NoError(t, h.Broadcast(t.Context(), event("alice", "o-1", models.OrderStatusCancelled)))
		require.NoError(t, h.Broadcast(t.Context(), event("alice", "o-2", models.OrderStatusFinished)))

		got := read(t, allOrders)
		require.Equal(t, "o-1", got.OrderID)
		got = read(t, allOrders)
		require.Equal(t, "o-2", got.OrderID)

		got = read(t, oneOrder)
		require.Equal(t, "o-2", got.OrderID, "filtered connection gets its order only")
		require.Equal(t, models.OrderStatusFinished, got.Status)
		require.EqualValues(t, 300, got.Amount)
	})

	t.Run("closed connection removed", func(t *testing.T) {
		h := NewHub(logger.NewNoOpLogger())
		url, added := serveHub(t, h)

		ws, _ := dial(t, url+"?userId=alice", added)
		require.Equal(t, 1, h.Len())

		require.NoError(t, ws.Close(websocket.StatusNormalClosure, ""))

		require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 10*time.Millisecond)
		require.NoError(t, h.Broadcast(t.Context(), event("alice", "o-1", models.OrderStatusFinished)), "nobody to deliver is fine")
	})

	t.Run("broken connection pruned on broadcast", func(t *testing.T) {
		h := NewHub(logger.NewNoOpLogger())
		url, added := serveHub(t, h)

		_, c := dial(t, url+"?userId=alice", added)
		c.closed.Store(true)

		require.NoError(t, h.Broadcast(t.Context(), event("alice", "o-1", models.OrderStatusFinished)))

		require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 10*time.Millisecond)
	})

	t.Run("send to connection", func(t *testing.T) {
		h := NewHub(logger.NewNoOpLogger())
		url, added := serveHub(t, h)

		ws, c := dial(t, url+"?userId=alice&orderId=o-1", added)

		err := h.SendTo(t.Context(), c.ID, event("alice", "o-1", models.OrderStatusNew))
		require.NoError(t, err)
		require.Equal(t, models.OrderStatusNew, read(t, ws).Status)

		err = h.SendTo(t.Context(), "unknown", event("alice", "o-1", models.OrderStatusNew))
		require.ErrorIs(t, err, ErrConnNotFound)
	})

	t.Run("close disconnects everyone", func(t *testing.T) {
		h := NewHub(logger.NewNoOpLogger())
		url, added := serveHub(t, h)

		ws, _ := dial(t, url+"?userId=alice", added)

		h.Close()

		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()
		_, _, err := ws.Read(ctx)
		require.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
		require.Zero(t, h.Len())
	})
}

type publisherFunc func(ctx context.Context, exchange string, key string, msg amqp.Publishing) error

func (f publisherFunc) Publish(ctx context.Context, exchange string, key string, msg amqp.Publishing) error {
	return f(ctx, exchange, key, msg)
}

func TestNotifier_Publish(t *testing.T) {
	var (
		gotExchange string
		gotMsg      amqp.Publishing
	)
	n := NewNotifier(publisherFunc(func(_ context.Context, exchange string, _ string, msg amqp.Publishing) error {
		gotExchange = exchange
		gotMsg = msg
		return nil
	}), "orders.status")

	err := n.Publish(t.Context(), event("alice", "o-1", models.OrderStatusFinished))

	require.NoError(t, err)
	require.Equal(t, "orders.status", gotExchange)
	require.Equal(t, "o-1:FINISHED", gotMsg.MessageId)
	require.Equal(t, models.TypeOrderStatusChanged, gotMsg.Type)
	require.Equal(t, amqp.Persistent, gotMsg.DeliveryMode)
	require.JSONEq(t, `{
		"type": "OrderStatusChanged",
		"orderId": "o-1",
		"userId": "alice",
		"status": "FINISHED",
		"amount": 300,
		"description": "",
		"createdAt": "0001-01-01T00:00:00Z",
		"updatedAt": "0001-01-01T00:00:00Z"
	}`, string(gotMsg.Body))
}
