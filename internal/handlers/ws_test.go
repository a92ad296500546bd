package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
	"github.com/nkiryanov/gozon/internal/realtime"
)

func Test_OrderStatusWS(t *testing.T) {
	withServer := func(t *testing.T, fn func(wsURL string, h *realtime.Hub)) {
		s := &fakeOrderService{orders: map[string]models.Order{
			"o-1": {ID: "o-1", UserID: "alice", Amount: 300, Status: models.OrderStatusNew},
		}}
		l := logger.NewNoOpLogger()
		h := realtime.NewHub(l)
		srv := httptest.NewServer(NewOrdersRouter(s, h, l))
		defer srv.Close()
		defer h.Close()

		fn("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", h)
	}

	read := func(t *testing.T, ws *websocket.Conn) models.OrderStatusChanged {
		ctx, cancel := context.WithTimeout(t.Context(), time.Second)
		defer cancel()

		var e models.OrderStatusChanged
		require.NoError(t, wsjson.Read(ctx, ws, &e))
		return e
	}

	t.Run("user id required", func(t *testing.T) {
		withServer(t, func(url string, _ *realtime.Hub) {
			_, resp, err := websocket.Dial(t.Context(), url, nil)
			require.Error(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	})

	t.Run("snapshot of own order", func(t *testing.T) {
		withServer(t, func(url string, _ *realtime.Hub) {
			ws, _, err := websocket.Dial(t.Context(), url+"?userId=alice&orderId=o-1", nil)
			require.NoError(t, err)
			defer ws.CloseNow() // nolint:errcheck

			got := read(t, ws)
			require.Equal(t, models.TypeOrderStatusChanged, got.Type)
			require.Equal(t, "o-1", got.OrderID)
			require.Equal(t, models.OrderStatusNew, got.Status)
			require.EqualValues(t, 300, got.Amount)
		})
	})

	t.Run("no snapshot of foreign order", func(t *testing.T) {
		withServer(t, func(url string, h *realtime.Hub) {
			ws, _, err := websocket.Dial(t.Context(), url+"?userId=bob&orderId=o-1", nil)
			require.NoError(t, err)
			defer ws.CloseNow() // nolint:errcheck

			require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 10*time.Millisecond)

			// The first frame is the broadcasted one, no snapshot before it
			err = h.Broadcast(t.Context(), models.OrderStatusChanged{UserID: "bob", OrderID: "o-1", Status: models.OrderStatusCancelled})
			require.NoError(t, err)

			got := read(t, ws)
			require.Equal(t, models.OrderStatusCancelled, got.Status)
		})
	})

	t.Run("broadcast reaches subscriber", func(t *testing.T) {
		withServer(t, func(url string, h *realtime.Hub) {
			ws, _, err := websocket.Dial(t.Context(), url+"?userId=alice", nil)
			require.NoError(t, err)
			defer ws.CloseNow() // nolint:errcheck

			require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 10*time.Millisecond)

			err = h.Broadcast(t.Context(), models.OrderStatusChanged{UserID: "alice", OrderID: "o-2", Status: models.OrderStatusFinished})
			require.NoError(t, err)

			got := read(t, ws)
			require.Equal(t, "o-2", got.OrderID)
			require.Equal(t, models.OrderStatusFinished, got.Status)

			require.NoError(t, ws.Close(websocket.StatusNormalClosure, ""))
			require.Eventually(t, func() bool { return h.Len() == 0 }, time.Second, 10*time.Millisecond)
		})
	})
}
