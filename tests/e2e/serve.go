package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gozon/internal/app"
	"github.com/nkiryanov/gozon/internal/broker"
	"github.com/nkiryanov/gozon/internal/config"
	"github.com/nkiryanov/gozon/internal/db"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
	"github.com/nkiryanov/gozon/internal/testutil"
)

// Saga is both services running against their own databases and shared broker
type Saga struct {
	OrdersURL   string
	PaymentsURL string
	WSURL       string
	RabbitMQURL string

	OrdersPool   *pgxpool.Pool
	PaymentsPool *pgxpool.Pool

	Config *config.Config
}

type runner interface {
	Run(ctx context.Context) error
}

// Start containers and both services. Everything is stopped on test cleanup
func StartSaga(t *testing.T) Saga {
	rabbit := testutil.StartRabbitMQContainer(t)
	t.Cleanup(rabbit.Terminate)

	ordersPG := testutil.StartPostgresContainer(t, db.SchemaOrders)
	t.Cleanup(ordersPG.Terminate)

	paymentsPG := testutil.StartPostgresContainer(t, db.SchemaPayments)
	t.Cleanup(paymentsPG.Terminate)

	ctx, cancel := context.WithCancel(context.Background())

	configure := func(service string, dsn string) *config.Config {
		port, err := testutil.RandomPort()
		require.NoError(t, err, "failed to get random port to start server")

		c := config.New(service)
		c.ListenAddr = fmt.Sprintf("localhost:%d", port)
		c.Database.DSN = dsn
		c.RabbitMQ.URL = rabbit.URL
		c.LogLevel = logger.LevelWarn
		c.Environment = logger.EnvDevelopment
		c.Outbox.PollInterval = 50 * time.Millisecond
		return c
	}

	start := func(r runner) <-chan struct{} {
		stopped := make(chan struct{})
		go func() {
			defer close(stopped)
			if err := r.Run(ctx); err != nil {
				t.Errorf("service stopped with error: %v", err)
			}
		}()
		return stopped
	}

	ordersCfg := configure(config.ServiceOrders, ordersPG.DSN)
	orders, err := app.NewOrders(ctx, ordersCfg)
	require.NoError(t, err)

	paymentsCfg := configure(config.ServicePayments, paymentsPG.DSN)
	payments, err := app.NewPayments(ctx, paymentsCfg)
	require.NoError(t, err)

	ordersStopped := start(orders)
	paymentsStopped := start(payments)

	t.Cleanup(func() {
		cancel()
		<-ordersStopped
		<-paymentsStopped
	})

	s := Saga{
		OrdersURL:    "http://" + ordersCfg.ListenAddr,
		PaymentsURL:  "http://" + paymentsCfg.ListenAddr,
		WSURL:        "ws://" + ordersCfg.ListenAddr + "/ws",
		RabbitMQURL:  rabbit.URL,
		OrdersPool:   ordersPG.Pool,
		PaymentsPool: paymentsPG.Pool,
		Config:       ordersCfg,
	}

	for _, url := range []string{s.OrdersURL + "/api/orders", s.PaymentsURL + "/api/accounts/transactions"} {
		require.Eventually(t, func() bool {
			code, _ := s.tryDo(t, http.MethodGet, url, "probe", "")
			return code == http.StatusOK
		}, 10*time.Second, 50*time.Millisecond, "service not started: %s", url)
	}

	s.waitStatusFanout(t)
	return s
}

// Status subscription queue is bound asynchronously, events published before are lost.
// Probe the whole realtime path until an event comes through.
func (s Saga) waitStatusFanout(t *testing.T) {
	ws := s.Subscribe(t, "fanout-probe", "")

	received := make(chan struct{})
	go func() {
		var e models.OrderStatusChanged
		if err := wsjson.Read(t.Context(), ws, &e); err == nil {
			close(received)
		}
	}()

	p := broker.NewPublisher(s.RabbitMQURL, logger.NewNoOpLogger(), broker.DeclareFanout(s.Config.RabbitMQ.OrderStatusExchange))
	defer p.Close() // nolint:errcheck

	body, err := json.Marshal(models.OrderStatusChanged{
		Type:    models.TypeOrderStatusChanged,
		OrderID: "probe",
		UserID:  "fanout-probe",
		Status:  models.OrderStatusFinished,
	})
	require.NoError(t, err)

	deadline := time.After(15 * time.Second)
	for {
		err := p.Publish(t.Context(), s.Config.RabbitMQ.OrderStatusExchange, "", broker.NewPublishing("probe", models.TypeOrderStatusChanged, body))
		require.NoError(t, err)

		select {
		case <-received:
			return
		case <-deadline:
			t.Fatal("status fanout is not ready")
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// Subscribe opens WebSocket subscription closed on test cleanup
func (s Saga) Subscribe(t *testing.T, userID string, orderID string) *websocket.Conn {
	url := s.WSURL + "?userId=" + userID
	if orderID != "" {
		url += "&orderId=" + orderID
	}

	ws, _, err := websocket.Dial(t.Context(), url, nil)
	require.NoError(t, err, "failed to subscribe")
	t.Cleanup(func() { _ = ws.CloseNow() })

	return ws
}

// Do sends request on behalf of user and returns status code and body
func (s Saga) Do(t *testing.T, method string, url string, userID string, body string) (int, string) {
	t.Helper()

	code, resp := s.tryDo(t, method, url, userID, body)
	require.NotZero(t, code, "request failed: %s", resp)
	return code, resp
}

func (s Saga) tryDo(t *testing.T, method string, url string, userID string, body string) (int, string) {
	req, err := http.NewRequestWithContext(t.Context(), method, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-User-Id", userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err.Error()
	}
	defer resp.Body.Close() // nolint:errcheck

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err.Error()
	}
	return resp.StatusCode, string(b)
}
