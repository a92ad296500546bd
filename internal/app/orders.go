// Package app assembles services from config and runs them.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/gozon/internal/broker"
	"github.com/nkiryanov/gozon/internal/config"
	"github.com/nkiryanov/gozon/internal/db"
	"github.com/nkiryanov/gozon/internal/handlers"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
	"github.com/nkiryanov/gozon/internal/realtime"
	"github.com/nkiryanov/gozon/internal/repository/postgres"
	"github.com/nkiryanov/gozon/internal/server"
	"github.com/nkiryanov/gozon/internal/service/order"
	"github.com/nkiryanov/gozon/internal/service/outbox"
)

// Orders owns every long running part of orders service
type Orders struct {
	logger logger.Logger
	pool   *pgxpool.Pool

	server         *server.Server
	outbox         *outbox.Publisher
	resultConsumer *broker.Consumer[models.PaymentResult]
	statusConsumer *broker.Consumer[models.OrderStatusChanged]
	hub            *realtime.Hub

	// Closed on stop
	publishers []*broker.Publisher
}

func NewOrders(ctx context.Context, c *config.Config) (*Orders, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}
	l = l.With("service", config.ServiceOrders)

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.Database.DSN, db.SchemaOrders)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)
	rmq := c.RabbitMQ

	// Status changes go to every orders instance through fanout exchange
	statusPublisher := broker.NewPublisher(rmq.URL, l, broker.DeclareFanout(rmq.OrderStatusExchange))
	notifier := realtime.NewNotifier(statusPublisher, rmq.OrderStatusExchange)

	orderService := order.NewService(storage, notifier, l)
	hub := realtime.NewHub(l)

	// Outbox relays payment requests to payments service
	outboxPublisher := broker.NewPublisher(rmq.URL, l, broker.DeclareQueue(rmq.PaymentRequestQueue))
	router := broker.NewRouter(outboxPublisher, map[string]broker.Route{
		models.TypePaymentRequested: broker.QueueRoute(rmq.PaymentRequestQueue),
	})

	consumerCfg := broker.ConsumerConfig{
		URL:      rmq.URL,
		Prefetch: rmq.Prefetch,
		Workers:  rmq.Workers,
	}

	return &Orders{
		logger: l,
		pool:   pool,
		server: server.New(c.ListenAddr, handlers.NewOrdersRouter(orderService, hub, l), l),
		outbox: outbox.NewPublisher(storage.Outbox(), router, l,
			outbox.WithPollInterval(c.Outbox.PollInterval),
			outbox.WithBatchSize(c.Outbox.BatchSize),
		),
		resultConsumer: broker.NewConsumer[models.PaymentResult](
			"orders-payment-results",
			consumerCfg,
			broker.DurableQueue(rmq.PaymentResultQueue),
			orderService.HandlePaymentResult,
			l,
		),
		// Streaming is ordered per instance, one worker keeps events of an order in sequence
		statusConsumer: broker.NewConsumer[models.OrderStatusChanged](
			"orders-status-fanout",
			broker.ConsumerConfig{URL: rmq.URL, Prefetch: rmq.Prefetch, Workers: 1},
			broker.FanoutSubscription(rmq.OrderStatusExchange),
			hub.Broadcast,
			l,
		),
		hub:        hub,
		publishers: []*broker.Publisher{statusPublisher, outboxPublisher},
	}, nil
}

// Run starts every part and blocks until context is cancelled or any part fails
func (a *Orders) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { <-a.outbox.Run(ctx); return nil })
	g.Go(func() error { <-a.resultConsumer.Run(ctx); return nil })
	g.Go(func() error { <-a.statusConsumer.Run(ctx); return nil })

	// WebSocket connections are hijacked, server shutdown does not wait for them
	g.Go(func() error {
		<-ctx.Done()
		a.hub.Close()
		return nil
	})

	a.logger.Info("Orders service started")
	return g.Wait()
}

func (a *Orders) close() {
	for _, p := range a.publishers {
		if err := p.Close(); err != nil {
			a.logger.Warn("Failed to close publisher", "error", err)
		}
	}
	a.pool.Close()
	a.logger.Info("Orders service stopped")
}
