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
	"github.com/nkiryanov/gozon/internal/repository/postgres"
	"github.com/nkiryanov/gozon/internal/server"
	"github.com/nkiryanov/gozon/internal/service/outbox"
	"github.com/nkiryanov/gozon/internal/service/payment"
)

// Payments owns every long running part of payments service
type Payments struct {
	logger logger.Logger
	pool   *pgxpool.Pool

	server          *server.Server
	outbox          *outbox.Publisher
	outboxPublisher *broker.Publisher
	requestConsumer *broker.Consumer[models.PaymentRequested]
}

func NewPayments(ctx context.Context, c *config.Config) (*Payments, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}
	l = l.With("service", config.ServicePayments)

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.Database.DSN, db.SchemaPayments)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)
	paymentService := payment.NewService(storage, l)
	rmq := c.RabbitMQ

	// Outbox relays payment results back to orders service
	outboxPublisher := broker.NewPublisher(rmq.URL, l, broker.DeclareQueue(rmq.PaymentResultQueue))
	router := broker.NewRouter(outboxPublisher, map[string]broker.Route{
		models.TypePaymentResult: broker.QueueRoute(rmq.PaymentResultQueue),
	})

	return &Payments{
		logger: l,
		pool:   pool,
		server: server.New(c.ListenAddr, handlers.NewPaymentsRouter(paymentService, l), l),
		outbox: outbox.NewPublisher(storage.Outbox(), router, l,
			outbox.WithPollInterval(c.Outbox.PollInterval),
			outbox.WithBatchSize(c.Outbox.BatchSize),
		),
		outboxPublisher: outboxPublisher,
		requestConsumer: broker.NewConsumer[models.PaymentRequested](
			"payments-requests",
			broker.ConsumerConfig{URL: rmq.URL, Prefetch: rmq.Prefetch, Workers: rmq.Workers},
			broker.DurableQueue(rmq.PaymentRequestQueue),
			paymentService.HandlePaymentRequest,
			l,
		),
	}, nil
}

// Run starts every part and blocks until context is cancelled or any part fails
func (a *Payments) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { <-a.outbox.Run(ctx); return nil })
	g.Go(func() error { <-a.requestConsumer.Run(ctx); return nil })

	a.logger.Info("Payments service started")
	return g.Wait()
}

func (a *Payments) close() {
	if err := a.outboxPublisher.Close(); err != nil {
		a.logger.Warn("Failed to close publisher", "error", err)
	}
	a.pool.Close()
	a.logger.Info("Payments service stopped")
}
