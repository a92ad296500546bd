package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/logger"
)

// Handler processes decoded message
// Error means message has to be redelivered, unless it wraps apperrors.ErrMessageInvalid
type Handler[T any] func(ctx context.Context, msg T) error

type ConsumerConfig struct {
	URL string

	// Unacked deliveries per channel
	Prefetch int

	// Handlers running concurrently
	Workers int

	// Delay between reconnect attempts
	RetryDelay time.Duration
}

// Consumer decodes JSON messages into T, validates them and passes to handler.
// It reconnects with fixed delay until context is cancelled.
type Consumer[T any] struct {
	name     string
	cfg      ConsumerConfig
	topology Topology
	handler  Handler[T]
	validate *validator.Validate
	logger   logger.Logger
}

func NewConsumer[T any](name string, cfg ConsumerConfig, topology Topology, handler Handler[T], l logger.Logger) *Consumer[T] {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = DefaultPrefetch
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	return &Consumer[T]{
		name:     name,
		cfg:      cfg,
		topology: topology,
		handler:  handler,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   l.With("component", "consumer", "consumer", name),
	}
}

// Run consumes until context is cancelled
// Returned channel is closed when in-flight handlers finished and session is closed
func (c *Consumer[T]) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	go func() {
		defer close(idleStopped)

		for {
			err := c.consume(ctx)
			if ctx.Err() != nil {
				c.logger.Debug("Consumer stopped by context")
				return
			}

			c.logger.Warn("Consumer session lost, reconnecting", "error", err, "retry_in", c.cfg.RetryDelay)

			select {
			case <-ctx.Done():
				c.logger.Debug("Consumer stopped by context")
				return
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}()

	return idleStopped
}

// One session lifetime: open, declare, consume until session breaks or context is done
func (c *Consumer[T]) consume(ctx context.Context) error {
	s, err := Open(ctx, c.cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close() // nolint:errcheck

	ch := s.Channel()
	closed := s.NotifyClose()

	queue, err := c.topology(ch)
	if err != nil {
		return err
	}

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,  // queue
		c.name, // consumer
		false,  // auto-ack: manual ack only
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	c.logger.Info("Consumer started", "queue", queue, "prefetch", c.cfg.Prefetch, "workers", c.cfg.Workers)

	// Workers stop taking deliveries on cancel; unacked prefetched deliveries are requeued by broker on close
	var wg sync.WaitGroup
	for range c.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					c.Handle(ctx, d)
				}
			}
		}()
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case amqpErr, ok := <-closed:
		err = amqp.ErrClosed
		if ok && amqpErr != nil {
			err = amqpErr
		}
	}

	wg.Wait()
	return err
}

// Handle processes one delivery and acks or nacks it
func (c *Consumer[T]) Handle(ctx context.Context, d amqp.Delivery) {
	l := c.logger.With("message_id", d.MessageId, "type", d.Type)

	msg, err := c.decode(d.Body)
	if err != nil {
		l.Error("Poison message dropped", "error", err)
		c.ack(l, d)
		return
	}

	// Handler finishes its tx even if shutdown started
	err = c.handler(context.WithoutCancel(ctx), msg)
	switch {
	case err == nil:
		c.ack(l, d)
	case errors.Is(err, apperrors.ErrMessageInvalid):
		l.Error("Poison message dropped", "error", err)
		c.ack(l, d)
	default:
		l.Warn("Message handling failed, requeue", "error", err)
		if err := d.Nack(false, true); err != nil {
			l.Error("Failed to nack message", "error", err)
		}
	}
}

func (c *Consumer[T]) decode(body []byte) (T, error) {
	var msg T

	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, fmt.Errorf("%w: %w", apperrors.ErrMessageInvalid, err)
	}

	if err := c.validate.Struct(msg); err != nil {
		return msg, fmt.Errorf("%w: %w", apperrors.ErrMessageInvalid, err)
	}

	return msg, nil
}

func (c *Consumer[T]) ack(l logger.Logger, d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		l.Error("Failed to ack message", "error", err)
	}
}
