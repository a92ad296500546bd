// Package outbox relays committed outbox messages to the broker.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
)

const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 20
)

type store interface {
	GetPending(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	MarkProcessed(ctx context.Context, messageID string, at time.Time) error
}

// Sender has to return apperrors.ErrMessageTypeUnknown if message type has no route
type sender interface {
	Send(ctx context.Context, msg models.OutboxMessage) error
}

type Publisher struct {
	interval  time.Duration
	batchSize int

	store  store
	sender sender
	logger logger.Logger
	now    func() time.Time
}

type Option func(*Publisher)

func WithPollInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func NewPublisher(store store, sender sender, l logger.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		interval:  DefaultPollInterval,
		batchSize: DefaultBatchSize,
		store:     store,
		sender:    sender,
		logger:    l.With("component", "outbox-publisher"),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Run polls outbox until context is cancelled
// If the last batch published something the next poll starts immediately
func (p *Publisher) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting outbox publisher", "interval", p.interval, "batch_size", p.batchSize)

	go func() {
		defer close(idleStopped)

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Outbox publisher stopped by context")
				return

			case <-timer.C:
				next := p.interval

				published, err := p.PublishPending(ctx)
				switch {
				case err != nil && ctx.Err() == nil:
					p.logger.Warn("Outbox batch not completed", "published", published, "error", err)
				case err == nil && published > 0:
					next = 0
				}

				timer.Reset(next)
			}
		}
	}()

	return idleStopped
}

// PublishPending sends one batch of pending messages and marks them processed.
// Stops on the first send failure: the rest is left for the next poll.
// Messages of unknown type are skipped and stay pending.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	messages, err := p.store.GetPending(ctx, p.batchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox fetch error: %w", err)
	}

	var (
		published int
		skipped   error
	)

	for _, msg := range messages {
		err := p.sender.Send(ctx, msg)
		switch {
		case errors.Is(err, apperrors.ErrMessageTypeUnknown):
			p.logger.Error("Outbox message has no route, left pending", "message_id", msg.MessageID, "type", msg.Type)
			skipped = err
			continue
		case err != nil:
			return published, fmt.Errorf("outbox send error, message_id=%s: %w", msg.MessageID, err)
		}

		if err := p.store.MarkProcessed(ctx, msg.MessageID, p.now().UTC()); err != nil {
			// Message is sent already and will be sent again: consumers dedup it
			return published, fmt.Errorf("outbox mark error, message_id=%s: %w", msg.MessageID, err)
		}

		published++
		p.logger.Debug("Outbox message published", "message_id", msg.MessageID, "type", msg.Type)
	}

	return published, skipped
}
