package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nkiryanov/gozon/internal/logger"
)

var ErrNotConfirmed = errors.New("message not confirmed by broker")

// Publisher sends messages with publisher confirms.
// Session is opened on first publish and reopened after any failure.
type Publisher struct {
	url          string
	declarations []Declaration
	logger       logger.Logger

	mu      sync.Mutex
	session *Session
}

func NewPublisher(url string, l logger.Logger, declarations ...Declaration) *Publisher {
	return &Publisher{
		url:          url,
		declarations: declarations,
		logger:       l.With("component", "broker-publisher"),
	}
}

// Publish returns when broker confirmed the message or publishing failed
func (p *Publisher) Publish(ctx context.Context, exchange string, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, err := p.open(ctx)
	if err != nil {
		return err
	}

	confirm, err := s.Channel().PublishWithDeferredConfirmWithContext(ctx,
		exchange, // exchange
		key,      // routing key
		false,    // mandatory
		false,    // immediate
		msg,
	)
	if err != nil {
		p.reset()
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	switch {
	case err != nil:
		p.reset()
		return fmt.Errorf("failed to wait for confirmation: %w", err)
	case !acked:
		return ErrNotConfirmed
	}

	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

// Caller must hold the lock
func (p *Publisher) open(ctx context.Context) (*Session, error) {
	if p.session != nil && !p.session.IsClosed() {
		return p.session, nil
	}
	p.reset()

	s, err := Open(ctx, p.url)
	if err != nil {
		return nil, err
	}

	if err := s.Channel().Confirm(false); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable confirms: %w", err)
	}

	for _, declare := range p.declarations {
		if err := declare(s.Channel()); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	p.logger.Debug("Publisher session opened")
	p.session = s
	return s, nil
}

// Caller must hold the lock
func (p *Publisher) reset() {
	if p.session == nil {
		return
	}
	if err := p.session.Close(); err != nil {
		p.logger.Debug("Publisher session closed with error", "error", err)
	}
	p.session = nil
}
