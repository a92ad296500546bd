// Package broker wraps RabbitMQ connections for publishers and consumers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultPrefetch   = 10
	DefaultRetryDelay = 2 * time.Second
)

// Session is a connection with a single channel on it
// Every worker owns its session for its lifetime and never shares it
type Session struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Open dials broker and opens channel
func Open(ctx context.Context, url string) (*Session, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Dial:      dialer(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Session{conn: conn, ch: ch}, nil
}

func (s *Session) Channel() *amqp.Channel {
	return s.ch
}

// NotifyClose returns channel receiving error when session is closed by broker or network
func (s *Session) NotifyClose() <-chan *amqp.Error {
	return s.ch.NotifyClose(make(chan *amqp.Error, 1))
}

func (s *Session) IsClosed() bool {
	return s.ch.IsClosed() || s.conn.IsClosed()
}

func (s *Session) Close() error {
	chErr := s.ch.Close()
	connErr := s.conn.Close()

	if connErr != nil && !errors.Is(connErr, amqp.ErrClosed) {
		return connErr
	}
	if chErr != nil && !errors.Is(chErr, amqp.ErrClosed) {
		return chErr
	}
	return nil
}
