package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
)

// Records what consumer did with the delivery
type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acks++
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func TestConsumer_Handle(t *testing.T) {
	newConsumer := func(handler Handler[models.PaymentRequested]) *Consumer[models.PaymentRequested] {
		return NewConsumer("test", ConsumerConfig{}, DurableQueue("test"), handler, logger.NewNoOpLogger())
	}

	delivery := func(body string) (amqp.Delivery, *fakeAcknowledger) {
		ack := &fakeAcknowledger{}
		return amqp.Delivery{Acknowledger: ack, MessageId: "m-1", Type: models.TypePaymentRequested, Body: []byte(body)}, ack
	}

	valid := `{"messageId": "m-1", "orderId": "o-1", "userId": "alice", "amount": 300}`

	t.Run("success acked", func(t *testing.T) {
		var got models.PaymentRequested
		c := newConsumer(func(_ context.Context, msg models.PaymentRequested) error {
			got = msg
			return nil
		})
		d, ack := delivery(valid)

		c.Handle(t.Context(), d)

		require.Equal(t, 1, ack.acks)
		require.Zero(t, ack.nacks)
		require.Equal(t, models.PaymentRequested{MessageID: "m-1", OrderID: "o-1", UserID: "alice", Amount: 300}, got)
	})

	t.Run("handler error requeued", func(t *testing.T) {
		c := newConsumer(func(context.Context, models.PaymentRequested) error {
			return errors.New("db is down")
		})
		d, ack := delivery(valid)

		c.Handle(t.Context(), d)

		require.Zero(t, ack.acks)
		require.Equal(t, 1, ack.nacks)
		require.True(t, ack.requeue, "message has to be redelivered")
	})

	t.Run("invalid message from handler dropped", func(t *testing.T) {
		c := newConsumer(func(context.Context, models.PaymentRequested) error {
			return fmt.Errorf("process payment error: %w", apperrors.ErrMessageInvalid)
		})
		d, ack := delivery(valid)

		c.Handle(t.Context(), d)

		require.Equal(t, 1, ack.acks)
		require.Zero(t, ack.nacks)
	})

	t.Run("poison dropped without calling handler", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"not json", `not-json`},
			{"wrong type", `{"messageId": "m-1", "orderId": "o-1", "userId": "alice", "amount": "300"}`},
			{"validation failed", `{"messageId": "m-1", "orderId": "o-1", "userId": "alice", "amount": 0}`},
			{"missing fields", `{}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				called := false
				c := newConsumer(func(context.Context, models.PaymentRequested) error {
					called = true
					return nil
				})
				d, ack := delivery(tt.body)

				c.Handle(t.Context(), d)

				require.False(t, called)
				require.Equal(t, 1, ack.acks, "poison message has to be acked")
				require.Zero(t, ack.nacks)
			})
		}
	})

	t.Run("handler context survives shutdown", func(t *testing.T) {
		var handlerErr error
		c := newConsumer(func(ctx context.Context, _ models.PaymentRequested) error {
			handlerErr = ctx.Err()
			return nil
		})
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		d, ack := delivery(valid)

		c.Handle(ctx, d)

		require.NoError(t, handlerErr, "in-flight handler must not see cancellation")
		require.Equal(t, 1, ack.acks)
	})
}

func TestRouter_Send(t *testing.T) {
	type published struct {
		exchange string
		key      string
		msg      amqp.Publishing
	}
	var sent []published
	p := publisherFunc(func(_ context.Context, exchange string, key string, msg amqp.Publishing) error {
		sent = append(sent, published{exchange, key, msg})
		return nil
	})

	r := NewRouter(p, map[string]Route{
		models.TypePaymentRequested:   QueueRoute("payments.requests"),
		models.TypeOrderStatusChanged: ExchangeRoute("orders.status"),
	})

	err := r.Send(t.Context(), models.OutboxMessage{MessageID: "m-1", Type: models.TypePaymentRequested, Payload: []byte(`{}`)})
	require.NoError(t, err)
	err = r.Send(t.Context(), models.OutboxMessage{MessageID: "m-2", Type: models.TypeOrderStatusChanged, Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.Len(t, sent, 2)
	require.Equal(t, "", sent[0].exchange, "work queue uses default exchange")
	require.Equal(t, "payments.requests", sent[0].key)
	require.Equal(t, "m-1", sent[0].msg.MessageId)
	require.Equal(t, models.TypePaymentRequested, sent[0].msg.Type)
	require.Equal(t, "application/json", sent[0].msg.ContentType)
	require.Equal(t, amqp.Persistent, sent[0].msg.DeliveryMode)
	require.Equal(t, "orders.status", sent[1].exchange)

	err = r.Send(t.Context(), models.OutboxMessage{MessageID: "m-3", Type: "Unknown"})
	require.ErrorIs(t, err, apperrors.ErrMessageTypeUnknown)
	require.Len(t, sent, 2)
}

type publisherFunc func(ctx context.Context, exchange string, key string, msg amqp.Publishing) error

func (f publisherFunc) Publish(ctx context.Context, exchange string, key string, msg amqp.Publishing) error {
	return f(ctx, exchange, key, msg)
}
