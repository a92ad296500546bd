package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nkiryanov/gozon/internal/apperrors"
	"github.com/nkiryanov/gozon/internal/models"
)

type Route struct {
	Exchange string
	Key      string
}

// Work queue on the default exchange
func QueueRoute(queue string) Route {
	return Route{Exchange: "", Key: queue}
}

func ExchangeRoute(exchange string) Route {
	return Route{Exchange: exchange, Key: ""}
}

type publisher interface {
	Publish(ctx context.Context, exchange string, key string, msg amqp.Publishing) error
}

// Router sends outbox messages to the route configured for their type
type Router struct {
	publisher publisher
	routes    map[string]Route
}

func NewRouter(p publisher, routes map[string]Route) *Router {
	return &Router{publisher: p, routes: routes}
}

func (r *Router) Send(ctx context.Context, msg models.OutboxMessage) error {
	route, ok := r.routes[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %s", apperrors.ErrMessageTypeUnknown, msg.Type)
	}

	return r.publisher.Publish(ctx, route.Exchange, route.Key, NewPublishing(msg.MessageID, msg.Type, msg.Payload))
}

// Persistent JSON message
func NewPublishing(messageID string, messageType string, body []byte) amqp.Publishing {
	return amqp.Publishing{
		MessageId:    messageID,
		Type:         messageType,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
}
