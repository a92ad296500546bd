package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nkiryanov/gozon/internal/broker"
	"github.com/nkiryanov/gozon/internal/models"
)

type publisher interface {
	Publish(ctx context.Context, exchange string, key string, msg amqp.Publishing) error
}

// Notifier publishes status changes to fanout exchange consumed by every orders instance
type Notifier struct {
	publisher publisher
	exchange  string
}

func NewNotifier(p publisher, exchange string) *Notifier {
	return &Notifier{publisher: p, exchange: exchange}
}

func (n *Notifier) Publish(ctx context.Context, e models.OrderStatusChanged) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("status event encoding error: %w", err)
	}

	// Order leaves NEW once, so order id with status identifies the event
	messageID := e.OrderID + ":" + e.Status
	return n.publisher.Publish(ctx, n.exchange, "", broker.NewPublishing(messageID, models.TypeOrderStatusChanged, body))
}
