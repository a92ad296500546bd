package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology declares everything consumer needs and returns queue name to consume from
type Topology func(ch *amqp.Channel) (queue string, err error)

// Declaration declares exchanges or queues publisher sends to
type Declaration func(ch *amqp.Channel) error

// DurableQueue is a work queue shared by all instances of a service
func DurableQueue(name string) Topology {
	return func(ch *amqp.Channel) (string, error) {
		if err := DeclareQueue(name)(ch); err != nil {
			return "", err
		}
		return name, nil
	}
}

// FanoutSubscription binds server-named exclusive queue to the exchange
// Every instance gets its own copy of each message; the queue is gone with the connection
func FanoutSubscription(exchange string) Topology {
	return func(ch *amqp.Channel) (string, error) {
		if err := DeclareFanout(exchange)(ch); err != nil {
			return "", err
		}

		q, err := ch.QueueDeclare(
			"",    // name: generated by broker
			false, // durable
			true,  // delete when unused
			true,  // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return "", fmt.Errorf("failed to declare a subscription queue: %w", err)
		}

		if err := ch.QueueBind(q.Name, "", exchange, false, nil); err != nil {
			return "", fmt.Errorf("failed to bind queue %s to %s: %w", q.Name, exchange, err)
		}

		return q.Name, nil
	}
}

func DeclareQueue(name string) Declaration {
	return func(ch *amqp.Channel) error {
		_, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
		return nil
	}
}

func DeclareFanout(exchange string) Declaration {
	return func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			exchange,            // name
			amqp.ExchangeFanout, // type
			true,                // durable
			false,               // auto-deleted
			false,               // internal
			false,               // no-wait
			nil,                 // arguments
		)
		if err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
		return nil
	}
}
