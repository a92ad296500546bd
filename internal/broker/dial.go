package broker

import (
	"context"
	"net"
	"time"
)

const dialTimeout = 5 * time.Second

// Dial is cancelled with the context, so shutdown never waits for unreachable broker
func dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: dialTimeout}
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		// Deadline covers the handshake only, amqp091 clears it once connection is open
		if err := conn.SetDeadline(time.Now().Add(dialTimeout)); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return conn, nil
	}
}
