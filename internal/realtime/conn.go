package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/nkiryanov/gozon/internal/models"
)

var ErrConnClosed = errors.New("connection closed")

// Conn is a subscriber connection
// Writes are serialized with per-connection mutex, so slow connection blocks only itself
type Conn struct {
	ID      string
	UserID  string
	OrderID string // empty means every order of the user

	ws           *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
	closed       atomic.Bool
}

// Matches reports whether the subscriber wants the event
func (c *Conn) Matches(e models.OrderStatusChanged) bool {
	return e.UserID == c.UserID && (c.OrderID == "" || c.OrderID == e.OrderID)
}

func (c *Conn) Closed() bool {
	return c.closed.Load()
}

func (c *Conn) Send(ctx context.Context, e models.OrderStatusChanged) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, c.ws, e); err != nil {
		c.closed.Store(true)
		return fmt.Errorf("websocket write error: %w", err)
	}

	return nil
}

func (c *Conn) close(code websocket.StatusCode, reason string) {
	if c.closed.Swap(true) {
		_ = c.ws.CloseNow()
		return
	}
	_ = c.ws.Close(code, reason)
}
