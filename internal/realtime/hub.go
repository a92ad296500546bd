// Package realtime pushes order status changes to subscribed WebSocket connections.
package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nkiryanov/gozon/internal/logger"
	"github.com/nkiryanov/gozon/internal/models"
)

const DefaultWriteTimeout = 5 * time.Second

var ErrConnNotFound = errors.New("connection not found")

// Hub is a registry of live connections of this instance
type Hub struct {
	writeTimeout time.Duration
	logger       logger.Logger

	// guards membership only, sends happen outside of it
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub(l logger.Logger) *Hub {
	return &Hub{
		writeTimeout: DefaultWriteTimeout,
		logger:       l.With("component", "realtime-hub"),
		conns:        make(map[string]*Conn),
	}
}

// Add registers accepted connection
func (h *Hub) Add(ws *websocket.Conn, userID string, orderID string) *Conn {
	c := &Conn{
		ID:           uuid.NewString(),
		UserID:       userID,
		OrderID:      orderID,
		ws:           ws,
		writeTimeout: h.writeTimeout,
	}

	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()

	h.logger.Debug("Connection added", "connection_id", c.ID, "user_id", userID, "order_id", orderID)
	return c
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	_, ok := h.conns[id]
	delete(h.conns, id)
	h.mu.Unlock()

	if ok {
		h.logger.Debug("Connection removed", "connection_id", id)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SendTo sends event to one connection regardless of its filter
func (h *Hub) SendTo(ctx context.Context, id string, e models.OrderStatusChanged) error {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()

	if !ok {
		return ErrConnNotFound
	}

	if err := c.Send(ctx, e); err != nil {
		h.drop(c)
		return err
	}
	return nil
}

// Broadcast sends event to every matching connection and prunes broken ones.
// Delivery is best effort: failed connections never fail the broadcast.
func (h *Hub) Broadcast(ctx context.Context, e models.OrderStatusChanged) error {
	var (
		targets []*Conn
		stale   []*Conn
	)

	h.mu.RLock()
	for _, c := range h.conns {
		switch {
		case c.Closed():
			stale = append(stale, c)
		case c.Matches(e):
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.Send(ctx, e); err != nil {
			h.logger.Debug("Failed to send event, connection dropped", "connection_id", c.ID, "error", err)
			stale = append(stale, c)
			continue
		}
		delivered++
	}

	for _, c := range stale {
		h.drop(c)
	}

	h.logger.Debug("Event broadcasted", "order_id", e.OrderID, "status", e.Status, "delivered", delivered)
	return nil
}

// Serve reads the connection until it is closed, discarding inbound frames, then unregisters it
func (h *Hub) Serve(ctx context.Context, c *Conn) {
	defer h.drop(c)

	for {
		if _, _, err := c.ws.Read(ctx); err != nil {
			status := websocket.CloseStatus(err)
			if status == -1 && ctx.Err() == nil {
				h.logger.Debug("Connection read error", "connection_id", c.ID, "error", err)
			}
			return
		}
	}
}

// Close disconnects everyone, used on shutdown
func (h *Hub) Close() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[string]*Conn)
	h.mu.Unlock()

	for _, c := range conns {
		c.close(websocket.StatusGoingAway, "server is shutting down")
	}
}

func (h *Hub) drop(c *Conn) {
	h.Remove(c.ID)
	c.close(websocket.StatusNormalClosure, "")
}
