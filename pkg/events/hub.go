package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// defaultWriteTimeout bounds one WebSocket send so a stalled client cannot
// block the broadcast path.
const defaultWriteTimeout = 5 * time.Second

// Hub fans events out to WebSocket clients. Each process has one Hub; it
// subscribes itself to a Notifier and pushes every event to every client.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*clientConn

	writeTimeout time.Duration
	logger       *slog.Logger
}

type clientConn struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		connections:  make(map[string]*clientConn),
		writeTimeout: defaultWriteTimeout,
		logger:       slog.With("component", "event_hub"),
	}
}

// Attach subscribes the hub to a notifier. Returns the unsubscribe function.
func (h *Hub) Attach(n *Notifier) func() {
	return n.Subscribe(func(e Event) { h.Broadcast(e) })
}

// HandleConnection manages one client connection after the WebSocket
// upgrade. Blocks until the client disconnects or the context ends.
func (h *Hub) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &clientConn{
		id:     uuid.NewString(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.connections[c.id] = c
	h.mu.Unlock()
	h.logger.Debug("WebSocket client connected", "connection_id", c.id)

	defer func() {
		h.mu.Lock()
		delete(h.connections, c.id)
		h.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug("WebSocket client disconnected", "connection_id", c.id)
	}()

	// Read loop exists only to observe disconnect; clients do not send.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

// Broadcast pushes an event to every connected client. Failed sends drop the
// client.
func (h *Hub) Broadcast(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("Failed to marshal event", "state", event.State, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*clientConn, 0, len(h.connections))
	for _, c := range h.connections {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
		err := c.conn.Write(writeCtx, websocket.MessageText, payload)
		cancel()
		if err != nil {
			h.logger.Debug("Dropping stalled WebSocket client",
				"connection_id", c.id, "error", err)
			c.cancel()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.connections {
		c.cancel()
		_ = c.conn.Close(websocket.StatusGoingAway, "shutting down")
		delete(h.connections, id)
	}
}
