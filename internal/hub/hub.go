// Package hub fans stream events out to websocket subscribers.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/phasectl/internal/domain"
)

const (
	broadcastBuffer  = 256
	connectionBuffer = 256
)

// Connection represents a single subscriber.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan domain.StreamEvent
	mu   sync.Mutex
}

// Hub manages all subscriber connections.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan domain.StreamEvent
	done       chan struct{}

	logger *slog.Logger
	mu     sync.RWMutex
}

// New creates a new Hub. Call Run to start delivering events.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan domain.StreamEvent, broadcastBuffer),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run delivers events until ctx is done, then closes every connection's Send channel.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for id, conn := range h.connections {
			delete(h.connections, id)
			close(conn.Send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug("connection registered", "conn_id", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(conn)
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", "conn_id", conn.ID)

		case event := <-h.broadcast:
			h.mu.Lock()
			for _, conn := range h.connections {
				select {
				case conn.Send <- event:
				default:
					// Slow subscriber; it reconnects with its cursor.
					h.logger.Warn("connection buffer full, closing", "conn_id", conn.ID)
					h.removeLocked(conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(conn *Connection) {
	if _, ok := h.connections[conn.ID]; ok {
		delete(h.connections, conn.ID)
		close(conn.Send)
	}
}

// NewConnection creates a connection for ws. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan domain.StreamEvent, connectionBuffer),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Publish queues an event for every connection. It never blocks; when the
// queue is full the event is dropped and subscribers catch up from the log.
func (h *Hub) Publish(event domain.StreamEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", event.Type, "run_id", event.RunID)
	}
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WriteJSON writes v to the connection with proper locking.
func (c *Connection) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteJSON(v)
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
