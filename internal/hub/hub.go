// Package hub provides connection management for WebSocket clients.
package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID       string
	ThreadID string
	UserID   string
	Conn     *websocket.Conn
	Send     chan []byte
	mu       sync.Mutex
}

// Hub manages all WebSocket connections, indexed by thread. One hub loop
// serializes fan-out, which preserves per-thread delivery order.
type Hub struct {
	connections map[string]*Connection

	// threads maps thread_id to set of connection IDs
	threads map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *ThreadMessage

	mu sync.RWMutex
}

// ThreadMessage is used to broadcast a message to a thread.
type ThreadMessage struct {
	ThreadID string
	Data     []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		threads:     make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *ThreadMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.ThreadID != "" {
				if h.threads[conn.ThreadID] == nil {
					h.threads[conn.ThreadID] = make(map[string]bool)
				}
				h.threads[conn.ThreadID][conn.ID] = true
			}
			h.mu.Unlock()
			log.Printf("Connection registered: %s (thread: %s)", conn.ID, conn.ThreadID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.ThreadID != "" && h.threads[conn.ThreadID] != nil {
					delete(h.threads[conn.ThreadID], conn.ID)
					if len(h.threads[conn.ThreadID]) == 0 {
						delete(h.threads, conn.ThreadID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("Connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if connIDs, ok := h.threads[msg.ThreadID]; ok {
				for connID := range connIDs {
					if conn, exists := h.connections[connID]; exists {
						select {
						case conn.Send <- msg.Data:
						default:
							// Buffer full, close the connection
							log.Printf("Connection %s buffer full, closing", connID)
							go h.Unregister(conn)
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a new connection for registration with the hub.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// BindThread binds a connection to a thread.
func (h *Hub) BindThread(conn *Connection, threadID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn.ThreadID != "" && h.threads[conn.ThreadID] != nil {
		delete(h.threads[conn.ThreadID], conn.ID)
		if len(h.threads[conn.ThreadID]) == 0 {
			delete(h.threads, conn.ThreadID)
		}
	}

	conn.ThreadID = threadID
	if h.threads[threadID] == nil {
		h.threads[threadID] = make(map[string]bool)
	}
	h.threads[threadID][conn.ID] = true
}

// Send delivers a message to every live connection of a thread. It
// implements the notifier transport; a thread with no connections is a
// delivery failure, matching at-most-once semantics after disconnect.
func (h *Hub) Send(threadID string, data []byte) error {
	h.mu.RLock()
	active := len(h.threads[threadID]) > 0
	h.mu.RUnlock()
	if !active {
		return fmt.Errorf("no live connection for thread %s", threadID)
	}

	select {
	case h.broadcast <- &ThreadMessage{ThreadID: threadID, Data: data}:
		return nil
	default:
		return fmt.Errorf("broadcast queue full for thread %s", threadID)
	}
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	select {
	case conn.Send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full for connection %s", conn.ID)
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// HasActiveConnections checks if a thread has any active connections.
func (h *Hub) HasActiveConnections(threadID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	connIDs, ok := h.threads[threadID]
	return ok && len(connIDs) > 0
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
