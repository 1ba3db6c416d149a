// Package hub provides connection management for participants of the
// real-time event channel.
package hub

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/duel/internal/protocol"
)

// DefaultSendBuffer is the number of outbound frames queued per connection.
const DefaultSendBuffer = 256

// Connection represents a single WebSocket connection. Its ID is the
// participant id used by the session engine.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	mu   sync.Mutex
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

// Close closes the underlying connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// Hub is the table of live connections keyed by participant id.
// It implements engine.Notifier.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	bufferSize  int
	logger      *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// New creates an empty Hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		connections: make(map[string]*Connection),
		bufferSize:  DefaultSendBuffer,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewConnection creates a connection for participant id. It is not visible
// to Send until registered.
func (h *Hub) NewConnection(id string, ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   id,
		Conn: ws,
		Send: make(chan []byte, h.bufferSize),
	}
}

// Register makes conn reachable by its participant id, replacing any
// previous connection with the same id.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	old, replaced := h.connections[conn.ID]
	h.connections[conn.ID] = conn
	if replaced && old != conn {
		close(old.Send)
	}
	h.mu.Unlock()
	h.logger.Debug("connection registered", "participant", conn.ID)
}

// Unregister removes conn and closes its send queue. Unregistering a
// connection that was replaced or already removed does nothing.
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.connections[conn.ID]; ok && cur == conn {
		delete(h.connections, conn.ID)
		close(conn.Send)
		h.logger.Debug("connection unregistered", "participant", conn.ID)
	}
}

// Send queues env for participantID. It never blocks: a participant whose
// queue is full is dropped, and its write pump closes the socket.
func (h *Hub) Send(participantID string, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("encode envelope failed", "participant", participantID, "event", env.Event, "error", err)
		return
	}
	if err := h.SendRaw(participantID, data); err != nil {
		h.logger.Warn("send dropped", "participant", participantID, "event", env.Event, "error", err)
	}
}

// SendRaw queues an encoded frame for participantID.
func (h *Hub) SendRaw(participantID string, data []byte) error {
	h.mu.RLock()
	conn, ok := h.connections[participantID]
	if !ok {
		h.mu.RUnlock()
		return ErrNotConnected
	}
	select {
	case conn.Send <- data:
		h.mu.RUnlock()
		return nil
	default:
	}
	h.mu.RUnlock()

	// Buffer full, drop the connection.
	h.Unregister(conn)
	return ErrBufferFull
}

// Connected reports whether participantID has a live connection.
func (h *Hub) Connected(participantID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[participantID]
	return ok
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &SendError{msg: "send buffer full"}

// ErrNotConnected is returned when no connection has the participant id.
var ErrNotConnected = &SendError{msg: "participant not connected"}

// SendError represents a failed enqueue.
type SendError struct {
	msg string
}

func (e *SendError) Error() string {
	return e.msg
}
