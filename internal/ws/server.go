// Package ws serves the real-time event channel over WebSocket.
package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/roach88/duel/internal/hub"
	"github.com/roach88/duel/internal/protocol"
)

// Path is the route the event channel is served on.
const Path = "/ws"

// Config holds the connection timing and size limits.
type Config struct {
	PingInterval    time.Duration
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	MaxMessageBytes int64
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{
		PingInterval:    30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		MaxMessageBytes: 1 << 20,
	}
}

// Handler receives participant events. Implemented by engine.Engine.
type Handler interface {
	HandleEvent(ctx context.Context, participantID string, env protocol.Envelope) error
	Disconnect(ctx context.Context, participantID string)
}

// IDGenerator issues participant ids for new connections.
type IDGenerator interface {
	Generate() string
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string { return uuid.NewString() }

// Server handles WebSocket connections.
type Server struct {
	cfg      Config
	hub      *hub.Hub
	handler  Handler
	ids      IDGenerator
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithIDGenerator overrides the participant id generator (random UUIDs).
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Server) { s.ids = g }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a new WebSocket server.
func NewServer(cfg Config, h *hub.Hub, handler Handler, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     h,
		handler: handler,
		ids:     uuidGenerator{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Players connect from any origin; there is no authentication.
				return true
			},
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the event channel on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET(Path, s.HandleWebSocket)
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes. Closing is a disconnect: the participant leaves its room at once.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return err
	}

	conn := s.hub.NewConnection(s.ids.Generate(), ws)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageBytes)
	s.logger.Info("participant connected", "participant", conn.ID, "remote", c.RealIP())

	// The request context ends with the handler; the disconnect must still run.
	ctx := context.WithoutCancel(c.Request().Context())
	go s.writePump(conn)
	s.readPump(ctx, conn)
	return nil
}

// readPump reads frames until the connection fails or closes.
func (s *Server) readPump(ctx context.Context, conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
		s.handler.Disconnect(ctx, conn.ID)
		s.logger.Info("participant disconnected", "participant", conn.ID)
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, frame, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read failed", "participant", conn.ID, "error", err)
			}
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			s.logger.Warn("malformed frame dropped", "participant", conn.ID, "error", err)
			continue
		}
		if err := s.handler.HandleEvent(ctx, conn.ID, env); err != nil {
			s.logger.Debug("event not applied", "participant", conn.ID, "event", env.Event, "error", err)
		}
	}
}

// writePump drains the connection's queue and keeps it alive with pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("websocket write failed", "participant", conn.ID, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
