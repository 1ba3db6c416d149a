// Package api provides the read-only HTTP query interface over sessions,
// their action logs, snapshots and reconstructed boards.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/replay"
	"github.com/roach88/duel/internal/session"
	"github.com/roach88/duel/internal/store"
)

// Reader is the read side of the store served by the API.
type Reader interface {
	GetSession(ctx context.Context, key string) (store.Session, error)
	GetSessionByRoomCode(ctx context.Context, code string) (store.Session, error)
	ListSessions(ctx context.Context) ([]store.Session, error)
	ReadActions(ctx context.Context, key string) ([]action.Record, error)
	ReadActionsAfter(ctx context.Context, key string, after, upTo int64) ([]action.Record, error)
	LatestSnapshot(ctx context.Context, key string, upTo int64) (store.Snapshot, bool, error)
	ReadDecks(ctx context.Context, key string) ([]store.Deck, error)
}

// Live reports the sessions held in memory.
type Live interface {
	Len() int
}

// Handler handles HTTP requests.
type Handler struct {
	store  Reader
	replay *replay.Service
	live   Live
	logger *slog.Logger
}

// NewHandler creates a new handler. live may be nil when no registry runs
// in the process.
func NewHandler(r Reader, rs *replay.Service, live Live, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{store: r, replay: rs, live: live, logger: logger}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	e.GET("/api/sessions", h.ListSessions)
	e.GET("/api/sessions/key/:sessionKey", h.GetSessionByKey)
	e.GET("/api/sessions/:roomCode", h.GetSessionByRoomCode)
	e.GET("/api/replay/:sessionKey", h.Replay)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	active := 0
	if h.live != nil {
		active = h.live.Len()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":          "healthy",
		"active_sessions": active,
	})
}

// ListSessions returns every persisted session, newest first.
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.store.ListSessions(c.Request().Context())
	if err != nil {
		return h.fail(c, "list sessions", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// SessionLog is a session with its full ordered action log.
type SessionLog struct {
	Session store.Session   `json:"session"`
	Actions []action.Record `json:"actions"`
	Total   int             `json:"total"`
}

// GetSessionByRoomCode returns the latest session that used the room code.
func (h *Handler) GetSessionByRoomCode(c echo.Context) error {
	ctx := c.Request().Context()
	sess, err := h.store.GetSessionByRoomCode(ctx, session.NormalizeCode(c.Param("roomCode")))
	if err != nil {
		return h.fail(c, "get session by room code", err)
	}
	return h.sessionLog(c, sess)
}

// GetSessionByKey returns the session with the given key.
func (h *Handler) GetSessionByKey(c echo.Context) error {
	sess, err := h.store.GetSession(c.Request().Context(), c.Param("sessionKey"))
	if err != nil {
		return h.fail(c, "get session", err)
	}
	return h.sessionLog(c, sess)
}

func (h *Handler) sessionLog(c echo.Context, sess store.Session) error {
	actions, err := h.store.ReadActions(c.Request().Context(), sess.Key)
	if err != nil {
		return h.fail(c, "read actions", err)
	}
	return c.JSON(http.StatusOK, SessionLog{Session: sess, Actions: actions, Total: len(actions)})
}

// ReplayResponse is everything needed to inspect a session at one seq.
type ReplayResponse struct {
	Session  store.Session   `json:"session"`
	Events   []action.Record `json:"events"`
	Snapshot *store.Snapshot `json:"snapshot"`
	Decks    []store.Deck    `json:"decks"`
	Replay   replay.Result   `json:"replay"`
}

// Replay returns the events up to ?seq= (default: all), the latest snapshot
// at or before it, the stored deck lists and the reconstructed board.
func (h *Handler) Replay(c echo.Context) error {
	ctx := c.Request().Context()
	key := c.Param("sessionKey")

	var upTo int64
	if raw := c.QueryParam("seq"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid seq"})
		}
		upTo = n
	}

	sess, err := h.store.GetSession(ctx, key)
	if err != nil {
		return h.fail(c, "replay", err)
	}
	events, err := h.store.ReadActionsAfter(ctx, key, 0, upTo)
	if err != nil {
		return h.fail(c, "replay", err)
	}
	resp := ReplayResponse{Session: sess, Events: events}

	snap, found, err := h.store.LatestSnapshot(ctx, key, upTo)
	if err != nil {
		return h.fail(c, "replay", err)
	}
	if found {
		resp.Snapshot = &snap
	}
	if resp.Decks, err = h.store.ReadDecks(ctx, key); err != nil {
		return h.fail(c, "replay", err)
	}
	if resp.Replay, err = h.replay.Reconstruct(ctx, key, upTo); err != nil {
		return h.fail(c, "replay", err)
	}
	return c.JSON(http.StatusOK, resp)
}

// fail maps not-found to 404 and everything else to 500.
func (h *Handler) fail(c echo.Context, op string, err error) error {
	if errors.Is(err, store.ErrSessionNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	h.logger.Error("query failed", "op", op, "path", c.Path(), "error", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
