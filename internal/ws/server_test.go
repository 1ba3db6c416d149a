package ws

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duel/internal/engine"
	"github.com/roach88/duel/internal/hub"
	"github.com/roach88/duel/internal/protocol"
	"github.com/roach88/duel/internal/session"
	"github.com/roach88/duel/internal/store"
	"github.com/roach88/duel/internal/testutil"
)

func startServer(t *testing.T) (string, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := hub.New()
	reg := session.New(st, session.WithCodeGenerator(session.NewFixedGenerator("ROOM01")))
	eng := engine.New(reg, st, h)

	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	srv := NewServer(cfg, h, eng, WithIDGenerator(testutil.NewSequenceGenerator("p")))

	e := echo.New()
	srv.Register(e)
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + Path, st
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func read(t *testing.T, c *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env protocol.Envelope
	require.NoError(t, c.ReadJSON(&env))
	return env
}

func TestServer_RoundTrip(t *testing.T) {
	url, st := startServer(t)

	alice := dial(t, url)
	require.NoError(t, alice.WriteJSON(protocol.Envelope{Event: protocol.EventCreateRoom}))
	created := read(t, alice)
	require.Equal(t, protocol.EventCreatedRoom, created.Event)
	assert.Equal(t, "ROOM01", created.Room)

	bob := dial(t, url)
	require.NoError(t, bob.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"joinRoom","data":{"roomCode":"room01"}}`)))
	joined := read(t, bob)
	assert.Equal(t, protocol.EventJoinedRoom, joined.Event)
	assert.JSONEq(t, `{"participantId":"p-2"}`, string(read(t, alice).Data))

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"cardsMoved","data":{"from":"deck","to":"hand","cards":["1"]}}`)))
	moved := read(t, bob)
	assert.Equal(t, "cardsMoved", moved.Event)
	assert.JSONEq(t, `{"from":"deck","to":"hand","cards":["1"]}`, string(moved.Data))

	// A malformed frame is dropped without an answer; the connection stays up.
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, bob.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"turnPassed","data":{}}`)))
	assert.Equal(t, "turnPassed", read(t, alice).Event)

	require.NoError(t, bob.Close())
	left := read(t, alice)
	assert.Equal(t, protocol.EventPlayerDisconnected, left.Event)
	assert.JSONEq(t, `{"participantId":"p-2"}`, string(left.Data))

	sess, err := st.GetSessionByRoomCode(context.Background(), "ROOM01")
	require.NoError(t, err)
	records, err := st.ReadActions(context.Background(), sess.Key)
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, "p-1", records[0].ParticipantID)
	assert.Equal(t, "p-2", records[4].ParticipantID)
}

func TestServer_LastDisconnectEndsSession(t *testing.T) {
	url, st := startServer(t)

	alice := dial(t, url)
	require.NoError(t, alice.WriteJSON(protocol.Envelope{Event: protocol.EventCreateRoom}))
	read(t, alice)
	require.NoError(t, alice.Close())

	require.Eventually(t, func() bool {
		sess, err := st.GetSessionByRoomCode(context.Background(), "ROOM01")
		return err == nil && sess.State == store.StateEnded
	}, 2*time.Second, 10*time.Millisecond)

	bob := dial(t, url)
	require.NoError(t, bob.WriteJSON(protocol.Envelope{Event: protocol.EventJoinRoom, Room: "ROOM01"}))
	assert.Equal(t, protocol.EventRoomNotFound, read(t, bob).Event)
}
