package hub

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duel/internal/protocol"
)

func TestHub_SendQueuesEncodedEnvelope(t *testing.T) {
	h := New()
	conn := h.NewConnection("alice", nil)
	h.Register(conn)

	h.Send("alice", protocol.Envelope{Event: protocol.EventCreatedRoom, Room: "ABC234"})

	frame := <-conn.Send
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, protocol.EventCreatedRoom, env.Event)
	assert.Equal(t, "ABC234", env.Room)
}

func TestHub_SendToUnknownParticipant(t *testing.T) {
	h := New()
	assert.Equal(t, ErrNotConnected, h.SendRaw("ghost", []byte(`{}`)))
	h.Send("ghost", protocol.Envelope{Event: "x"})
}

func TestHub_FullBufferDropsConnection(t *testing.T) {
	h := New(WithSendBuffer(1))
	conn := h.NewConnection("alice", nil)
	h.Register(conn)

	require.NoError(t, h.SendRaw("alice", []byte(`1`)))
	assert.Equal(t, ErrBufferFull, h.SendRaw("alice", []byte(`2`)))
	assert.False(t, h.Connected("alice"))

	// The queue is closed after the buffered frame.
	frame, ok := <-conn.Send
	assert.True(t, ok)
	assert.Equal(t, "1", string(frame))
	_, ok = <-conn.Send
	assert.False(t, ok)
}

func TestHub_RegisterReplacesAndUnregisterIsIdempotent(t *testing.T) {
	h := New()
	first := h.NewConnection("alice", nil)
	second := h.NewConnection("alice", nil)
	h.Register(first)
	h.Register(second)
	assert.Equal(t, 1, h.Len())

	_, ok := <-first.Send
	assert.False(t, ok, "replaced connection's queue is closed")

	h.Unregister(first)
	assert.True(t, h.Connected("alice"), "stale unregister keeps the new connection")

	h.Unregister(second)
	h.Unregister(second)
	assert.Equal(t, 0, h.Len())
}

func TestHub_ConcurrentSendAndUnregister(t *testing.T) {
	h := New(WithSendBuffer(1024))
	conns := make([]*Connection, 10)
	for i := range conns {
		conns[i] = h.NewConnection(string(rune('a'+i)), nil)
		h.Register(conns[i])
	}

	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Send(id, protocol.Envelope{Event: "turnPassed"})
			}
		}(conns[i].ID)
		go func(c *Connection) {
			defer wg.Done()
			h.Unregister(c)
		}(conns[i])
	}
	wg.Wait()
	assert.Equal(t, 0, h.Len())
}
