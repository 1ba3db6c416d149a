package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duel/internal/protocol"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	assert.True(t, clock.Now().Equal(Epoch))
	assert.True(t, clock.Now().Equal(Epoch), "no tick set, clock must not move")
}

func TestFakeClock_AdvanceAndTick(t *testing.T) {
	start := time.Date(2030, 5, 6, 7, 8, 9, 0, time.UTC)
	clock := NewFakeClock(start)

	clock.Advance(time.Minute)
	assert.True(t, clock.Now().Equal(start.Add(time.Minute)))

	clock.Tick(time.Second)
	first := clock.Now()
	second := clock.Now()
	assert.Equal(t, time.Second, second.Sub(first))
}

func TestFakeClock_ConcurrentTicksAreUnique(t *testing.T) {
	clock := NewFakeClock(time.Time{})
	clock.Tick(time.Millisecond)

	const goroutines = 50
	seen := make(chan time.Time, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- clock.Now()
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[int64]bool)
	for ts := range seen {
		unique[ts.UnixMilli()] = true
	}
	assert.Len(t, unique, goroutines)
}

func TestRecordingNotifier(t *testing.T) {
	n := NewRecordingNotifier()
	n.Send("alice", protocol.Envelope{Event: "createdRoom"})
	n.Send("bob", protocol.Envelope{Event: "playerJoined"})
	n.Send("alice", protocol.Envelope{Event: "requestBoardState"})

	assert.Equal(t, []string{"createdRoom", "requestBoardState"}, n.Events("alice"))
	assert.Equal(t, []string{"playerJoined"}, n.Events("bob"))
	assert.Empty(t, n.To("carol"))
	require.Len(t, n.All(), 3)

	n.Reset()
	assert.Empty(t, n.All())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("conn")
	assert.Equal(t, "conn-1", g.Generate())
	assert.Equal(t, "conn-2", g.Generate())
	assert.Equal(t, "id-1", NewSequenceGenerator("").Generate())
}
