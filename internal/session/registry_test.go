package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/board"
	"github.com/roach88/duel/internal/snapshot"
	"github.com/roach88/duel/internal/store"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func createTestRegistry(t *testing.T, opts ...Option) (*Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	base := []Option{WithNow(func() time.Time { return testEpoch })}
	return New(st, append(base, opts...)...), st
}

func TestCreate_PersistsWaitingSession(t *testing.T) {
	r, st := createTestRegistry(t,
		WithKeyGenerator(NewFixedGenerator("key-1")),
		WithCodeGenerator(NewFixedGenerator("abc234")),
	)
	ctx := context.Background()

	info, err := r.Create(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "key-1", info.SessionKey)
	assert.Equal(t, "ABC234", info.RoomCode)
	assert.Equal(t, store.StateWaiting, info.State)
	assert.Equal(t, []string{"alice"}, info.Participants)
	assert.Equal(t, int64(snapshot.DefaultInterval), info.NextCheckpoint)

	row, err := st.GetSession(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "ABC234", row.RoomCode)
	assert.Equal(t, store.StateWaiting, row.State)
	assert.True(t, row.CreatedAt.Equal(testEpoch))
	assert.Equal(t, 1, r.Len())
}

func TestCreate_RegeneratesOnCollision(t *testing.T) {
	r, _ := createTestRegistry(t,
		WithKeyGenerator(NewFixedGenerator("key-1", "key-2")),
		WithCodeGenerator(NewFixedGenerator("AAAAAA", "aaaaaa", "BBBBBB")),
	)
	ctx := context.Background()

	first, err := r.Create(ctx, "alice")
	require.NoError(t, err)
	second, err := r.Create(ctx, "bob")
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", first.RoomCode)
	assert.Equal(t, "BBBBBB", second.RoomCode)
}

func TestCreate_AlreadyInRoom(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	_, err := r.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = r.Create(ctx, "alice")
	assert.True(t, errors.Is(err, ErrAlreadyInRoom))
	assert.Equal(t, 1, r.Len())
}

type failingPersister struct{}

func (failingPersister) CreateSession(context.Context, store.Session) (store.Session, error) {
	return store.Session{}, errors.New("disk full")
}

func (failingPersister) UpdateSessionState(context.Context, string, store.SessionState) error {
	return errors.New("disk full")
}

func (failingPersister) EndSession(context.Context, string, time.Time) error {
	return errors.New("disk full")
}

func TestCreate_PersistenceFailureLeavesNoRoom(t *testing.T) {
	r := New(failingPersister{}, WithCodeGenerator(NewFixedGenerator("ZZZZZZ")))

	_, err := r.Create(context.Background(), "alice")
	require.Error(t, err)
	assert.Equal(t, 0, r.Len())
	_, ok := r.Lookup("ZZZZZZ")
	assert.False(t, ok)
	_, ok = r.SessionOf("alice")
	assert.False(t, ok)
}

func TestJoin_ActivatesAndAssignsRoles(t *testing.T) {
	r, st := createTestRegistry(t)
	ctx := context.Background()

	info, err := r.Create(ctx, "alice")
	require.NoError(t, err)

	role, err := r.Join(ctx, " "+strings.ToLower(info.RoomCode)+" ", "bob")
	require.NoError(t, err)
	assert.Equal(t, board.RoleOpponent, role)

	got, ok := r.Lookup(info.RoomCode)
	require.True(t, ok)
	assert.Equal(t, store.StateActive, got.State)
	assert.Equal(t, []string{"alice", "bob"}, got.Participants)

	row, err := st.GetSession(ctx, info.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, store.StateActive, row.State)
}

func TestJoin_RejoinIsIdempotent(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	info, err := r.Create(ctx, "alice")
	require.NoError(t, err)

	role, err := r.Join(ctx, info.RoomCode, "alice")
	require.NoError(t, err)
	assert.Equal(t, board.RolePlayer, role)

	_, err = r.Join(ctx, info.RoomCode, "bob")
	require.NoError(t, err)
	role, err = r.Join(ctx, info.RoomCode, "bob")
	require.NoError(t, err)
	assert.Equal(t, board.RoleOpponent, role)

	assert.Len(t, r.Participants(info.SessionKey), 2)
}

func TestJoin_Errors(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	_, err := r.Join(ctx, "NOPE99", "alice")
	assert.True(t, errors.Is(err, ErrRoomNotFound))

	info, err := r.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = r.Join(ctx, info.RoomCode, "bob")
	require.NoError(t, err)

	_, err = r.Join(ctx, info.RoomCode, "carol")
	assert.True(t, errors.Is(err, ErrRoomFull))

	other, err := r.Create(ctx, "dave")
	require.NoError(t, err)
	_, err = r.Join(ctx, other.RoomCode, "bob")
	assert.True(t, errors.Is(err, ErrAlreadyInRoom))
}

func TestRemove_LastParticipantEndsSession(t *testing.T) {
	r, st := createTestRegistry(t)
	ctx := context.Background()

	info, err := r.Create(ctx, "alice")
	require.NoError(t, err)

	rem, ok := r.Remove(ctx, "alice")
	require.True(t, ok)
	assert.True(t, rem.Ended)
	assert.Equal(t, info.SessionKey, rem.SessionKey)
	assert.Empty(t, rem.Remaining)
	assert.Equal(t, 0, r.Len())

	row, err := st.GetSession(ctx, info.SessionKey)
	require.NoError(t, err)
	assert.Equal(t, store.StateEnded, row.State)
	require.NotNil(t, row.EndedAt)
	assert.True(t, row.EndedAt.Equal(testEpoch))

	_, err = r.Join(ctx, info.RoomCode, "bob")
	assert.True(t, errors.Is(err, ErrRoomNotFound))
}

func TestRemove_KeepsRoomWithRemainingParticipant(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	info, err := r.Create(ctx, "alice")
	require.NoError(t, err)
	_, err = r.Join(ctx, info.RoomCode, "bob")
	require.NoError(t, err)

	rem, ok := r.Remove(ctx, "alice")
	require.True(t, ok)
	assert.False(t, rem.Ended)
	assert.Equal(t, []string{"bob"}, rem.Remaining)

	// The freed seat can be taken again.
	_, err = r.Join(ctx, info.RoomCode, "carol")
	require.NoError(t, err)

	_, ok = r.Remove(ctx, "alice")
	assert.False(t, ok)
}

func TestAdvance_MirrorsCountAndSchedules(t *testing.T) {
	r, _ := createTestRegistry(t, WithScheduler(snapshot.Scheduler{Interval: 3}))
	ctx := context.Background()

	info, err := r.Create(ctx, "alice")
	require.NoError(t, err)

	adv, ok := r.Advance(info.SessionKey, 1, action.TypeCardsMoved)
	require.True(t, ok)
	assert.False(t, adv.Trigger)

	// Out of order completion: 3 lands before 2.
	adv, _ = r.Advance(info.SessionKey, 3, action.TypeCardsMoved)
	assert.True(t, adv.Trigger)
	assert.Equal(t, int64(6), adv.NextCheckpoint)
	assert.Equal(t, []string{"alice"}, adv.Participants)

	adv, _ = r.Advance(info.SessionKey, 2, action.TypeCardsMoved)
	assert.False(t, adv.Trigger)
	assert.Equal(t, int64(3), adv.Count)

	adv, _ = r.Advance(info.SessionKey, 4, action.TypeGameWon)
	assert.True(t, adv.Trigger)
	assert.Equal(t, int64(6), adv.NextCheckpoint)

	_, ok = r.Advance("missing", 1, action.TypeCardsMoved)
	assert.False(t, ok)
}

func TestDeckSetup_OncePerParticipant(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	info, err := r.Create(ctx, "alice")
	require.NoError(t, err)

	assert.True(t, r.MarkDeckSetup(info.SessionKey, "alice"))
	assert.False(t, r.MarkDeckSetup(info.SessionKey, "alice"))
	assert.True(t, r.MarkDeckSetup(info.SessionKey, "bob"))

	r.ClearDeckSetup(info.SessionKey, "alice")
	assert.True(t, r.MarkDeckSetup(info.SessionKey, "alice"))

	assert.False(t, r.MarkDeckSetup("missing", "alice"))
}

func TestSessions_OldestFirst(t *testing.T) {
	clock := testEpoch
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	r, _ := createTestRegistry(t, WithNow(now))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.Create(ctx, id)
		require.NoError(t, err)
	}
	infos := r.Sessions()
	require.Len(t, infos, 3)
	assert.Equal(t, "a", infos[0].Participants[0])
	assert.Equal(t, "c", infos[2].Participants[0])
}

func TestRegistry_ConcurrentJoinsNeverOverfill(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	info, err := r.Create(ctx, "host")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	joined, full := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Join(ctx, info.RoomCode, fmt.Sprintf("guest-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				joined++
			case errors.Is(err, ErrRoomFull):
				full++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, joined)
	assert.Equal(t, 19, full)
	assert.Len(t, r.Participants(info.SessionKey), Capacity)
}

func TestRegistry_ConcurrentSessionsProceedIndependently(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			host := fmt.Sprintf("host-%d", i)
			info, err := r.Create(ctx, host)
			if err != nil {
				errs <- err
				return
			}
			if _, err := r.Join(ctx, info.RoomCode, fmt.Sprintf("guest-%d", i)); err != nil {
				errs <- err
				return
			}
			for seq := int64(1); seq <= 10; seq++ {
				r.Advance(info.SessionKey, seq, action.TypeCardsMoved)
			}
			r.Remove(ctx, host)
			r.Remove(ctx, fmt.Sprintf("guest-%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 0, r.Len())
}

func TestCodeGenerator_Alphabet(t *testing.T) {
	code := CodeGenerator{}.Generate()
	require.Len(t, code, DefaultCodeLength)
	for _, c := range code {
		assert.Contains(t, CodeAlphabet, string(c))
	}
	assert.Len(t, CodeGenerator{Length: 4}.Generate(), 4)
}

func TestUUIDv7Generator_Sortable(t *testing.T) {
	g := UUIDv7Generator{}
	a := g.Generate()
	time.Sleep(2 * time.Millisecond)
	b := g.Generate()
	assert.Len(t, a, 36)
	assert.Less(t, a, b)
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	g := NewFixedGenerator("one")
	assert.Equal(t, "one", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}
