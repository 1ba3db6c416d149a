// Package session is the in-memory directory of live rooms.
//
// The Registry is the only shared mutable structure in the process. Every
// entry is reached through registry methods; callers receive copies (Info,
// Removal, Advance) and never a reference to an entry.
//
// Locking: the registry lock guards the lookup maps and is always taken
// before an entry lock. Persistence runs with at most one entry lock held,
// never under the registry lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/board"
	"github.com/roach88/duel/internal/snapshot"
	"github.com/roach88/duel/internal/store"
)

// Capacity is the number of participants a room holds.
const Capacity = 2

// maxCodeAttempts bounds room code regeneration on collision.
const maxCodeAttempts = 10

var (
	// ErrRoomNotFound is returned when no live room has the given code.
	ErrRoomNotFound = errors.New("room not found")

	// ErrRoomFull is returned when a room already has Capacity participants.
	ErrRoomFull = errors.New("room full")

	// ErrAlreadyInRoom is returned when a participant tries to create or
	// join a room while bound to a different one.
	ErrAlreadyInRoom = errors.New("participant already in a room")

	// ErrNoRoomCode is returned when no unused room code could be generated.
	ErrNoRoomCode = errors.New("no free room code")
)

// Persister is the write side of the store used by the registry.
type Persister interface {
	CreateSession(ctx context.Context, sess store.Session) (store.Session, error)
	UpdateSessionState(ctx context.Context, key string, state store.SessionState) error
	EndSession(ctx context.Context, key string, at time.Time) error
}

// Info is a point-in-time copy of a live session.
type Info struct {
	SessionKey     string             `json:"session_key"`
	RoomCode       string             `json:"room_code"`
	State          store.SessionState `json:"state"`
	CreatedAt      time.Time          `json:"created_at"`
	Participants   []string           `json:"participants"`
	ActionCount    int64              `json:"action_count"`
	NextCheckpoint int64              `json:"next_checkpoint"`
}

// Removal describes the effect of Remove.
type Removal struct {
	SessionKey string
	RoomCode   string
	Remaining  []string
	Ended      bool
}

// Advance is the result of mirroring one logged action.
type Advance struct {
	Count          int64
	Trigger        bool
	NextCheckpoint int64
	Participants   []string
}

type entry struct {
	// pending is guarded by Registry.mu; it is set while the session row
	// is being created.
	pending bool

	mu           sync.Mutex
	key          string
	code         string
	state        store.SessionState
	createdAt    time.Time
	participants []string
	count        int64
	nextAt       int64
	deckSetup    map[string]bool
}

func (e *entry) info() Info {
	return Info{
		SessionKey:     e.key,
		RoomCode:       e.code,
		State:          e.state,
		CreatedAt:      e.createdAt,
		Participants:   append([]string{}, e.participants...),
		ActionCount:    e.count,
		NextCheckpoint: e.nextAt,
	}
}

func (e *entry) roleOf(id string) (board.Role, bool) {
	for i, p := range e.participants {
		if p == id {
			if i == 0 {
				return board.RolePlayer, true
			}
			return board.RoleOpponent, true
		}
	}
	return "", false
}

// Registry tracks live sessions by room code, session key and participant.
type Registry struct {
	mu            sync.RWMutex
	byCode        map[string]*entry
	byKey         map[string]*entry
	byParticipant map[string]*entry

	persist   Persister
	keys      Generator
	codes     Generator
	scheduler snapshot.Scheduler
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithKeyGenerator overrides the session key generator (UUIDv7 by default).
func WithKeyGenerator(g Generator) Option {
	return func(r *Registry) { r.keys = g }
}

// WithCodeGenerator overrides the room code generator.
func WithCodeGenerator(g Generator) Option {
	return func(r *Registry) { r.codes = g }
}

// WithScheduler sets the snapshot policy applied by Advance.
func WithScheduler(s snapshot.Scheduler) Option {
	return func(r *Registry) { r.scheduler = s }
}

// WithNow sets the wall clock used for creation and end times.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New returns an empty registry persisting through p.
func New(p Persister, opts ...Option) *Registry {
	r := &Registry{
		byCode:        make(map[string]*entry),
		byKey:         make(map[string]*entry),
		byParticipant: make(map[string]*entry),
		persist:       p,
		keys:          UUIDv7Generator{},
		codes:         CodeGenerator{Length: DefaultCodeLength},
		now:           time.Now,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a new room with creatorID as its first participant.
// The session row is written before the room becomes visible to Join.
func (r *Registry) Create(ctx context.Context, creatorID string) (Info, error) {
	now := r.now().UTC().Truncate(time.Millisecond)
	e := &entry{
		pending:      true,
		key:          r.keys.Generate(),
		state:        store.StateWaiting,
		createdAt:    now,
		participants: []string{creatorID},
		nextAt:       r.scheduler.FirstCheckpoint(),
		deckSetup:    make(map[string]bool),
	}

	r.mu.Lock()
	if _, bound := r.byParticipant[creatorID]; bound {
		r.mu.Unlock()
		return Info{}, fmt.Errorf("create room: %w", ErrAlreadyInRoom)
	}
	code, ok := r.freshCode()
	if !ok {
		r.mu.Unlock()
		return Info{}, fmt.Errorf("create room: %w", ErrNoRoomCode)
	}
	e.code = code
	r.byCode[code] = e
	r.mu.Unlock()

	_, err := r.persist.CreateSession(ctx, store.Session{
		Key:       e.key,
		RoomCode:  e.code,
		CreatedAt: now,
	})

	r.mu.Lock()
	if err != nil {
		delete(r.byCode, code)
		r.mu.Unlock()
		return Info{}, fmt.Errorf("create room: %w", err)
	}
	if _, bound := r.byParticipant[creatorID]; bound {
		// The creator joined another room while the row was written.
		delete(r.byCode, code)
		r.mu.Unlock()
		r.endDetached(ctx, e)
		return Info{}, fmt.Errorf("create room: %w", ErrAlreadyInRoom)
	}
	e.pending = false
	r.byKey[e.key] = e
	r.byParticipant[creatorID] = e
	info := e.info()
	r.mu.Unlock()

	r.logger.Info("room created", "session", e.key, "room", e.code, "participant", creatorID)
	return info, nil
}

// freshCode returns a code not used by a live room. Caller holds r.mu.
func (r *Registry) freshCode() (string, bool) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := NormalizeCode(r.codes.Generate())
		if _, taken := r.byCode[code]; !taken {
			return code, true
		}
	}
	return "", false
}

// endDetached ends a session row that never became visible.
func (r *Registry) endDetached(ctx context.Context, e *entry) {
	if err := r.persist.EndSession(ctx, e.key, r.now()); err != nil {
		r.logger.Error("end session failed", "session", e.key, "room", e.code, "error", err)
	}
}

// Join binds participantID to the room with the given code and returns its
// role. Joining a room the participant is already in returns its existing
// role. The session becomes active when the room fills.
func (r *Registry) Join(ctx context.Context, roomCode, participantID string) (board.Role, error) {
	code := NormalizeCode(roomCode)

	r.mu.Lock()
	e, ok := r.byCode[code]
	if !ok || e.pending {
		r.mu.Unlock()
		return "", fmt.Errorf("join %q: %w", code, ErrRoomNotFound)
	}
	if cur, bound := r.byParticipant[participantID]; bound && cur != e {
		r.mu.Unlock()
		return "", fmt.Errorf("join %q: %w", code, ErrAlreadyInRoom)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if role, ok := e.roleOf(participantID); ok {
		r.mu.Unlock()
		return role, nil
	}
	if len(e.participants) >= Capacity {
		r.mu.Unlock()
		return "", fmt.Errorf("join %q: %w", code, ErrRoomFull)
	}
	e.participants = append(e.participants, participantID)
	r.byParticipant[participantID] = e
	activated := e.state == store.StateWaiting && len(e.participants) == Capacity
	if activated {
		e.state = store.StateActive
	}
	r.mu.Unlock()

	role, _ := e.roleOf(participantID)
	r.logger.Info("participant joined",
		"session", e.key, "room", e.code, "participant", participantID, "role", string(role))

	if activated {
		if err := r.persist.UpdateSessionState(ctx, e.key, store.StateActive); err != nil {
			r.logger.Error("activate session failed", "session", e.key, "room", e.code, "error", err)
		}
	}
	return role, nil
}

// Remove unbinds participantID from its session. When the room becomes
// empty the session is ended, its end time persisted and the entry evicted.
// The bool is false when the participant was not in any room.
func (r *Registry) Remove(ctx context.Context, participantID string) (Removal, bool) {
	r.mu.Lock()
	e, ok := r.byParticipant[participantID]
	if !ok {
		r.mu.Unlock()
		return Removal{}, false
	}
	delete(r.byParticipant, participantID)

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.participants {
		if p == participantID {
			e.participants = append(e.participants[:i:i], e.participants[i+1:]...)
			break
		}
	}
	ended := len(e.participants) == 0
	if ended {
		e.state = store.StateEnded
		if r.byCode[e.code] == e {
			delete(r.byCode, e.code)
		}
		delete(r.byKey, e.key)
	}
	r.mu.Unlock()

	r.logger.Info("participant left",
		"session", e.key, "room", e.code, "participant", participantID, "ended", ended)

	if ended {
		if err := r.persist.EndSession(ctx, e.key, r.now()); err != nil {
			r.logger.Error("end session failed", "session", e.key, "room", e.code, "error", err)
		}
	}
	return Removal{
		SessionKey: e.key,
		RoomCode:   e.code,
		Remaining:  append([]string{}, e.participants...),
		Ended:      ended,
	}, true
}

// Lookup returns the live room with the given code.
func (r *Registry) Lookup(roomCode string) (Info, bool) {
	r.mu.RLock()
	e, ok := r.byCode[NormalizeCode(roomCode)]
	if !ok || e.pending {
		r.mu.RUnlock()
		return Info{}, false
	}
	r.mu.RUnlock()
	return r.snapshotOf(e), true
}

// SessionOf returns the live session participantID is bound to.
func (r *Registry) SessionOf(participantID string) (Info, bool) {
	e, ok := r.entryBy(r.byParticipant, participantID)
	if !ok {
		return Info{}, false
	}
	return r.snapshotOf(e), true
}

// Get returns the live session with the given key.
func (r *Registry) Get(sessionKey string) (Info, bool) {
	e, ok := r.entryBy(r.byKey, sessionKey)
	if !ok {
		return Info{}, false
	}
	return r.snapshotOf(e), true
}

// Participants returns the participants of a live session in join order.
func (r *Registry) Participants(sessionKey string) []string {
	info, ok := r.Get(sessionKey)
	if !ok {
		return []string{}
	}
	return info.Participants
}

// Advance mirrors a logged action into the session's counter and evaluates
// the snapshot policy. Appends may complete out of order, so the mirror
// keeps the highest seq seen. The bool is false for an unknown session.
func (r *Registry) Advance(sessionKey string, seq int64, t action.Type) (Advance, bool) {
	e, ok := r.entryBy(r.byKey, sessionKey)
	if !ok {
		return Advance{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	count := max(e.count, seq)
	d := r.scheduler.Evaluate(count, e.nextAt, t)
	e.count = count
	e.nextAt = d.NextAt
	return Advance{
		Count:          count,
		Trigger:        d.Trigger,
		NextCheckpoint: d.NextAt,
		Participants:   append([]string{}, e.participants...),
	}, true
}

// MarkDeckSetup records that participantID has set up a deck. It returns
// false if a deck setup was already recorded or the session is unknown.
func (r *Registry) MarkDeckSetup(sessionKey, participantID string) bool {
	e, ok := r.entryBy(r.byKey, sessionKey)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deckSetup[participantID] {
		return false
	}
	e.deckSetup[participantID] = true
	return true
}

// ClearDeckSetup undoes MarkDeckSetup after the setup failed to persist.
func (r *Registry) ClearDeckSetup(sessionKey, participantID string) {
	e, ok := r.entryBy(r.byKey, sessionKey)
	if !ok {
		return
	}
	e.mu.Lock()
	delete(e.deckSetup, participantID)
	e.mu.Unlock()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// Sessions returns all live sessions, oldest first.
func (r *Registry) Sessions() []Info {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.byKey))
	for _, e := range r.byKey {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, r.snapshotOf(e))
	}
	sortInfos(out)
	return out
}

func (r *Registry) entryBy(m map[string]*entry, k string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := m[k]
	return e, ok
}

func (r *Registry) snapshotOf(e *entry) Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.info()
}

func sortInfos(infos []Info) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.Before(infos[j].CreatedAt)
		}
		return infos[i].SessionKey < infos[j].SessionKey
	})
}
