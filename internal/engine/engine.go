package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/board"
	"github.com/roach88/duel/internal/protocol"
	"github.com/roach88/duel/internal/session"
	"github.com/roach88/duel/internal/slim"
	"github.com/roach88/duel/internal/store"
)

// Notifier delivers outbound envelopes to participants.
// Implementations must not block on a slow receiver.
type Notifier interface {
	Send(participantID string, env protocol.Envelope)
}

// Log is the write side of the store used by the engine.
type Log interface {
	Append(ctx context.Context, sessionKey, participantID string, t action.Type, payload json.RawMessage) (action.Record, error)
	WriteSnapshot(ctx context.Context, snap store.Snapshot) (bool, error)
	WriteDeck(ctx context.Context, d store.Deck) (bool, error)
}

// Checkpointer renders the reconstructed state of a session at seq for
// storage as a snapshot. at is the seq the state was taken at.
type Checkpointer interface {
	Checkpoint(ctx context.Context, sessionKey string, seq int64) (at int64, payload json.RawMessage, err error)
}

// Engine connects the registry, the log and the notifier.
// All methods are safe for concurrent use.
type Engine struct {
	registry   *session.Registry
	log        Log
	notify     Notifier
	checkpoint Checkpointer
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCheckpointer sets how snapshot answers become stored snapshots.
// Without one, board-state answers are logged but no snapshot is written.
func WithCheckpointer(c Checkpointer) Option {
	return func(e *Engine) { e.checkpoint = c }
}

// New creates an Engine.
func New(reg *session.Registry, log Log, notify Notifier, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		log:      log,
		notify:   notify,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the session registry the engine routes through.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// HandleEvent processes one inbound envelope from participantID.
//
// The returned error is informational and nothing is retried. Only room
// lookup failures are answered (roomNotFound, roomFull); everything else is
// logged on the server. A game event whose payload does not decode is still
// logged and relayed, and replay reports it as a bad_payload anomaly.
func (e *Engine) HandleEvent(ctx context.Context, participantID string, env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventCreateRoom:
		_, err := e.CreateRoom(ctx, participantID)
		return err
	case protocol.EventJoinRoom:
		var body protocol.JoinRoom
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &body); err != nil {
				e.logger.Warn("invalid joinRoom body", "participant", participantID, "error", err)
				return &EventError{Code: ErrCodeInvalidMessage, Message: "invalid joinRoom body", Event: env.Event, Err: err}
			}
		}
		code := body.RoomCode
		if code == "" {
			code = env.Room
		}
		_, err := e.JoinRoom(ctx, participantID, code)
		return err
	}

	t, ok := action.FromEvent(env.Event)
	if !ok {
		e.logger.Warn("unknown event", "participant", participantID, "event", env.Event)
		return &EventError{Code: ErrCodeUnknownEvent, Message: "unknown event", Event: env.Event}
	}

	info, err := e.resolve(participantID, env)
	if err != nil {
		return err
	}

	p, err := action.Decode(t, env.Data)
	if err != nil {
		e.logger.Warn("invalid payload, logging as received",
			"session", info.SessionKey, "room", info.RoomCode, "participant", participantID,
			"type", string(t), "error", err)
	}

	if _, ok := p.(*action.DeckSetup); ok && !e.registry.MarkDeckSetup(info.SessionKey, participantID) {
		e.logger.Debug("deck setup already logged",
			"session", info.SessionKey, "room", info.RoomCode, "participant", participantID)
		e.relay(info, participantID, env)
		return nil
	}

	rec, err := e.record(ctx, info, participantID, t, env.Data)
	if err != nil {
		if _, ok := p.(*action.DeckSetup); ok {
			e.registry.ClearDeckSetup(info.SessionKey, participantID)
		}
		return &EventError{
			Code: ErrCodePersistence, Message: "append failed", Event: env.Event, Room: info.RoomCode, Err: err,
		}
	}

	switch p := p.(type) {
	case *action.DeckSetup:
		e.storeDeck(ctx, rec, env.Data)
	case *action.BoardState:
		if p.IsSnapshot() {
			e.storeSnapshot(ctx, rec, *p.Seq)
		}
	}

	e.relay(info, participantID, env)
	return nil
}

// CreateRoom opens a room for participantID and answers with createdRoom.
func (e *Engine) CreateRoom(ctx context.Context, participantID string) (session.Info, error) {
	info, err := e.registry.Create(ctx, participantID)
	if errors.Is(err, session.ErrAlreadyInRoom) {
		e.logger.Warn("create room refused", "participant", participantID, "error", err)
		return session.Info{}, &EventError{
			Code: ErrCodeAlreadyInRoom, Message: "already in a room", Event: protocol.EventCreateRoom, Err: err,
		}
	}
	if err != nil {
		e.logger.Error("create room failed", "participant", participantID, "error", err)
		return session.Info{}, &EventError{
			Code: ErrCodePersistence, Message: "create room failed", Event: protocol.EventCreateRoom, Err: err,
		}
	}

	payload, _ := json.Marshal(protocol.Room{RoomCode: info.RoomCode})
	if _, err := e.record(ctx, info, participantID, action.TypeRoomCreated, payload); err != nil {
		e.logger.Error("log room creation failed", "session", info.SessionKey, "room", info.RoomCode, "error", err)
	}

	e.send(participantID, protocol.EventCreatedRoom, info.RoomCode, protocol.CreatedRoom{
		RoomCode:   info.RoomCode,
		SessionKey: info.SessionKey,
	})
	return info, nil
}

// JoinRoom binds participantID to the room with roomCode. The joiner gets
// joinedRoom, the others get playerJoined. Unknown and full rooms are
// answered with roomNotFound and roomFull. Joining a room the participant
// is already in only repeats joinedRoom.
func (e *Engine) JoinRoom(ctx context.Context, participantID, roomCode string) (board.Role, error) {
	code := session.NormalizeCode(roomCode)
	prev, bound := e.registry.SessionOf(participantID)
	rejoin := bound && prev.RoomCode == code
	role, err := e.registry.Join(ctx, code, participantID)
	switch {
	case errors.Is(err, session.ErrRoomNotFound):
		e.send(participantID, protocol.EventRoomNotFound, code, protocol.Room{RoomCode: code})
		return "", &EventError{Code: ErrCodeRoomNotFound, Message: "room not found", Event: protocol.EventJoinRoom, Room: code, Err: err}
	case errors.Is(err, session.ErrRoomFull):
		e.send(participantID, protocol.EventRoomFull, code, protocol.Room{RoomCode: code})
		return "", &EventError{Code: ErrCodeRoomFull, Message: "room full", Event: protocol.EventJoinRoom, Room: code, Err: err}
	case errors.Is(err, session.ErrAlreadyInRoom):
		e.logger.Warn("join refused", "participant", participantID, "room", code, "error", err)
		return "", &EventError{Code: ErrCodeAlreadyInRoom, Message: "already in a room", Event: protocol.EventJoinRoom, Room: code, Err: err}
	case err != nil:
		e.logger.Error("join failed", "participant", participantID, "room", code, "error", err)
		return "", &EventError{Code: ErrCodeInvalidMessage, Message: "join failed", Event: protocol.EventJoinRoom, Room: code, Err: err}
	}

	info, ok := e.registry.SessionOf(participantID)
	if !ok {
		// The room ended between the join and this lookup.
		e.send(participantID, protocol.EventRoomNotFound, code, protocol.Room{RoomCode: code})
		return "", &EventError{Code: ErrCodeRoomNotFound, Message: "room ended", Event: protocol.EventJoinRoom, Room: code}
	}

	joined := protocol.JoinedRoom{RoomCode: info.RoomCode, SessionKey: info.SessionKey, Role: string(role)}
	if rejoin {
		e.logger.Debug("rejoin", "session", info.SessionKey, "room", info.RoomCode, "participant", participantID)
		e.send(participantID, protocol.EventJoinedRoom, info.RoomCode, joined)
		return role, nil
	}

	payload, _ := json.Marshal(map[string]string{"roomCode": info.RoomCode, "role": string(role)})
	if _, err := e.record(ctx, info, participantID, action.TypePlayerJoined, payload); err != nil {
		e.logger.Error("log join failed", "session", info.SessionKey, "room", info.RoomCode, "error", err)
	}

	e.send(participantID, protocol.EventJoinedRoom, info.RoomCode, joined)
	for _, other := range info.Participants {
		if other != participantID {
			e.send(other, protocol.EventPlayerJoined, info.RoomCode, protocol.Participant{ParticipantID: participantID})
		}
	}
	return role, nil
}

// Disconnect removes participantID from its room immediately. The departure
// is logged and the remaining participant is told. An emptied room ends.
func (e *Engine) Disconnect(ctx context.Context, participantID string) {
	rem, ok := e.registry.Remove(ctx, participantID)
	if !ok {
		return
	}

	payload, _ := json.Marshal(protocol.Participant{ParticipantID: participantID})
	rec, err := e.log.Append(ctx, rem.SessionKey, participantID, action.TypePlayerDisconnected, payload)
	if err != nil {
		e.logger.Error("log disconnect failed", "session", rem.SessionKey, "room", rem.RoomCode, "error", err)
	} else if !rem.Ended {
		// An ended session has no live counter to keep in step.
		e.registry.Advance(rem.SessionKey, rec.Seq, action.TypePlayerDisconnected)
	}

	for _, other := range rem.Remaining {
		e.send(other, protocol.EventPlayerDisconnected, rem.RoomCode, protocol.Participant{ParticipantID: participantID})
	}
}

// resolve finds the live session an event belongs to: the envelope's room
// when given, else the sender's own session. The sender must be a
// participant of it.
func (e *Engine) resolve(participantID string, env protocol.Envelope) (session.Info, error) {
	var (
		info session.Info
		ok   bool
	)
	if env.Room != "" {
		info, ok = e.registry.Lookup(env.Room)
	} else {
		info, ok = e.registry.SessionOf(participantID)
	}
	if !ok {
		code := session.NormalizeCode(env.Room)
		e.send(participantID, protocol.EventRoomNotFound, code, protocol.Room{RoomCode: code})
		return session.Info{}, &EventError{Code: ErrCodeRoomNotFound, Message: "room not found", Event: env.Event, Room: code}
	}
	for _, p := range info.Participants {
		if p == participantID {
			return info, nil
		}
	}
	e.logger.Warn("event from non-participant dropped",
		"session", info.SessionKey, "room", info.RoomCode, "participant", participantID, "event", env.Event)
	return session.Info{}, &EventError{Code: ErrCodeNotInRoom, Message: "not a participant", Event: env.Event, Room: info.RoomCode}
}

// record slims and appends one action, then advances the registry and
// requests board views when the snapshot policy triggers.
func (e *Engine) record(ctx context.Context, info session.Info, participantID string, t action.Type, raw json.RawMessage) (action.Record, error) {
	stored, err := slim.Payload(t, raw)
	if err != nil {
		e.logger.Warn("slim failed, storing payload as received",
			"session", info.SessionKey, "type", string(t), "error", err)
		stored = raw
	}

	rec, err := e.log.Append(ctx, info.SessionKey, participantID, t, stored)
	if err != nil {
		e.logger.Error("append failed",
			"session", info.SessionKey, "room", info.RoomCode, "participant", participantID,
			"type", string(t), "error", err)
		return action.Record{}, err
	}

	adv, ok := e.registry.Advance(info.SessionKey, rec.Seq, t)
	if !ok || !adv.Trigger {
		return rec, nil
	}
	e.logger.Info("snapshot requested",
		"session", info.SessionKey, "room", info.RoomCode, "seq", rec.Seq,
		"type", string(t), "next_checkpoint", adv.NextCheckpoint)
	for _, p := range adv.Participants {
		e.send(p, protocol.EventRequestBoardState, info.RoomCode, protocol.RequestBoardState{Seq: rec.Seq})
	}
	return rec, nil
}

func (e *Engine) storeDeck(ctx context.Context, rec action.Record, raw json.RawMessage) {
	deck := raw
	var body struct {
		Deck json.RawMessage `json:"deck"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Deck) > 0 {
		deck = body.Deck
	}
	inserted, err := e.log.WriteDeck(ctx, store.Deck{
		SessionKey:    rec.SessionKey,
		ParticipantID: rec.ParticipantID,
		Deck:          deck,
	})
	if err != nil {
		e.logger.Error("write deck failed", "session", rec.SessionKey, "seq", rec.Seq, "error", err)
		return
	}
	if !inserted {
		e.logger.Debug("deck already stored", "session", rec.SessionKey, "participant", rec.ParticipantID)
	}
}

// storeSnapshot checkpoints the session at seq when a participant answers a
// snapshot request. The first answer for a seq wins; later ones are dropped.
func (e *Engine) storeSnapshot(ctx context.Context, rec action.Record, seq int64) {
	if e.checkpoint == nil {
		e.logger.Debug("no checkpointer, snapshot not stored", "session", rec.SessionKey, "seq", seq)
		return
	}
	if seq > rec.Seq {
		e.logger.Warn("snapshot answer ahead of the log",
			"session", rec.SessionKey, "seq", seq, "log_seq", rec.Seq, "participant", rec.ParticipantID)
		return
	}
	at, payload, err := e.checkpoint.Checkpoint(ctx, rec.SessionKey, seq)
	if err != nil {
		e.logger.Error("checkpoint failed", "session", rec.SessionKey, "seq", seq, "error", err)
		return
	}
	inserted, err := e.log.WriteSnapshot(ctx, store.Snapshot{
		SessionKey:    rec.SessionKey,
		Seq:           at,
		ParticipantID: rec.ParticipantID,
		Payload:       payload,
	})
	if err != nil {
		e.logger.Error("write snapshot failed", "session", rec.SessionKey, "seq", at, "error", err)
		return
	}
	if inserted {
		e.logger.Info("snapshot stored", "session", rec.SessionKey, "seq", at, "participant", rec.ParticipantID)
		return
	}
	e.logger.Debug("duplicate snapshot dropped", "session", rec.SessionKey, "seq", at, "participant", rec.ParticipantID)
}

// relay forwards env to the other participants. cardDetails is never
// relayed; deckLoaded is also echoed to its sender.
func (e *Engine) relay(info session.Info, from string, env protocol.Envelope) {
	if env.Event == protocol.EventCardDetails {
		return
	}
	for _, p := range info.Participants {
		if p != from || env.Event == protocol.EventDeckLoaded {
			e.notify.Send(p, env)
		}
	}
}

func (e *Engine) send(participantID, event, room string, data any) {
	env, err := protocol.New(event, room, data)
	if err != nil {
		e.logger.Error("encode outbound event failed", "event", event, "error", err)
		return
	}
	e.notify.Send(participantID, env)
}
