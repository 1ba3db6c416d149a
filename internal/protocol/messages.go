// Package protocol defines the message envelope exchanged with participants
// over the real-time event channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Lifecycle events from a participant.
const (
	EventCreateRoom = "createRoom"
	EventJoinRoom   = "joinRoom"
)

// Game events from a participant that need special routing. All other game
// events are relayed as received.
const (
	EventDeckLoaded  = "deckLoaded"
	EventBoardState  = "boardState"
	EventCardDetails = "cardDetails"
)

// Events sent to participants.
const (
	EventCreatedRoom        = "createdRoom"
	EventJoinedRoom         = "joinedRoom"
	EventPlayerJoined       = "playerJoined"
	EventPlayerDisconnected = "playerDisconnected"
	EventRoomFull           = "roomFull"
	EventRoomNotFound       = "roomNotFound"
	EventRequestBoardState  = "requestBoardState"
)

// Envelope is the frame of every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Room  string          `json:"room,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrNoEvent is returned by Decode for a frame without an event name.
var ErrNoEvent = errors.New("missing event name")

// Decode parses one inbound frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: %w", ErrNoEvent)
	}
	return env, nil
}

// New builds an outbound envelope, marshalling data when it is not nil.
func New(event, room string, data any) (Envelope, error) {
	env := Envelope{Event: event, Room: room}
	if data == nil {
		return env, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// JoinRoom is the body of a joinRoom request. The room code may also be
// carried in the envelope.
type JoinRoom struct {
	RoomCode string `json:"roomCode"`
}

// CreatedRoom answers createRoom.
type CreatedRoom struct {
	RoomCode   string `json:"roomCode"`
	SessionKey string `json:"sessionKey"`
}

// JoinedRoom answers a successful joinRoom.
type JoinedRoom struct {
	RoomCode   string `json:"roomCode"`
	SessionKey string `json:"sessionKey"`
	Role       string `json:"role"`
}

// Participant names another participant of the room.
type Participant struct {
	ParticipantID string `json:"participantId"`
}

// Room names a room code in a failed join.
type Room struct {
	RoomCode string `json:"roomCode"`
}

// RequestBoardState asks a participant for its full board view.
type RequestBoardState struct {
	Seq int64 `json:"seq"`
}
