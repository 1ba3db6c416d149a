// Package action defines the closed enumeration of logged game actions,
// the immutable Record stored for each one, and one typed payload per
// action variant.
//
// Unrecognized tags are never trusted structurally: Decode rejects them with
// ErrUnknownType so that callers can log and skip them.
package action

import (
	"encoding/json"
	"strings"
	"time"
)

// Type is the closed set of action types written to the log.
type Type string

const (
	TypeRoomCreated        Type = "ROOM_CREATED"
	TypePlayerJoined       Type = "PLAYER_JOINED"
	TypePlayerDisconnected Type = "PLAYER_DISCONNECTED"
	TypeDeckSetup          Type = "DECKSETUP"
	TypeCardsMoved         Type = "CARDSMOVED"
	TypeCardsBenched       Type = "CARDSBENCHED"
	TypeCardsAttached      Type = "CARDSATTACHED"
	TypeCardsEvolved       Type = "CARDSEVOLVED"
	TypeCardPromoted       Type = "CARDPROMOTED"
	TypePrizesFlipped      Type = "PRIZESFLIPPED"
	TypeTurnPassed         Type = "TURNPASSED"
	TypeGameWon            Type = "GAMEWON"
	TypeGameReset          Type = "GAMERESET"
	TypeBoardState         Type = "BOARDSTATE"
	TypeChatMessage        Type = "CHATMESSAGE"
	TypeCardDetails        Type = "CARDDETAILS"
)

var known = map[Type]bool{
	TypeRoomCreated:        true,
	TypePlayerJoined:       true,
	TypePlayerDisconnected: true,
	TypeDeckSetup:          true,
	TypeCardsMoved:         true,
	TypeCardsBenched:       true,
	TypeCardsAttached:      true,
	TypeCardsEvolved:       true,
	TypeCardPromoted:       true,
	TypePrizesFlipped:      true,
	TypeTurnPassed:         true,
	TypeGameWon:            true,
	TypeGameReset:          true,
	TypeBoardState:         true,
	TypeChatMessage:        true,
	TypeCardDetails:        true,
}

// Known reports whether t is a member of the enumeration.
func (t Type) Known() bool {
	return known[t]
}

// String returns the stored form of the type.
func (t Type) String() string {
	return string(t)
}

// ParseType normalizes a stored or client-supplied type name.
// Case is ignored; the result may still be unknown.
func ParseType(s string) Type {
	return Type(strings.ToUpper(strings.TrimSpace(s)))
}

// FromEvent maps an inbound real-time event name to its action type.
// deckLoaded is the client's name for deck setup.
func FromEvent(event string) (Type, bool) {
	if event == "deckLoaded" {
		return TypeDeckSetup, true
	}
	t := ParseType(event)
	if !t.Known() {
		return "", false
	}
	switch t {
	case TypeRoomCreated, TypePlayerJoined, TypePlayerDisconnected:
		// Lifecycle records are written by the server, never sent by clients.
		return "", false
	}
	return t, true
}

// Record is one immutable, sequenced log entry.
// Identity is (SessionKey, Seq); Seq is gapless and starts at 1.
type Record struct {
	SessionKey    string          `json:"session_key"`
	Seq           int64           `json:"seq"`
	Timestamp     time.Time       `json:"timestamp"`
	ParticipantID string          `json:"participant_id"`
	Type          Type            `json:"action_type"`
	Payload       json.RawMessage `json:"action_data"`
}
