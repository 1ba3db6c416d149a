package engine

import (
	"errors"
	"fmt"
)

// EventError is a rejected or failed inbound event. It is returned to the
// caller for logging; the sender only ever hears about room lookups.
type EventError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Event is the inbound event name.
	Event string

	// Room is the room code the event was routed to, if any.
	Room string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes event errors.
type ErrorCode string

const (
	// ErrCodeInvalidMessage indicates an unparseable or invalid payload.
	ErrCodeInvalidMessage ErrorCode = "invalid_message"

	// ErrCodeUnknownEvent indicates an event name outside the action set.
	ErrCodeUnknownEvent ErrorCode = "unknown_event"

	// ErrCodeRoomNotFound indicates no live room matched.
	ErrCodeRoomNotFound ErrorCode = "room_not_found"

	// ErrCodeRoomFull indicates the room already has two participants.
	ErrCodeRoomFull ErrorCode = "room_full"

	// ErrCodeNotInRoom indicates the sender is not a participant of the room.
	ErrCodeNotInRoom ErrorCode = "not_in_room"

	// ErrCodeAlreadyInRoom indicates the sender is bound to another room.
	ErrCodeAlreadyInRoom ErrorCode = "already_in_room"

	// ErrCodePersistence indicates the action could not be stored.
	ErrCodePersistence ErrorCode = "persistence_failure"
)

// Error implements the error interface.
func (e *EventError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Event != "" {
		msg += fmt.Sprintf(" (event=%s", e.Event)
		if e.Room != "" {
			msg += fmt.Sprintf(", room=%s", e.Room)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *EventError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of an EventError anywhere in err's chain.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) (ErrorCode, bool) {
	var ee *EventError
	if errors.As(err, &ee) {
		return ee.Code, true
	}
	return "", false
}

// IsPersistenceError returns true if err is a storage failure.
func IsPersistenceError(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodePersistence
}
