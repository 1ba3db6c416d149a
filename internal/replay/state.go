// Package replay reconstructs board state by folding the action log.
//
// The Reducer is a pure function of (State, Record). Folding the same
// ordered records from the same starting State always yields the same
// result; nothing reads the wall clock or a random source.
//
// # Roles
//
// Roles are bound by first appearance in the stream: the first participant
// id seen is the player, the second distinct id the opponent. The binding
// lives in State, so it is rebuilt on every reconstruction pass and never
// taken from connection metadata.
//
// # Anomalies
//
// A card that cannot be located, a missing destination slot, an unknown
// pile, or an unknown action type never aborts a fold. The Reducer logs a
// warning, appends an Anomaly to State, and moves on.
package replay

import (
	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/board"
)

// Anomaly records a record the reducer could not apply in full.
type Anomaly struct {
	Seq    int64       `json:"seq"`
	Type   action.Type `json:"type"`
	Role   board.Role  `json:"role,omitempty"`
	Kind   string      `json:"kind"`
	Detail string      `json:"detail,omitempty"`
}

// Anomaly kinds.
const (
	KindUnknownType        = "unknown_type"
	KindBadPayload         = "bad_payload"
	KindCardNotFound       = "card_not_found"
	KindUnknownPile        = "unknown_pile"
	KindNoSlot             = "no_slot"
	KindBenchFull          = "bench_full"
	KindUnboundParticipant = "unbound_participant"
)

// Roles is the ordered participant-to-role assignment.
type Roles struct {
	order []string
}

// SeedRoles binds ids in order; extra ids are ignored.
func SeedRoles(ids ...string) Roles {
	var r Roles
	for _, id := range ids {
		r, _ = r.bind(id)
	}
	return r
}

// RoleOf returns the role bound to id.
func (r Roles) RoleOf(id string) (board.Role, bool) {
	for i, p := range r.order {
		if p == id {
			if i == 0 {
				return board.RolePlayer, true
			}
			return board.RoleOpponent, true
		}
	}
	return "", false
}

// Map returns the assignment as participant id to role.
func (r Roles) Map() map[string]board.Role {
	out := make(map[string]board.Role, len(r.order))
	for _, id := range r.order {
		role, _ := r.RoleOf(id)
		out[id] = role
	}
	return out
}

// IDs returns the bound participant ids, player first.
func (r Roles) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// bind returns the roles with id bound if a seat is free.
func (r Roles) bind(id string) (Roles, bool) {
	if id == "" {
		return r, false
	}
	if _, ok := r.RoleOf(id); ok {
		return r, true
	}
	if len(r.order) >= 2 {
		return r, false
	}
	order := make([]string, len(r.order), len(r.order)+1)
	copy(order, r.order)
	return Roles{order: append(order, id)}, true
}

// State is the fold value.
type State struct {
	Board     board.Board
	Roles     Roles
	DeckSetup map[board.Role]bool
	Anomalies []Anomaly
	// Seq is the last applied sequence number.
	Seq int64
}

// NewState returns the empty starting state.
func NewState() State {
	return State{
		Board:     board.Empty(),
		DeckSetup: map[board.Role]bool{},
		Anomalies: []Anomaly{},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	setup := make(map[board.Role]bool, len(s.DeckSetup))
	for k, v := range s.DeckSetup {
		setup[k] = v
	}
	anomalies := make([]Anomaly, len(s.Anomalies))
	copy(anomalies, s.Anomalies)
	return State{
		Board:     s.Board.Clone(),
		Roles:     s.Roles,
		DeckSetup: setup,
		Anomalies: anomalies,
		Seq:       s.Seq,
	}
}
