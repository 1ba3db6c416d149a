package harness

import (
	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/replay"
	"github.com/roach88/duel/internal/testutil"
)

// SessionOutcome is what one session left behind: its log and the board
// reconstructed from it.
type SessionOutcome struct {
	Key      string          `json:"session_key"`
	RoomCode string          `json:"room_code"`
	Log      []action.Record `json:"log"`
	Replay   replay.Result   `json:"replay"`
}

// Rejection is a step the engine refused.
type Rejection struct {
	Step        int    `json:"step"`
	Participant string `json:"participant"`
	Event       string `json:"event"`
	Code        string `json:"code"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	// Sessions are in creation order.
	Sessions []SessionOutcome `json:"sessions"`

	// Deliveries are every outbound envelope in send order.
	Deliveries []testutil.Delivery `json:"deliveries"`

	Rejections []Rejection `json:"rejections,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:       true,
		Errors:     []string{},
		Sessions:   []SessionOutcome{},
		Deliveries: []testutil.Delivery{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Session returns the session with roomCode, or the first one when
// roomCode is empty.
func (r *Result) Session(roomCode string) (SessionOutcome, bool) {
	for _, s := range r.Sessions {
		if roomCode == "" || s.RoomCode == roomCode {
			return s, true
		}
	}
	return SessionOutcome{}, false
}
