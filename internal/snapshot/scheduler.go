// Package snapshot decides when to ask clients for a full board view.
package snapshot

import "github.com/roach88/duel/internal/action"

// DefaultInterval is the number of actions between interval checkpoints.
const DefaultInterval = 50

// Scheduler is the checkpoint policy. The zero value uses DefaultInterval.
type Scheduler struct {
	Interval int64
}

// Decision is the outcome of evaluating one logged action.
type Decision struct {
	Trigger bool
	NextAt  int64
}

func (s Scheduler) interval() int64 {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

// FirstCheckpoint is the initial next-checkpoint value of a new session.
func (s Scheduler) FirstCheckpoint() int64 {
	return s.interval()
}

// Evaluate is called after every successfully logged action with the
// session's action count. Crossing the boundary triggers a request and moves
// the boundary to the next multiple of the interval strictly greater than
// count. GAMEWON and GAMERESET trigger without moving it.
func (s Scheduler) Evaluate(count, nextAt int64, t action.Type) Decision {
	if count >= nextAt {
		iv := s.interval()
		return Decision{Trigger: true, NextAt: count - count%iv + iv}
	}
	if t == action.TypeGameWon || t == action.TypeGameReset {
		return Decision{Trigger: true, NextAt: nextAt}
	}
	return Decision{NextAt: nextAt}
}
