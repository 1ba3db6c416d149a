package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/board"
	"github.com/roach88/duel/internal/session"
)

// AssertionError is returned when an assertion fails.
// It includes the session log to help debug the failure.
type AssertionError struct {
	Type     string          // Assertion type for categorization
	Expected string          // Human-readable expected outcome
	Actual   string          // Human-readable actual outcome
	Log      []action.Record // Session log for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Log) > 0 {
		fmt.Fprintf(&buf, "\nSession log:\n")
		for _, rec := range e.Log {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", rec.Seq, rec.ParticipantID, rec.Type)
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns one message per
// failure. An empty slice means all passed.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	failures := []string{}
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	if a.Type == AssertDelivered {
		return assertDelivered(result, a)
	}

	sess, ok := result.Session(session.NormalizeCode(a.Room))
	if !ok {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("a session for room %q", a.Room),
			Actual:   fmt.Sprintf("%d sessions", len(result.Sessions)),
		}
	}

	switch a.Type {
	case AssertLogCount:
		return assertLogCount(sess, a)
	case AssertLogOrder:
		return assertLogOrder(sess, a)
	case AssertPileSize:
		return assertPileSize(sess, a)
	case AssertAnomalyCount:
		return assertAnomalyCount(sess, a)
	case AssertReplayStart:
		return assertReplayStart(sess, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertLogCount checks that the action type appears exactly Count times.
func assertLogCount(sess SessionOutcome, a Assertion) error {
	want := action.ParseType(a.Action)
	count := 0
	for _, rec := range sess.Log {
		if rec.Type == want {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertLogCount,
			Expected: fmt.Sprintf("%d records of %s", a.Count, want),
			Actual:   fmt.Sprintf("%d records", count),
			Log:      sess.Log,
		}
	}
	return nil
}

// assertLogOrder checks that action types appear in the given order.
// Types don't need to be consecutive. Each expected type matches the first
// record of that type after the previous match.
func assertLogOrder(sess SessionOutcome, a Assertion) error {
	pos := 0
	for _, name := range a.Actions {
		want := action.ParseType(name)
		found := false
		for pos < len(sess.Log) {
			rec := sess.Log[pos]
			pos++
			if rec.Type == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertLogOrder,
				Expected: fmt.Sprintf("actions in order: %v", a.Actions),
				Actual:   fmt.Sprintf("%s missing or out of order", want),
				Log:      sess.Log,
			}
		}
	}
	return nil
}

// assertDelivered counts the envelopes of Event sent to To.
func assertDelivered(result *Result, a Assertion) error {
	count := 0
	for _, d := range result.Deliveries {
		if d.To == a.To && d.Envelope.Event == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertDelivered,
			Expected: fmt.Sprintf("%d %s deliveries to %s", a.Count, a.Event, a.To),
			Actual:   fmt.Sprintf("%d deliveries", count),
		}
	}
	return nil
}

// assertPileSize checks a pile of the reconstructed board.
func assertPileSize(sess SessionOutcome, a Assertion) error {
	role := board.Role(strings.ToLower(a.Role))
	if role != board.RolePlayer && role != board.RoleOpponent {
		return fmt.Errorf("unknown role %q", a.Role)
	}

	b := sess.Replay.Board
	zone := b.Zone(role)

	var size int
	switch strings.ToLower(a.Pile) {
	case "active":
		if zone.Active != nil {
			size = 1
		}
	case "bench":
		size = len(zone.Bench)
	default:
		pile, ok := zone.Pile(a.Pile)
		if !ok {
			return fmt.Errorf("unknown pile %q", a.Pile)
		}
		size = len(*pile)
	}

	if size != a.Count {
		return &AssertionError{
			Type:     AssertPileSize,
			Expected: fmt.Sprintf("%s %s holds %d", role, a.Pile, a.Count),
			Actual:   fmt.Sprintf("holds %d", size),
			Log:      sess.Log,
		}
	}
	return nil
}

// assertAnomalyCount counts replay anomalies, optionally of one kind.
func assertAnomalyCount(sess SessionOutcome, a Assertion) error {
	count := 0
	for _, an := range sess.Replay.Anomalies {
		if a.Kind == "" || an.Kind == a.Kind {
			count++
		}
	}
	if count != a.Count {
		what := "anomalies"
		if a.Kind != "" {
			what = a.Kind + " anomalies"
		}
		return &AssertionError{
			Type:     AssertAnomalyCount,
			Expected: fmt.Sprintf("%d %s", a.Count, what),
			Actual:   fmt.Sprintf("%d", count),
			Log:      sess.Log,
		}
	}
	return nil
}

// assertReplayStart checks which snapshot reconstruction started from.
func assertReplayStart(sess SessionOutcome, a Assertion) error {
	if sess.Replay.StartSeq != a.Seq {
		return &AssertionError{
			Type:     AssertReplayStart,
			Expected: fmt.Sprintf("reconstruction from seq %d", a.Seq),
			Actual:   fmt.Sprintf("from seq %d", sess.Replay.StartSeq),
			Log:      sess.Log,
		}
	}
	return nil
}
