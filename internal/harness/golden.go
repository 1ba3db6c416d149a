package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Transcript renders a result as stable text: the log of every session,
// its reconstructed board and anomalies, then every delivery and rejection.
// Payloads and timestamps are left out so unrelated encoding changes don't
// churn golden files.
func Transcript(name string, result *Result) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", name)

	for _, s := range result.Sessions {
		fmt.Fprintf(&buf, "\nsession %s room %s\n", s.Key, s.RoomCode)
		fmt.Fprintf(&buf, "log:\n")
		for _, rec := range s.Log {
			fmt.Fprintf(&buf, "  %d %s %s\n", rec.Seq, rec.ParticipantID, rec.Type)
		}
		fmt.Fprintf(&buf, "board (seq %d, from %d, applied %d):\n",
			s.Replay.Seq, s.Replay.StartSeq, s.Replay.Applied)
		for _, line := range strings.Split(strings.TrimRight(s.Replay.Board.Summary(), "\n"), "\n") {
			fmt.Fprintf(&buf, "  %s\n", line)
		}
		if len(s.Replay.Anomalies) == 0 {
			fmt.Fprintf(&buf, "anomalies: none\n")
		} else {
			fmt.Fprintf(&buf, "anomalies:\n")
			for _, a := range s.Replay.Anomalies {
				fmt.Fprintf(&buf, "  seq %d %s %s: %s\n", a.Seq, a.Type, a.Kind, a.Detail)
			}
		}
	}

	fmt.Fprintf(&buf, "\ndeliveries:\n")
	for _, d := range result.Deliveries {
		fmt.Fprintf(&buf, "  %s %s\n", d.To, d.Envelope.Event)
	}

	if len(result.Rejections) == 0 {
		fmt.Fprintf(&buf, "rejections: none\n")
	} else {
		fmt.Fprintf(&buf, "rejections:\n")
		for _, r := range result.Rejections {
			fmt.Fprintf(&buf, "  step %d %s %s %s\n", r.Step, r.Participant, r.Event, r.Code)
		}
	}
	return []byte(buf.String())
}

// RunWithGolden executes a scenario and compares its transcript against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can also check assertions. Test failure
// (via goldie) occurs if the transcript doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result's transcript against a golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Transcript(scenarioName, result))
}
