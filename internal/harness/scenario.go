package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/duel/internal/card"
	"github.com/roach88/duel/internal/protocol"
)

// Scenario is one scripted session run against the engine.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// SnapshotInterval overrides the checkpoint interval. Zero keeps the default.
	SnapshotInterval int64 `yaml:"snapshot_interval,omitempty"`

	// RoomCodes are handed out to createRoom in order. A run that creates
	// more rooms than listed panics. Empty means "ROOM-1", "ROOM-2", ...
	RoomCodes []string `yaml:"room_codes,omitempty"`

	// Cards seed the card index used by reconstruction.
	Cards []card.Card `yaml:"cards,omitempty"`

	// Steps are played in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one inbound event, or a disconnect, from participant As.
type Step struct {
	As         string         `yaml:"as"`
	Event      string         `yaml:"event,omitempty"`
	Room       string         `yaml:"room,omitempty"`
	Data       map[string]any `yaml:"data,omitempty"`
	Disconnect bool           `yaml:"disconnect,omitempty"`
}

// Envelope encodes the step as the frame a client would send.
func (s Step) Envelope() (protocol.Envelope, error) {
	env := protocol.Envelope{Event: s.Event, Room: s.Room}
	if s.Data != nil {
		raw, err := json.Marshal(s.Data)
		if err != nil {
			return protocol.Envelope{}, fmt.Errorf("encode %s data: %w", s.Event, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Assertion checks one property of a run.
type Assertion struct {
	Type string `yaml:"type"`

	// Room selects the session by room code. Empty means the first session.
	Room string `yaml:"room,omitempty"`

	// Action is the action type counted by log_count.
	Action string `yaml:"action,omitempty"`

	// Actions is the expected order for log_order.
	Actions []string `yaml:"actions,omitempty"`

	// To and Event select deliveries for delivered.
	To    string `yaml:"to,omitempty"`
	Event string `yaml:"event,omitempty"`

	// Role and Pile select the pile for pile_size.
	Role string `yaml:"role,omitempty"`
	Pile string `yaml:"pile,omitempty"`

	// Kind filters anomaly_count.
	Kind string `yaml:"kind,omitempty"`

	Count int   `yaml:"count"`
	Seq   int64 `yaml:"seq,omitempty"`
}

// Assertion type constants.
const (
	AssertLogCount     = "log_count"
	AssertLogOrder     = "log_order"
	AssertDelivered    = "delivered"
	AssertPileSize     = "pile_size"
	AssertAnomalyCount = "anomaly_count"
	AssertReplayStart  = "replay_start"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.SnapshotInterval < 0 {
		return fmt.Errorf("snapshot_interval must be non-negative")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.As == "" {
			return fmt.Errorf("steps[%d]: as is required", i)
		}
		if step.Disconnect && step.Event != "" {
			return fmt.Errorf("steps[%d]: disconnect takes no event", i)
		}
		if !step.Disconnect && step.Event == "" {
			return fmt.Errorf("steps[%d]: event is required", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertLogCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for log_count", index)
		}
	case AssertLogOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for log_order", index)
		}
	case AssertDelivered:
		if a.To == "" || a.Event == "" {
			return fmt.Errorf("assertions[%d]: to and event are required for delivered", index)
		}
	case AssertPileSize:
		if a.Role == "" || a.Pile == "" {
			return fmt.Errorf("assertions[%d]: role and pile are required for pile_size", index)
		}
	case AssertAnomalyCount:
	case AssertReplayStart:
		if a.Seq < 0 {
			return fmt.Errorf("assertions[%d]: seq must be non-negative for replay_start", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
