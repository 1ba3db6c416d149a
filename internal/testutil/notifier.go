package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/duel/internal/protocol"
)

// Delivery is one envelope handed to a RecordingNotifier.
type Delivery struct {
	To       string
	Envelope protocol.Envelope
}

// RecordingNotifier records every envelope instead of delivering it.
// It implements engine.Notifier.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
}

// NewRecordingNotifier creates an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Send records env for participantID.
func (n *RecordingNotifier) Send(participantID string, env protocol.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, Delivery{To: participantID, Envelope: env})
}

// All returns every delivery in send order.
func (n *RecordingNotifier) All() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery{}, n.deliveries...)
}

// To returns the envelopes sent to participantID in send order.
func (n *RecordingNotifier) To(participantID string) []protocol.Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := []protocol.Envelope{}
	for _, d := range n.deliveries {
		if d.To == participantID {
			out = append(out, d.Envelope)
		}
	}
	return out
}

// Events returns the event names sent to participantID in send order.
func (n *RecordingNotifier) Events(participantID string) []string {
	envs := n.To(participantID)
	out := make([]string, len(envs))
	for i, env := range envs {
		out[i] = env.Event
	}
	return out
}

// Reset forgets all deliveries.
func (n *RecordingNotifier) Reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = nil
}

// SequenceGenerator returns "<prefix>-1", "<prefix>-2", ...
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix means "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
