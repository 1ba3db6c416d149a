package replay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/board"
	"github.com/roach88/duel/internal/store"
)

// Source is the read side of the store that reconstruction needs.
type Source interface {
	GetSession(ctx context.Context, key string) (store.Session, error)
	LatestSnapshot(ctx context.Context, key string, upTo int64) (store.Snapshot, bool, error)
	ReadActionsAfter(ctx context.Context, key string, after, upTo int64) ([]action.Record, error)
}

// Result is a reconstructed board at a point in a session's history.
type Result struct {
	SessionKey string                `json:"session_key"`
	Board      board.Board           `json:"board"`
	Roles      map[string]board.Role `json:"roles"`
	StartSeq   int64                 `json:"start_seq"`
	Seq        int64                 `json:"seq"`
	Applied    int                   `json:"applied"`
	Anomalies  []Anomaly             `json:"anomalies"`
}

// Service reconstructs sessions from the store.
type Service struct {
	src     Source
	reducer *Reducer
	logger  *slog.Logger
}

// NewService returns a service folding with reducer.
func NewService(src Source, reducer *Reducer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = reducer.logger
	}
	return &Service{src: src, reducer: reducer, logger: logger}
}

// checkpointVersion is written into every stored checkpoint.
const checkpointVersion = 1

// checkpoint is the stored form of a State: both zones with full card
// identity, the role binding and everything else a fold carries.
type checkpoint struct {
	Version   int                 `json:"version"`
	Seq       int64               `json:"seq"`
	Roles     []string            `json:"roles"`
	DeckSetup map[board.Role]bool `json:"deck_setup"`
	Board     board.Board         `json:"board"`
	Anomalies []Anomaly           `json:"anomalies"`
}

// Reconstruct returns the board of sessionKey at seq upTo (upTo <= 0 means
// the end of the log). It starts from the latest checkpoint at or before
// upTo, or from the empty board, and folds the records after it.
//
// Returns store.ErrSessionNotFound (wrapped) for an unknown session.
func (s *Service) Reconstruct(ctx context.Context, sessionKey string, upTo int64) (Result, error) {
	state, start, applied, err := s.reconstruct(ctx, sessionKey, upTo)
	if err != nil {
		return Result{}, err
	}
	return Result{
		SessionKey: sessionKey,
		Board:      state.Board,
		Roles:      state.Roles.Map(),
		StartSeq:   start,
		Seq:        state.Seq,
		Applied:    applied,
		Anomalies:  state.Anomalies,
	}, nil
}

// Checkpoint folds sessionKey up to seq and encodes the state for storage
// as a snapshot. The returned seq is the last record folded, which is
// below the requested one when the log is shorter.
func (s *Service) Checkpoint(ctx context.Context, sessionKey string, seq int64) (int64, json.RawMessage, error) {
	if seq <= 0 {
		return 0, nil, fmt.Errorf("checkpoint: seq %d out of range", seq)
	}
	state, _, _, err := s.reconstruct(ctx, sessionKey, seq)
	if err != nil {
		return 0, nil, fmt.Errorf("checkpoint: %w", err)
	}
	if state.Seq == 0 {
		return 0, nil, fmt.Errorf("checkpoint: session %s has no actions", sessionKey)
	}
	payload, err := json.Marshal(checkpoint{
		Version:   checkpointVersion,
		Seq:       state.Seq,
		Roles:     state.Roles.IDs(),
		DeckSetup: state.DeckSetup,
		Board:     state.Board,
		Anomalies: state.Anomalies,
	})
	if err != nil {
		return 0, nil, fmt.Errorf("checkpoint: encode: %w", err)
	}
	return state.Seq, payload, nil
}

func (s *Service) reconstruct(ctx context.Context, sessionKey string, upTo int64) (State, int64, int, error) {
	if _, err := s.src.GetSession(ctx, sessionKey); err != nil {
		return State{}, 0, 0, fmt.Errorf("reconstruct: %w", err)
	}

	state := NewState()
	snap, found, err := s.src.LatestSnapshot(ctx, sessionKey, upTo)
	if err != nil {
		return State{}, 0, 0, fmt.Errorf("reconstruct: %w", err)
	}
	if found {
		seeded, err := fromCheckpoint(snap)
		if err != nil {
			// The log alone still yields the board.
			s.logger.Warn("snapshot unusable, folding from empty",
				"session", sessionKey, "seq", snap.Seq, "error", err)
		} else {
			state = seeded
		}
	}

	records, err := s.src.ReadActionsAfter(ctx, sessionKey, state.Seq, upTo)
	if err != nil {
		return State{}, 0, 0, fmt.Errorf("reconstruct: %w", err)
	}
	start := state.Seq
	state, applied := s.reducer.Fold(state, records, upTo)

	s.logger.Debug("session reconstructed",
		"session", sessionKey,
		"start_seq", start,
		"seq", state.Seq,
		"applied", applied,
		"anomalies", len(state.Anomalies),
	)
	return state, start, applied, nil
}

// fromCheckpoint decodes a stored snapshot into the state it was taken from.
func fromCheckpoint(snap store.Snapshot) (State, error) {
	var cp checkpoint
	if err := json.Unmarshal(snap.Payload, &cp); err != nil {
		return State{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if cp.Version != checkpointVersion {
		return State{}, fmt.Errorf("checkpoint version %d, want %d", cp.Version, checkpointVersion)
	}
	if cp.Seq != snap.Seq {
		return State{}, fmt.Errorf("checkpoint seq %d stored at %d", cp.Seq, snap.Seq)
	}

	state := NewState()
	state.Roles = SeedRoles(cp.Roles...)
	state.Board = cp.Board.Clone()
	for role, done := range cp.DeckSetup {
		state.DeckSetup[role] = done
	}
	state.Anomalies = append(state.Anomalies, cp.Anomalies...)
	state.Seq = cp.Seq
	return state, nil
}
