package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/duel/internal/action"
)

// Append assigns the next sequence number of the session and stores the
// action under it. The counter increment and the insert share one
// transaction, so a failed insert leaves no gap.
//
// Concurrent callers for the same session are serialized by SQLite's write
// lock; no two records can receive the same seq.
func (s *Store) Append(ctx context.Context, sessionKey, participantID string, t action.Type, payload json.RawMessage) (action.Record, error) {
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	ts := s.now().UTC().Truncate(time.Millisecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return action.Record{}, fmt.Errorf("append action: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	err = tx.QueryRowContext(ctx, `
		UPDATE sessions SET action_count = action_count + 1
		WHERE session_key = ?
		RETURNING action_count
	`, sessionKey).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Record{}, fmt.Errorf("append action: %w", ErrSessionNotFound)
	}
	if err != nil {
		return action.Record{}, fmt.Errorf("append action: increment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO actions (session_key, seq, ts, participant_id, action_type, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionKey, seq, toMillis(ts), participantID, string(t), string(payload))
	if err != nil {
		return action.Record{}, fmt.Errorf("append action: insert seq %d: %w", seq, err)
	}

	if err := tx.Commit(); err != nil {
		return action.Record{}, fmt.Errorf("append action: commit: %w", err)
	}

	return action.Record{
		SessionKey:    sessionKey,
		Seq:           seq,
		Timestamp:     ts,
		ParticipantID: participantID,
		Type:          t,
		Payload:       payload,
	}, nil
}

// ReadActions returns every action of the session ordered by seq.
func (s *Store) ReadActions(ctx context.Context, sessionKey string) ([]action.Record, error) {
	return s.ReadActionsAfter(ctx, sessionKey, 0, 0)
}

// ReadActionsAfter returns actions with after < seq <= upTo, ordered by seq.
// upTo <= 0 means no upper bound.
func (s *Store) ReadActionsAfter(ctx context.Context, sessionKey string, after, upTo int64) ([]action.Record, error) {
	query := `
		SELECT session_key, seq, ts, participant_id, action_type, payload
		FROM actions
		WHERE session_key = ? AND seq > ?`
	args := []any{sessionKey, after}
	if upTo > 0 {
		query += ` AND seq <= ?`
		args = append(args, upTo)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	records := []action.Record{}
	for rows.Next() {
		var (
			r       action.Record
			ts      int64
			typ     string
			payload string
		)
		if err := rows.Scan(&r.SessionKey, &r.Seq, &ts, &r.ParticipantID, &typ, &payload); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		r.Timestamp = fromMillis(ts)
		r.Type = action.Type(typ)
		r.Payload = json.RawMessage(payload)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return records, nil
}
