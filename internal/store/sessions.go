package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	StateWaiting SessionState = "waiting"
	StateActive  SessionState = "active"
	StateEnded   SessionState = "ended"
)

// Session is a persisted sessions row.
type Session struct {
	Key         string       `json:"session_key"`
	RoomCode    string       `json:"room_code"`
	State       SessionState `json:"state"`
	CreatedAt   time.Time    `json:"created_at"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	ActionCount int64        `json:"action_count"`
}

// CreateSession inserts a new session in the waiting state with no actions.
// CreatedAt defaults to the store clock.
func (s *Store) CreateSession(ctx context.Context, sess Session) (Session, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	sess.CreatedAt = sess.CreatedAt.UTC().Truncate(time.Millisecond)
	sess.State = StateWaiting
	sess.EndedAt = nil
	sess.ActionCount = 0

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_key, room_code, state, created_at, action_count)
		VALUES (?, ?, ?, ?, 0)
	`, sess.Key, sess.RoomCode, string(sess.State), toMillis(sess.CreatedAt))
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// UpdateSessionState sets the lifecycle state of a live session.
// Use EndSession to end it.
func (s *Store) UpdateSessionState(ctx context.Context, key string, state SessionState) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ? WHERE session_key = ?
	`, string(state), key)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return requireRow(res, "update session state")
}

// EndSession marks the session ended and records the end time.
func (s *Store) EndSession(ctx context.Context, key string, at time.Time) error {
	if at.IsZero() {
		at = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET state = ?, ended_at = ? WHERE session_key = ?
	`, string(StateEnded), toMillis(at), key)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return requireRow(res, "end session")
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
	}
	return nil
}

const sessionColumns = `session_key, room_code, state, created_at, ended_at, action_count`

// GetSession returns the session with the given key.
func (s *Store) GetSession(ctx context.Context, key string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE session_key = ?
	`, key)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// GetSessionByRoomCode returns the most recently created session that used
// the room code. Codes are reused after a room ends.
func (s *Store) GetSessionByRoomCode(ctx context.Context, code string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE room_code = ?
		ORDER BY created_at DESC, session_key DESC
		LIMIT 1
	`, code)
	sess, err := scanSession(row)
	if err != nil {
		return Session{}, fmt.Errorf("get session by room code: %w", err)
	}
	return sess, nil
}

// ListSessions returns every session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		ORDER BY created_at DESC, session_key DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		sess    Session
		state   string
		created int64
		ended   sql.NullInt64
	)
	err := row.Scan(&sess.Key, &sess.RoomCode, &state, &created, &ended, &sess.ActionCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.State = SessionState(state)
	sess.CreatedAt = fromMillis(created)
	if ended.Valid {
		t := fromMillis(ended.Int64)
		sess.EndedAt = &t
	}
	return sess, nil
}
