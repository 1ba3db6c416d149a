package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Deck is the full deck list a participant set up for a session.
type Deck struct {
	SessionKey    string          `json:"session_key"`
	ParticipantID string          `json:"participant_id"`
	Deck          json.RawMessage `json:"deck"`
	CreatedAt     time.Time       `json:"created_at"`
}

// WriteDeck stores the deck list once per participant. A second write for
// the same participant is dropped and reported as inserted=false.
func (s *Store) WriteDeck(ctx context.Context, d Deck) (inserted bool, err error) {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO decks (session_key, participant_id, deck, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_key, participant_id) DO NOTHING
	`, d.SessionKey, d.ParticipantID, string(d.Deck), toMillis(d.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("write deck: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write deck: rows affected: %w", err)
	}
	return n > 0, nil
}

// ReadDecks returns the session's deck lists in the order they were set up.
func (s *Store) ReadDecks(ctx context.Context, sessionKey string) ([]Deck, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_key, participant_id, deck, created_at
		FROM decks
		WHERE session_key = ?
		ORDER BY created_at ASC, participant_id ASC
	`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("read decks: %w", err)
	}
	defer rows.Close()

	decks := []Deck{}
	for rows.Next() {
		var (
			d       Deck
			deck    string
			created int64
		)
		if err := rows.Scan(&d.SessionKey, &d.ParticipantID, &deck, &created); err != nil {
			return nil, fmt.Errorf("read decks: scan: %w", err)
		}
		d.Deck = json.RawMessage(deck)
		d.CreatedAt = fromMillis(created)
		decks = append(decks, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read decks: iterate: %w", err)
	}
	return decks, nil
}
