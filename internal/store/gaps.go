package store

import (
	"context"
	"fmt"
)

// Gap describes a session whose counter and stored rows disagree.
// Append never produces one; a Gap means the log was written some other way
// or rows were lost.
type Gap struct {
	SessionKey  string `json:"session_key"`
	ActionCount int64  `json:"action_count"`
	Rows        int64  `json:"rows"`
	MaxSeq      int64  `json:"max_seq"`
}

// FindGaps returns every session whose action_count differs from its row
// count, or whose highest seq differs from its row count.
func (s *Store) FindGaps(ctx context.Context) ([]Gap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.session_key, s.action_count, COUNT(a.seq), COALESCE(MAX(a.seq), 0)
		FROM sessions s
		LEFT JOIN actions a ON a.session_key = s.session_key
		GROUP BY s.session_key, s.action_count
		HAVING s.action_count != COUNT(a.seq) OR COALESCE(MAX(a.seq), 0) != COUNT(a.seq)
		ORDER BY s.session_key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("find gaps: %w", err)
	}
	defer rows.Close()

	gaps := []Gap{}
	for rows.Next() {
		var g Gap
		if err := rows.Scan(&g.SessionKey, &g.ActionCount, &g.Rows, &g.MaxSeq); err != nil {
			return nil, fmt.Errorf("find gaps: scan: %w", err)
		}
		gaps = append(gaps, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find gaps: iterate: %w", err)
	}
	return gaps, nil
}
