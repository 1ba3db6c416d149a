package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Snapshot is a participant's full board view captured at Seq.
type Snapshot struct {
	SessionKey    string          `json:"session_key"`
	Seq           int64           `json:"seq"`
	ParticipantID string          `json:"participant_id"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

const (
	encodingZstd = "zstd"
	encodingJSON = "json"
)

// Encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zenc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zdec, _ = zstd.NewReader(nil)
)

// WriteSnapshot stores snap unless a snapshot already exists for
// (SessionKey, Seq). inserted reports whether this call wrote the row.
// A duplicate key is not an error.
func (s *Store) WriteSnapshot(ctx context.Context, snap Snapshot) (inserted bool, err error) {
	if len(snap.Payload) == 0 {
		return false, fmt.Errorf("write snapshot: empty payload")
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = s.now()
	}
	blob := zenc.EncodeAll(snap.Payload, nil)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (session_key, seq, participant_id, encoding, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key, seq) DO NOTHING
	`, snap.SessionKey, snap.Seq, snap.ParticipantID, encodingZstd, blob, toMillis(snap.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("write snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write snapshot: rows affected: %w", err)
	}
	return n > 0, nil
}

// LatestSnapshot returns the snapshot with the greatest seq <= upTo.
// upTo <= 0 means no bound. found is false when none exists.
func (s *Store) LatestSnapshot(ctx context.Context, sessionKey string, upTo int64) (snap Snapshot, found bool, err error) {
	query := `
		SELECT session_key, seq, participant_id, encoding, payload, created_at
		FROM snapshots
		WHERE session_key = ?`
	args := []any{sessionKey}
	if upTo > 0 {
		query += ` AND seq <= ?`
		args = append(args, upTo)
	}
	query += ` ORDER BY seq DESC LIMIT 1`

	var (
		enc     string
		blob    []byte
		created int64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&snap.SessionKey, &snap.Seq, &snap.ParticipantID, &enc, &blob, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}

	payload, err := decodePayload(enc, blob)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("latest snapshot seq %d: %w", snap.Seq, err)
	}
	snap.Payload = payload
	snap.CreatedAt = fromMillis(created)
	return snap, true, nil
}

func decodePayload(enc string, blob []byte) (json.RawMessage, error) {
	switch enc {
	case encodingZstd:
		out, err := zdec.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
		return out, nil
	case encodingJSON, "":
		return json.RawMessage(blob), nil
	}
	return nil, fmt.Errorf("unknown payload encoding %q", enc)
}
