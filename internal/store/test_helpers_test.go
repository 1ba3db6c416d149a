package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// createTestStore opens a fresh store in a temp dir with a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithNow(func() time.Time { return testEpoch }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestSession inserts a waiting session with the given key and room code.
func createTestSession(t *testing.T, s *Store, key, room string) Session {
	t.Helper()
	sess, err := s.CreateSession(context.Background(), Session{Key: key, RoomCode: room})
	if err != nil {
		t.Fatalf("CreateSession(%s) failed: %v", key, err)
	}
	return sess
}
