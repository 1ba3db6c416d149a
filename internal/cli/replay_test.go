package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/store"
)

const testDeck = `{"deck":[
	{"cardId":"1","name":"Pikachu","super_type":"Pokémon","count":30},
	{"cardId":"2","name":"Lightning Energy","super_type":"Energy","count":30}
]}`

// createTestDatabase writes one short game (session "s1", room ABCDEF) and
// returns the database path.
func createTestDatabase(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "duel.db")
	ctx := context.Background()

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	_, err = st.CreateSession(ctx, store.Session{Key: "s1", RoomCode: "ABCDEF"})
	require.NoError(t, err)

	hand := `["1","2","3","4","5","6","7"]`
	for _, a := range []struct {
		who     string
		typ     action.Type
		payload string
	}{
		{"alice", action.TypeRoomCreated, `{"roomCode":"ABCDEF"}`},
		{"bob", action.TypePlayerJoined, `{"roomCode":"ABCDEF","role":"opponent"}`},
		{"alice", action.TypeDeckSetup, testDeck},
		{"alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":` + hand + `}`},
		{"alice", action.TypeCardsBenched, `{"from":"hand","cards":["1"]}`},
		{"alice", action.TypeCardsMoved, `{"from":"hand","to":"discard","cards":["missing"]}`},
	} {
		_, err := st.Append(ctx, "s1", a.who, a.typ, json.RawMessage(a.payload))
		require.NoError(t, err)
	}
	return dbPath
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestReplayMissingDatabaseFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewReplayCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayDatabaseNotFound(t *testing.T) {
	_, err := runCommand(t, "replay", "--db", filepath.Join(t.TempDir(), "nope.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestReplayEmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	st.Close()

	out, err := runCommand(t, "replay", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found")
}

func TestReplayText(t *testing.T) {
	dbPath := createTestDatabase(t)

	out, err := runCommand(t, "replay", "--db", dbPath)
	require.NoError(t, err)

	assert.Contains(t, out, "Replay Summary: 1 session(s)")
	assert.Contains(t, out, "✓ Session: s1 (room ABCDEF)")
	assert.Contains(t, out, "Seq 6 from 0: 6 applied, 1 anomalies")
	assert.Contains(t, out, "  player deck=53 hand=6 prizes=0 discard=0 lostzone=0 active=- bench=1")
	assert.Contains(t, out, "✓ All sessions verified deterministic")
}

func TestReplayVerboseListsAnomalies(t *testing.T) {
	dbPath := createTestDatabase(t)

	out, err := runCommand(t, "replay", "--db", dbPath, "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "! seq 6 CARDSMOVED card_not_found")
}

func TestReplayUpToSeq(t *testing.T) {
	dbPath := createTestDatabase(t)

	out, err := runCommand(t, "replay", "--db", dbPath, "--session", "s1", "--seq", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Seq 3 from 0: 3 applied, 0 anomalies")
	assert.Contains(t, out, "player deck=60 hand=0")
}

func TestReplayJSON(t *testing.T) {
	dbPath := createTestDatabase(t)

	out, err := runCommand(t, "--format", "json", "replay", "--db", dbPath)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllDeterministic)
	require.Len(t, resp.Data.Sessions, 1)
	s := resp.Data.Sessions[0]
	assert.Equal(t, "s1", s.SessionKey)
	assert.Equal(t, int64(6), s.Seq)
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, "card_not_found", s.Anomalies[0].Kind)
}

func TestReplayUnknownSession(t *testing.T) {
	dbPath := createTestDatabase(t)

	out, err := runCommand(t, "--format", "json", "replay", "--db", dbPath, "--session", "missing")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestReplayResultRenderNonDeterministic(t *testing.T) {
	buf := &bytes.Buffer{}
	ReplayResult{
		Sessions:      []ReplaySessionResult{{SessionKey: "s1", RoomCode: "ABCDEF", Summary: "player x\nopponent y\n"}},
		TotalSessions: 1,
	}.RenderText(buf, false)

	assert.Contains(t, buf.String(), "✗ Session: s1")
	assert.Contains(t, buf.String(), "Non-deterministic replay detected")
	assert.Contains(t, buf.String(), "✗ Determinism verification failed")
}
