package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/board"
	"github.com/roach88/duel/internal/card"
)

func rec(seq int64, participant string, t action.Type, payload string) action.Record {
	return action.Record{
		SessionKey:    "s1",
		Seq:           seq,
		ParticipantID: participant,
		Type:          t,
		Payload:       json.RawMessage(payload),
	}
}

func seqIDs(from, to int) string {
	parts := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		parts = append(parts, fmt.Sprintf("%q", fmt.Sprint(i)))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

const deck60 = `{"deck":[
	{"cardId":"1","name":"Pikachu","super_type":"Pokémon","count":15},
	{"cardId":"2","name":"Raichu","super_type":"Pokémon","count":15},
	{"cardId":"3","name":"Potion","super_type":"Trainer","count":15},
	{"cardId":"4","name":"Lightning Energy","super_type":"Energy","count":15}
]}`

func newTestReducer(buf *bytes.Buffer) *Reducer {
	var logger *slog.Logger
	if buf != nil {
		logger = slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return NewReducer(card.EmptyIndex(), logger)
}

func TestReduce_RoundTripOpeningHand(t *testing.T) {
	r := newTestReducer(nil)
	records := []action.Record{
		rec(1, "alice", action.TypeDeckSetup, deck60),
		rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":`+seqIDs(1, 7)+`}`),
		rec(3, "alice", action.TypeCardsMoved, `{"from":"deck","to":"prizes","cards":`+seqIDs(8, 13)+`}`),
	}

	s, applied := r.Fold(NewState(), records, 0)
	assert.Equal(t, 3, applied)

	z := s.Board.Player
	assert.Equal(t, 7, z.Hand.Len())
	assert.Equal(t, 6, z.Prizes.Len())
	assert.Equal(t, 60-13, z.Deck.Len())
	assert.Empty(t, s.Anomalies)
	assert.Equal(t, int64(3), s.Seq)

	// Moved cards keep their identity.
	assert.Equal(t, "1", z.Hand[0].ID)
	assert.Equal(t, "Pikachu", z.Hand[0].Name)
}

func TestReduce_DeckSetupOncePerRole(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	before := s.Board.Player.Deck.Clone()

	s = r.Reduce(s, rec(2, "alice", action.TypeDeckSetup, `{"deck":[{"cardId":"9","count":3}]}`))
	assert.Equal(t, before, s.Board.Player.Deck)

	// The other role still gets its own deck.
	s = r.Reduce(s, rec(3, "bob", action.TypeDeckSetup, `{"deck":[{"cardId":"9","count":3}]}`))
	assert.Equal(t, 3, s.Board.Opponent.Deck.Len())
	assert.True(t, s.DeckSetup[board.RoleOpponent])
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	snapshot := s.Clone()

	_ = r.Reduce(s, rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["1","2"]}`))
	assert.Equal(t, snapshot, s)
}

func TestFold_Deterministic(t *testing.T) {
	r := newTestReducer(nil)
	records := []action.Record{
		rec(1, "alice", action.TypeRoomCreated, `{"roomCode":"ABCDEF"}`),
		rec(2, "bob", action.TypePlayerJoined, `{"roomCode":"ABCDEF"}`),
		rec(3, "alice", action.TypeDeckSetup, deck60),
		rec(4, "bob", action.TypeDeckSetup, deck60),
		rec(5, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":`+seqIDs(1, 7)+`}`),
		rec(6, "alice", action.TypeCardsBenched, `{"from":"hand","cards":[{"cardId":"2"},{"cardId":"3"}]}`),
		rec(7, "alice", action.TypeCardPromoted, `{"from":"hand","cardId":"1"}`),
		rec(8, "bob", action.TypeTurnPassed, `{}`),
	}

	a, _ := r.Fold(NewState(), records, 0)

	// Shuffled input order folds to the same state.
	shuffled := []action.Record{records[4], records[0], records[7], records[2], records[6], records[1], records[5], records[3]}
	b, _ := r.Fold(NewState(), shuffled, 0)

	assert.Equal(t, a, b)
	assert.Equal(t, "slot-6-1", a.Board.Player.Bench[0].ID)
	assert.Equal(t, "slot-7-1", a.Board.Player.Active.ID)
}

func TestFold_UpToAndDuplicates(t *testing.T) {
	r := newTestReducer(nil)
	records := []action.Record{
		rec(1, "alice", action.TypeDeckSetup, deck60),
		rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["1"]}`),
		rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["2"]}`),
		rec(3, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["3"]}`),
	}
	s, applied := r.Fold(NewState(), records, 2)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 1, s.Board.Player.Hand.Len())
	assert.Equal(t, int64(2), s.Seq)
}

func TestReduce_BenchMissingCardIsAnomaly(t *testing.T) {
	var logs bytes.Buffer
	r := newTestReducer(&logs)

	s, _ := r.Fold(NewState(), []action.Record{
		rec(1, "alice", action.TypeRoomCreated, `{}`),
		rec(2, "bob", action.TypePlayerJoined, `{}`),
	}, 0)
	before := s.Board.Clone()

	s = r.Reduce(s, rec(3, "alice", action.TypeCardsBenched, `{"from":"hand","cards":[{"cardId":"7"}]}`))

	assert.Equal(t, before, s.Board)
	assert.Empty(t, s.Board.Player.Bench)
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, KindCardNotFound, s.Anomalies[0].Kind)
	assert.Equal(t, int64(3), s.Anomalies[0].Seq)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "reducer anomaly")
}

func TestReduce_MovedContinuesPastMissingCard(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	s = r.Reduce(s, rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["1","999","2"]}`))

	assert.Equal(t, 2, s.Board.Player.Hand.Len())
	require.Len(t, s.Anomalies, 1)
}

func TestReduce_UnknownPileSkipsAction(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	s = r.Reduce(s, rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"graveyard","cards":["1"]}`))

	assert.Equal(t, 60, s.Board.Player.Deck.Len())
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, KindUnknownPile, s.Anomalies[0].Kind)
}

func TestReduce_LostZoneAlias(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	s = r.Reduce(s, rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"lz","cards":["1"]}`))
	assert.Equal(t, 1, s.Board.Player.LostZone.Len())
}

func TestReduce_BenchCapacity(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	s = r.Reduce(s, rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":`+seqIDs(1, 7)+`}`))
	s = r.Reduce(s, rec(3, "alice", action.TypeCardsBenched, `{"from":"hand","cards":`+seqIDs(1, 7)+`}`))

	assert.Len(t, s.Board.Player.Bench, board.MaxBench)
	assert.Equal(t, 2, s.Board.Player.Hand.Len(), "excess cards stay where they were")
	kinds := map[string]int{}
	for _, a := range s.Anomalies {
		kinds[a.Kind]++
	}
	assert.Equal(t, 2, kinds[KindBenchFull])
}

func TestReduce_PromoteEvolveAttach(t *testing.T) {
	r := newTestReducer(nil)
	s, _ := r.Fold(NewState(), []action.Record{
		rec(1, "alice", action.TypeDeckSetup, deck60),
		// ids 1 Pikachu, 16 Raichu, 31 Potion, 46 Lightning Energy
		rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["1","16","31","46"]}`),
		rec(3, "alice", action.TypeCardPromoted, `{"from":"hand","cardId":1,"slotId":"act"}`),
		rec(4, "alice", action.TypeCardsEvolved, `{"from":"hand","cards":["16"]}`),
		rec(5, "alice", action.TypeCardsAttached, `{"from":"hand","slotId":"act","cards":["46","31"]}`),
	}, 0)

	active := s.Board.Player.Active
	require.NotNil(t, active)
	assert.Equal(t, "act", active.ID)
	assert.Len(t, active.Pokemon, 2)
	top, _ := active.Top()
	assert.Equal(t, "Raichu", top.Name)
	assert.Len(t, active.Energy, 1)
	assert.Len(t, active.Trainer, 1)
	assert.Empty(t, s.Board.Player.Hand)
	assert.Empty(t, s.Anomalies)
}

func TestReduce_EvolveWithoutActive(t *testing.T) {
	r := newTestReducer(nil)
	s, _ := r.Fold(NewState(), []action.Record{
		rec(1, "alice", action.TypeDeckSetup, deck60),
		rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["16"]}`),
	}, 0)
	before := s.Board.Clone()

	s = r.Reduce(s, rec(3, "alice", action.TypeCardsEvolved, `{"from":"hand","cards":["16"]}`))
	assert.Equal(t, before, s.Board)
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, KindNoSlot, s.Anomalies[0].Kind)
}

func TestReduce_AttachFallsBackToBench(t *testing.T) {
	r := newTestReducer(nil)
	s, _ := r.Fold(NewState(), []action.Record{
		rec(1, "alice", action.TypeDeckSetup, deck60),
		rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["1","46"]}`),
		rec(3, "alice", action.TypeCardsBenched, `{"from":"hand","cards":[{"cardId":"1","slotId":"b1"}]}`),
		rec(4, "alice", action.TypeCardsAttached, `{"from":"hand","slotId":"nope","cards":["46"]}`),
	}, 0)

	require.Len(t, s.Board.Player.Bench, 1)
	assert.Equal(t, "b1", s.Board.Player.Bench[0].ID)
	assert.Len(t, s.Board.Player.Bench[0].Energy, 1)
}

func TestReduce_AttachWithoutSlotIsAnomaly(t *testing.T) {
	r := newTestReducer(nil)
	s, _ := r.Fold(NewState(), []action.Record{
		rec(1, "alice", action.TypeDeckSetup, deck60),
		rec(2, "alice", action.TypeCardsMoved, `{"from":"deck","to":"hand","cards":["46"]}`),
		rec(3, "alice", action.TypeCardsAttached, `{"from":"hand","cards":["46"]}`),
	}, 0)

	assert.Equal(t, 1, s.Board.Player.Hand.Len(), "card stays in hand")
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, KindNoSlot, s.Anomalies[0].Kind)
}

func TestReduce_RolesByFirstAppearance(t *testing.T) {
	r := newTestReducer(nil)
	s, _ := r.Fold(NewState(), []action.Record{
		rec(1, "bob", action.TypeRoomCreated, `{}`),
		rec(2, "alice", action.TypePlayerJoined, `{}`),
		rec(3, "alice", action.TypeDeckSetup, `{"deck":[{"cardId":"1","count":2}]}`),
		rec(4, "carol", action.TypeDeckSetup, `{"deck":[{"cardId":"1","count":9}]}`),
	}, 0)

	assert.Equal(t, map[string]board.Role{"bob": board.RolePlayer, "alice": board.RoleOpponent}, s.Roles.Map())
	assert.Equal(t, 2, s.Board.Opponent.Deck.Len())
	assert.Equal(t, 0, s.Board.Player.Deck.Len())
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, KindUnboundParticipant, s.Anomalies[0].Kind)
}

func TestReduce_UnknownTypeIsNoop(t *testing.T) {
	var logs bytes.Buffer
	r := newTestReducer(&logs)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	before := s.Board.Clone()

	s = r.Reduce(s, rec(2, "alice", "GAMESTARTED", `{"x":1}`))
	assert.Equal(t, before, s.Board)
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, KindUnknownType, s.Anomalies[0].Kind)
	assert.Contains(t, logs.String(), "GAMESTARTED")
}

func TestReduce_TimelineOnlyTypes(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	before := s.Board.Clone()

	for i, typ := range []action.Type{
		action.TypePrizesFlipped, action.TypeTurnPassed, action.TypeGameWon, action.TypeGameReset,
		action.TypeChatMessage, action.TypePlayerDisconnected, action.TypeCardDetails,
	} {
		s = r.Reduce(s, rec(int64(i+2), "alice", typ, `{}`))
	}
	assert.Equal(t, before, s.Board)
	assert.Empty(t, s.Anomalies)
}

func TestReduce_BoardStatePreservesKnownDeck(t *testing.T) {
	idx := card.NewIndex([]card.Card{{TemplateID: "77", Name: "Eevee"}})
	r := NewReducer(idx, nil)

	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	s = r.Reduce(s, rec(2, "alice", action.TypeBoardState,
		`{"board":{"deck":{"count":53},"hand":[77,78],"prizes":{"count":6},"active":null,"bench":[]}}`))

	z := s.Board.Player
	assert.Equal(t, 60, z.Deck.Len(), "known deck kept")
	assert.False(t, z.Deck.HasPlaceholders())
	require.Equal(t, 2, z.Hand.Len())
	assert.Equal(t, "Eevee", z.Hand[0].Name)
	assert.Equal(t, "Unknown Card 78", z.Hand[1].Name)
	assert.Equal(t, 6, z.Prizes.Len())
}

func TestReduce_BoardStatePlaceholderDeck(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "bob", action.TypeBoardState, `{"seq":50,"board":{"deck":{"count":40}}}`))
	assert.Equal(t, 40, s.Board.Player.Deck.Len())
	assert.True(t, s.Board.Player.Deck.HasPlaceholders())
}

func TestReduce_SlimmedMoveUsesSample(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeDeckSetup, deck60))
	s = r.Reduce(s, rec(2, "alice", action.TypeCardsMoved,
		`{"from":"deck","to":"discard","cards":{"count":55,"sample":["1","2","3","4","5"]}}`))

	assert.Equal(t, 5, s.Board.Player.Discard.Len())
	assert.Equal(t, 55, s.Board.Player.Deck.Len())
}

func TestReduce_PileCountBounds(t *testing.T) {
	r := newTestReducer(nil)
	s := r.Reduce(NewState(), rec(1, "alice", action.TypeBoardState,
		`{"board":{"hand":{"count":-1},"discard":[1],"active":{"pokemon":{"count":-5}}}}`))
	assert.Empty(t, s.Anomalies)
	assert.Equal(t, 0, s.Board.Player.Hand.Len())
	assert.Equal(t, 1, s.Board.Player.Discard.Len())
	require.NotNil(t, s.Board.Player.Active)
	assert.Empty(t, s.Board.Player.Active.Pokemon)

	// An impossible count leaves the zone as it was.
	s = r.Reduce(s, rec(2, "alice", action.TypeBoardState,
		`{"board":{"deck":{"count":9223372036854775807}}}`))
	require.Len(t, s.Anomalies, 1)
	assert.Equal(t, KindBadPayload, s.Anomalies[0].Kind)
	assert.Contains(t, s.Anomalies[0].Detail, "deck count")
	assert.Equal(t, 1, s.Board.Player.Discard.Len())
	assert.Equal(t, int64(2), s.Seq)
}

func TestReduce_OversizedDeckSetupIsAnomaly(t *testing.T) {
	r := newTestReducer(nil)
	records := []action.Record{
		rec(1, "alice", action.TypeDeckSetup, `{"deck":[{"cardId":"1","count":2000000000}]}`),
		rec(2, "alice", action.TypeDeckSetup, `{"deck":[{"cardId":"1","count":-3}]}`),
		rec(3, "alice", action.TypeDeckSetup, `{"deck":[{"cardId":"1","count":8}]}`),
	}

	s, applied := r.Fold(NewState(), records, 0)
	assert.Equal(t, 3, applied)
	require.Len(t, s.Anomalies, 2)
	for _, a := range s.Anomalies {
		assert.Equal(t, KindBadPayload, a.Kind)
	}
	assert.Equal(t, 8, s.Board.Player.Deck.Len())
}
