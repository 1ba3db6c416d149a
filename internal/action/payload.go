package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/duel/internal/card"
)

// Payload is the typed body of one action variant.
type Payload interface {
	ActionType() Type
}

// DeckEntry is one line of a deck list: a card template and how many copies.
// A bare id is accepted and counts as one copy.
type DeckEntry struct {
	Card  card.Card
	Count int
}

// Copies returns the number of instances the entry expands to (at least one).
func (e DeckEntry) Copies() int {
	if e.Count < 1 {
		return 1
	}
	return e.Count
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *DeckEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] != '{' {
		id, err := scalarID(data)
		if err != nil {
			return fmt.Errorf("deck entry: %w", err)
		}
		*e = DeckEntry{Card: card.Card{TemplateID: id}, Count: 1}
		return nil
	}

	var obj struct {
		CardID    json.RawMessage `json:"cardId"`
		ID        json.RawMessage `json:"id"`
		Name      string          `json:"name"`
		Set       json.RawMessage `json:"set"`
		Number    json.RawMessage `json:"number"`
		SuperType string          `json:"super_type"`
		Alt       string          `json:"supertype"`
		Count     int             `json:"count"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("deck entry: %w", err)
	}

	tmpl, err := scalarID(obj.CardID)
	if err != nil {
		return fmt.Errorf("deck entry cardId: %w", err)
	}
	if tmpl == "" {
		if tmpl, err = scalarID(obj.ID); err != nil {
			return fmt.Errorf("deck entry id: %w", err)
		}
	}
	superType := obj.SuperType
	if superType == "" {
		superType = obj.Alt
	}

	*e = DeckEntry{
		Card: card.Card{
			TemplateID: tmpl,
			Name:       obj.Name,
			Set:        literal(obj.Set),
			Number:     literal(obj.Number),
			SuperType:  superType,
		},
		Count: obj.Count,
	}
	return nil
}

// literal renders a JSON string or number as text without normalizing it.
func literal(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

// DeckSetup carries the full deck list. It is stored verbatim.
type DeckSetup struct {
	Deck []DeckEntry `json:"deck" validate:"required,min=1"`
}

func (*DeckSetup) ActionType() Type { return TypeDeckSetup }

// Size returns the number of card instances the deck expands to.
func (d *DeckSetup) Size() int {
	n := 0
	for _, e := range d.Deck {
		n += e.Copies()
	}
	return n
}

type CardsMoved struct {
	From  string   `json:"from" validate:"required"`
	To    string   `json:"to" validate:"required"`
	Cards CardRefs `json:"cards"`
}

func (*CardsMoved) ActionType() Type { return TypeCardsMoved }

type CardsBenched struct {
	From  string   `json:"from" validate:"required"`
	Cards CardRefs `json:"cards"`
}

func (*CardsBenched) ActionType() Type { return TypeCardsBenched }

type CardsAttached struct {
	From   string   `json:"from" validate:"required"`
	SlotID FlexID   `json:"slotId"`
	Cards  CardRefs `json:"cards"`
}

func (*CardsAttached) ActionType() Type { return TypeCardsAttached }

type CardsEvolved struct {
	From  string   `json:"from" validate:"required"`
	Cards CardRefs `json:"cards"`
}

func (*CardsEvolved) ActionType() Type { return TypeCardsEvolved }

type CardPromoted struct {
	From   string `json:"from" validate:"required"`
	CardID FlexID `json:"cardId" validate:"required"`
	SlotID FlexID `json:"slotId"`
}

func (*CardPromoted) ActionType() Type { return TypeCardPromoted }

type PrizesFlipped struct {
	Count        int      `json:"count" validate:"gte=0"`
	DrawnCardIDs []FlexID `json:"drawnCardIds"`
}

func (*PrizesFlipped) ActionType() Type { return TypePrizesFlipped }

// BoardState is a participant's full view of its own zone, sent in answer to
// a snapshot request (Seq set) or spontaneously (Seq nil).
type BoardState struct {
	Seq   *int64          `json:"seq" validate:"omitempty,gte=0"`
	Board json.RawMessage `json:"board"`
}

func (*BoardState) ActionType() Type { return TypeBoardState }

// IsSnapshot reports whether the payload answers a snapshot request.
func (b *BoardState) IsSnapshot() bool {
	return b.Seq != nil && len(b.Board) > 0 && !bytes.Equal(bytes.TrimSpace(b.Board), []byte("null"))
}

type ChatMessage struct {
	Message string `json:"message"`
	Kind    string `json:"type"`
}

func (*ChatMessage) ActionType() Type { return TypeChatMessage }

// Lifecycle is written by the server for room creation, joins and disconnects.
type Lifecycle struct {
	Type     Type   `json:"-"`
	RoomCode string `json:"roomCode,omitempty"`
}

func (l *Lifecycle) ActionType() Type { return l.Type }

// Marker covers variants that never touch the board. The body is kept as-is.
type Marker struct {
	Type Type            `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

func (m *Marker) ActionType() Type { return m.Type }
