// Package card provides the read-only Card Index and card instance types.
//
// A Card is template metadata (what is printed on the card). An Instance is
// one physical copy of a card on a board, carrying a per-board unique id so
// two copies of the same template can be located and moved individually.
//
// This package imports nothing internal.
package card

import (
	"strconv"
	"strings"
)

// Card is immutable template metadata for a card.
type Card struct {
	TemplateID string `json:"cardId,omitempty" yaml:"cardId,omitempty"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Set        string `json:"set,omitempty" yaml:"set,omitempty"`
	Number     string `json:"number,omitempty" yaml:"number,omitempty"`
	SuperType  string `json:"super_type,omitempty" yaml:"super_type,omitempty"`
}

// IsEnergy reports whether the card attaches to the energy collection of a slot.
func (c Card) IsEnergy() bool {
	return strings.EqualFold(c.SuperType, "energy")
}

// Instance is a single physical copy of a card on a board.
type Instance struct {
	ID string `json:"id"`
	Card
}

// DeckSize is the size of a full deck. No pile can hold more cards.
const DeckSize = 60

// PlaceholderID marks deck instances whose identity is unknown (the payload
// only carried a count).
const PlaceholderID = "deck_card"

// Placeholder returns an instance standing in for a card of unknown identity.
func Placeholder() Instance {
	return Instance{ID: PlaceholderID, Card: Card{Name: "Deck Card"}}
}

// IsPlaceholder reports whether the instance has no known identity.
func (i Instance) IsPlaceholder() bool {
	return i.ID == PlaceholderID
}

// NormalizeID canonicalizes an instance or template id so that ids that
// arrived as JSON numbers and ids that arrived as strings compare equal.
// Purely numeric ids lose leading zeros ("007" and 7 both become "7").
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	if f, err := strconv.ParseFloat(id, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return id
}

// SameID reports whether two ids refer to the same instance.
func SameID(a, b string) bool {
	return NormalizeID(a) == NormalizeID(b)
}
