// Package board holds the reducer's working value: two symmetric zones of
// piles and slots. Every "find and remove" goes through Pile.Take or
// Slot.Take, which is the only place instance ids are compared.
package board

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/duel/internal/card"
)

// Role is a seat at the table.
type Role string

const (
	RolePlayer   Role = "player"
	RoleOpponent Role = "opponent"
)

// Other returns the opposing role.
func (r Role) Other() Role {
	if r == RoleOpponent {
		return RolePlayer
	}
	return RoleOpponent
}

// MaxBench is the number of bench slots a zone may hold.
const MaxBench = 5

// Pile is an ordered collection of card instances.
type Pile []card.Instance

// Take removes and returns the first instance whose id matches.
func (p *Pile) Take(id string) (card.Instance, bool) {
	id = card.NormalizeID(id)
	if id == "" {
		return card.Instance{}, false
	}
	for i, c := range *p {
		if card.NormalizeID(c.ID) == id {
			out := c
			*p = append((*p)[:i:i], (*p)[i+1:]...)
			return out, true
		}
	}
	return card.Instance{}, false
}

// Add appends instances to the end of the pile.
func (p *Pile) Add(cards ...card.Instance) {
	*p = append(*p, cards...)
}

// Len returns the number of instances.
func (p Pile) Len() int { return len(p) }

// HasPlaceholders reports whether any instance has unknown identity.
func (p Pile) HasPlaceholders() bool {
	for _, c := range p {
		if c.IsPlaceholder() {
			return true
		}
	}
	return false
}

// Clone returns an independent copy. The result is never nil.
func (p Pile) Clone() Pile {
	out := make(Pile, len(p))
	copy(out, p)
	return out
}

// MarshalJSON renders a nil pile as an empty array.
func (p Pile) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]card.Instance(p))
}

// Slot is an active or bench position.
type Slot struct {
	ID      string `json:"id"`
	Pokemon Pile   `json:"pokemon"`
	Energy  Pile   `json:"energy"`
	Trainer Pile   `json:"trainer"`
	Damage  int    `json:"damage"`
	Marker  bool   `json:"marker"`
}

// NewSlot returns a slot holding c as its only Pokémon.
func NewSlot(id string, c card.Instance) *Slot {
	return &Slot{
		ID:      id,
		Pokemon: Pile{c},
		Energy:  Pile{},
		Trainer: Pile{},
	}
}

// Take removes an instance from the slot's Pokémon, energy or trainer cards,
// searched in that order.
func (s *Slot) Take(id string) (card.Instance, bool) {
	for _, p := range []*Pile{&s.Pokemon, &s.Energy, &s.Trainer} {
		if c, ok := p.Take(id); ok {
			return c, true
		}
	}
	return card.Instance{}, false
}

// Attach adds c to the energy cards if it is an energy, otherwise to the
// trainer cards.
func (s *Slot) Attach(c card.Instance) {
	if c.IsEnergy() {
		s.Energy.Add(c)
		return
	}
	s.Trainer.Add(c)
}

// Top returns the most recently added Pokémon.
func (s *Slot) Top() (card.Instance, bool) {
	if len(s.Pokemon) == 0 {
		return card.Instance{}, false
	}
	return s.Pokemon[len(s.Pokemon)-1], true
}

// Clone returns a deep copy; nil stays nil.
func (s *Slot) Clone() *Slot {
	if s == nil {
		return nil
	}
	return &Slot{
		ID:      s.ID,
		Pokemon: s.Pokemon.Clone(),
		Energy:  s.Energy.Clone(),
		Trainer: s.Trainer.Clone(),
		Damage:  s.Damage,
		Marker:  s.Marker,
	}
}

// Zone is one role's half of the board.
type Zone struct {
	Deck     Pile    `json:"deck"`
	Hand     Pile    `json:"hand"`
	Discard  Pile    `json:"discard"`
	LostZone Pile    `json:"lostzone"`
	Prizes   Pile    `json:"prizes"`
	Table    Pile    `json:"table"`
	Active   *Slot   `json:"active"`
	Bench    []*Slot `json:"bench"`
}

// Pile resolves a pile by its wire name. "lz" is accepted for the lost zone.
// Slots are not piles; see TakeFrom.
func (z *Zone) Pile(name string) (*Pile, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "deck":
		return &z.Deck, true
	case "hand":
		return &z.Hand, true
	case "discard":
		return &z.Discard, true
	case "lostzone", "lz":
		return &z.LostZone, true
	case "prizes":
		return &z.Prizes, true
	case "table":
		return &z.Table, true
	}
	return nil, false
}

// IsSlotSource reports whether name addresses the active or bench slots.
func IsSlotSource(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "active", "bench":
		return true
	}
	return false
}

// TakeFrom removes instance id from the named source. A source of "active"
// or "bench" searches the matching slots. An unknown source finds nothing.
func (z *Zone) TakeFrom(source, id string) (card.Instance, bool) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "active":
		if z.Active == nil {
			return card.Instance{}, false
		}
		return z.Active.Take(id)
	case "bench":
		for _, s := range z.Bench {
			if c, ok := s.Take(id); ok {
				return c, true
			}
		}
		return card.Instance{}, false
	}
	p, ok := z.Pile(source)
	if !ok {
		return card.Instance{}, false
	}
	return p.Take(id)
}

// KnowsSource reports whether source names a pile or slot group.
func (z *Zone) KnowsSource(source string) bool {
	if IsSlotSource(source) {
		return true
	}
	_, ok := z.Pile(source)
	return ok
}

// BenchFull reports whether no bench slot is free.
func (z *Zone) BenchFull() bool {
	return len(z.Bench) >= MaxBench
}

// PruneBench drops bench slots that no longer hold any card.
func (z *Zone) PruneBench() {
	kept := z.Bench[:0:0]
	for _, s := range z.Bench {
		if len(s.Pokemon)+len(s.Energy)+len(s.Trainer) > 0 {
			kept = append(kept, s)
		}
	}
	z.Bench = kept
}

// FindSlot returns the active or bench slot with the given id.
func (z *Zone) FindSlot(id string) *Slot {
	if id == "" {
		return nil
	}
	if z.Active != nil && z.Active.ID == id {
		return z.Active
	}
	for _, s := range z.Bench {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone returns a deep copy with no nil piles.
func (z Zone) Clone() Zone {
	bench := make([]*Slot, 0, len(z.Bench))
	for _, s := range z.Bench {
		bench = append(bench, s.Clone())
	}
	return Zone{
		Deck:     z.Deck.Clone(),
		Hand:     z.Hand.Clone(),
		Discard:  z.Discard.Clone(),
		LostZone: z.LostZone.Clone(),
		Prizes:   z.Prizes.Clone(),
		Table:    z.Table.Clone(),
		Active:   z.Active.Clone(),
		Bench:    bench,
	}
}

// Summary renders the zone as one stable line (without the role).
func (z Zone) Summary() string {
	return fmt.Sprintf("deck=%d hand=%d prizes=%d discard=%d lostzone=%d active=%s bench=%d",
		len(z.Deck), len(z.Hand), len(z.Prizes), len(z.Discard), len(z.LostZone),
		slotSummary(z.Active), len(z.Bench))
}

func slotSummary(s *Slot) string {
	if s == nil {
		return "-"
	}
	name := "?"
	if top, ok := s.Top(); ok {
		name = top.Name
		if name == "" {
			name = top.ID
		}
	}
	return fmt.Sprintf("%s/p%d/e%d/t%d", strings.ReplaceAll(name, " ", "_"),
		len(s.Pokemon), len(s.Energy), len(s.Trainer))
}

// Board is the full two-zone state.
type Board struct {
	Player   Zone `json:"player"`
	Opponent Zone `json:"opponent"`
}

// Empty returns a board with both zones empty.
func Empty() Board {
	return Board{Player: Zone{}.Clone(), Opponent: Zone{}.Clone()}
}

// Zone returns the zone for role.
func (b *Board) Zone(r Role) *Zone {
	if r == RoleOpponent {
		return &b.Opponent
	}
	return &b.Player
}

// Clone returns a deep copy.
func (b Board) Clone() Board {
	return Board{Player: b.Player.Clone(), Opponent: b.Opponent.Clone()}
}

// Summary renders both zones, player first, one line each.
func (b Board) Summary() string {
	return fmt.Sprintf("player %s\nopponent %s\n", b.Player.Summary(), b.Opponent.Summary())
}
