package replay

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/roach88/duel/internal/action"
	"github.com/roach88/duel/internal/board"
	"github.com/roach88/duel/internal/card"
)

// Reducer applies one record at a time to a State.
// It is safe for concurrent use; it holds no per-fold state.
type Reducer struct {
	index  *card.Index
	logger *slog.Logger
}

// NewReducer returns a reducer resolving bare card ids through idx.
// A nil logger discards output.
func NewReducer(idx *card.Index, logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if idx == nil {
		idx = card.EmptyIndex()
	}
	return &Reducer{index: idx, logger: logger}
}

// Reduce returns the state after rec. s is never modified.
func (r *Reducer) Reduce(s State, rec action.Record) State {
	next := s.Clone()
	if rec.Seq > next.Seq {
		next.Seq = rec.Seq
	}

	role := board.RolePlayer
	if rec.ParticipantID != "" {
		var bound bool
		next.Roles, bound = next.Roles.bind(rec.ParticipantID)
		if !bound {
			r.anomaly(&next, rec, "", KindUnboundParticipant, rec.ParticipantID)
			return next
		}
		role, _ = next.Roles.RoleOf(rec.ParticipantID)
	}

	t := action.ParseType(string(rec.Type))
	p, err := action.Decode(t, rec.Payload)
	if errors.Is(err, action.ErrUnknownType) {
		r.anomaly(&next, rec, role, KindUnknownType, string(rec.Type))
		return next
	}
	if err != nil {
		r.anomaly(&next, rec, role, KindBadPayload, err.Error())
		return next
	}

	a := apply{r: r, state: &next, rec: rec, role: role, zone: next.Board.Zone(role)}
	switch p := p.(type) {
	case *action.DeckSetup:
		a.deckSetup(p)
	case *action.BoardState:
		a.boardState(p)
	case *action.CardsMoved:
		a.cardsMoved(p)
	case *action.CardsBenched:
		a.cardsBenched(p)
	case *action.CardPromoted:
		a.cardPromoted(p)
	case *action.CardsEvolved:
		a.cardsEvolved(p)
	case *action.CardsAttached:
		a.cardsAttached(p)
	default:
		// Timeline-only variants.
	}
	return next
}

// Fold applies records with s.Seq < seq <= upTo in ascending seq order.
// upTo <= 0 means no bound. Records are sorted first; duplicates of an
// already applied seq are skipped.
func (r *Reducer) Fold(s State, records []action.Record, upTo int64) (State, int) {
	ordered := make([]action.Record, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	applied := 0
	for _, rec := range ordered {
		if rec.Seq <= s.Seq {
			continue
		}
		if upTo > 0 && rec.Seq > upTo {
			break
		}
		s = r.Reduce(s, rec)
		applied++
	}
	return s, applied
}

// SeedZone replaces role's zone from a raw board view, keeping a known deck.
// It is how both BOARDSTATE records and snapshots are applied.
func (r *Reducer) SeedZone(s State, role board.Role, view []byte) (State, error) {
	next := s.Clone()
	if err := r.seedZone(next.Board.Zone(role), view); err != nil {
		return s, err
	}
	return next, nil
}

func (r *Reducer) seedZone(current *board.Zone, view []byte) error {
	zone, err := board.DecodeView(view, r.index)
	if err != nil {
		return err
	}
	if current.Deck.Len() > 0 && !current.Deck.HasPlaceholders() {
		zone.Deck = current.Deck.Clone()
	}
	*current = zone
	return nil
}

func (r *Reducer) anomaly(s *State, rec action.Record, role board.Role, kind, detail string) {
	r.logger.Warn("reducer anomaly",
		"session", rec.SessionKey,
		"seq", rec.Seq,
		"type", string(rec.Type),
		"role", string(role),
		"kind", kind,
		"detail", detail,
	)
	s.Anomalies = append(s.Anomalies, Anomaly{
		Seq:    rec.Seq,
		Type:   rec.Type,
		Role:   role,
		Kind:   kind,
		Detail: detail,
	})
}

// apply carries the per-record context for the effect functions.
// zone points into state.Board, which is already a private copy.
type apply struct {
	r     *Reducer
	state *State
	rec   action.Record
	role  board.Role
	zone  *board.Zone
	slots int
}

func (a *apply) anomaly(kind, detail string) {
	a.r.anomaly(a.state, a.rec, a.role, kind, detail)
}

// slotID returns the payload's slot id or a deterministic one.
func (a *apply) slotID(given string) string {
	if given != "" {
		return given
	}
	a.slots++
	return fmt.Sprintf("slot-%d-%d", a.rec.Seq, a.slots)
}

// take removes ref from source, trying each id the ref is known by.
func (a *apply) take(source string, ref action.CardRef) (card.Instance, bool) {
	for _, id := range ref.Candidates() {
		if c, ok := a.zone.TakeFrom(source, id); ok {
			if board.IsSlotSource(source) {
				a.zone.PruneBench()
			}
			return c, true
		}
	}
	a.anomaly(KindCardNotFound, fmt.Sprintf("card %q not in %s", ref.ID, source))
	return card.Instance{}, false
}

func (a *apply) knownSource(source string) bool {
	if a.zone.KnowsSource(source) {
		return true
	}
	a.anomaly(KindUnknownPile, source)
	return false
}

func (a *apply) deckSetup(p *action.DeckSetup) {
	if a.state.DeckSetup[a.role] || a.zone.Deck.Len() > 0 {
		a.r.logger.Debug("deck setup ignored",
			"session", a.rec.SessionKey, "seq", a.rec.Seq, "role", string(a.role))
		return
	}

	deck := make(board.Pile, 0, p.Size())
	n := 1
	for _, e := range p.Deck {
		tmpl := a.template(e.Card)
		for i := 0; i < e.Copies(); i++ {
			deck = append(deck, card.Instance{ID: strconv.Itoa(n), Card: tmpl})
			n++
		}
	}
	a.zone.Deck = deck
	a.state.DeckSetup[a.role] = true
}

// template fills in missing metadata for a deck entry from the index.
func (a *apply) template(c card.Card) card.Card {
	known, ok := a.r.index.Lookup(c.TemplateID)
	if !ok {
		return c
	}
	if c.Name == "" {
		c.Name = known.Name
	}
	if c.Set == "" {
		c.Set = known.Set
	}
	if c.Number == "" {
		c.Number = known.Number
	}
	if c.SuperType == "" {
		c.SuperType = known.SuperType
	}
	return c
}

func (a *apply) boardState(p *action.BoardState) {
	if isNullJSON(p.Board) {
		return
	}
	if err := a.r.seedZone(a.zone, p.Board); err != nil {
		a.anomaly(KindBadPayload, err.Error())
	}
}

func isNullJSON(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func (a *apply) cardsMoved(p *action.CardsMoved) {
	if !a.knownSource(p.From) {
		return
	}
	dst, ok := a.zone.Pile(p.To)
	if !ok {
		a.anomaly(KindUnknownPile, p.To)
		return
	}
	for _, ref := range p.Cards {
		if c, ok := a.take(p.From, ref); ok {
			dst.Add(c)
		}
	}
}

func (a *apply) cardsBenched(p *action.CardsBenched) {
	if !a.knownSource(p.From) {
		return
	}
	for _, ref := range p.Cards {
		if a.zone.BenchFull() {
			a.anomaly(KindBenchFull, fmt.Sprintf("card %q", ref.ID))
			continue
		}
		c, ok := a.take(p.From, ref)
		if !ok {
			continue
		}
		a.zone.Bench = append(a.zone.Bench, board.NewSlot(a.slotID(ref.SlotID), c))
	}
}

func (a *apply) cardPromoted(p *action.CardPromoted) {
	if !a.knownSource(p.From) {
		return
	}
	c, ok := a.take(p.From, action.CardRef{ID: p.CardID.String()})
	if !ok {
		return
	}
	a.zone.Active = board.NewSlot(a.slotID(p.SlotID.String()), c)
}

func (a *apply) cardsEvolved(p *action.CardsEvolved) {
	if !a.knownSource(p.From) {
		return
	}
	if a.zone.Active == nil {
		a.anomaly(KindNoSlot, "no active slot to evolve")
		return
	}
	ref, ok := p.Cards.First()
	if !ok {
		a.anomaly(KindCardNotFound, "no card given")
		return
	}
	if c, ok := a.take(p.From, ref); ok {
		a.zone.Active.Pokemon.Add(c)
	}
}

func (a *apply) cardsAttached(p *action.CardsAttached) {
	if !a.knownSource(p.From) {
		return
	}
	dest := a.zone.FindSlot(p.SlotID.String())
	if dest == nil {
		dest = a.zone.Active
	}
	if dest == nil && len(a.zone.Bench) > 0 {
		dest = a.zone.Bench[0]
	}
	if dest == nil {
		a.anomaly(KindNoSlot, "no slot to attach to")
		return
	}
	destID := dest.ID
	for _, ref := range p.Cards {
		c, ok := a.take(p.From, ref)
		if !ok {
			continue
		}
		// Taking from a bench slot may have pruned it; re-resolve by id.
		if target := a.zone.FindSlot(destID); target != nil {
			target.Attach(c)
			continue
		}
		a.anomaly(KindNoSlot, fmt.Sprintf("slot %q vanished", destID))
	}
}
