package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/duel/internal/card"
)

// DecodeView parses a participant's own-zone view as sent in a boardState
// event. Pile entries may be bare ids (resolved through idx), card objects
// (id or _id), or a slimmed {"count": n} summary, which yields n
// placeholders. A negative count is an empty pile; a count above
// card.DeckSize is an error.
func DecodeView(raw json.RawMessage, idx *card.Index) (Zone, error) {
	var v struct {
		Deck     json.RawMessage `json:"deck"`
		Hand     json.RawMessage `json:"hand"`
		Discard  json.RawMessage `json:"discard"`
		LZ       json.RawMessage `json:"lz"`
		LostZone json.RawMessage `json:"lostzone"`
		Prizes   json.RawMessage `json:"prizes"`
		Table    json.RawMessage `json:"table"`
		Active   json.RawMessage `json:"active"`
		Bench    json.RawMessage `json:"bench"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Zone{}, fmt.Errorf("decode board view: %w", err)
	}

	z := Zone{}.Clone()
	var err error
	piles := []struct {
		name string
		raw  json.RawMessage
		dst  *Pile
	}{
		{"deck", v.Deck, &z.Deck},
		{"hand", v.Hand, &z.Hand},
		{"discard", v.Discard, &z.Discard},
		{"lostzone", firstPresent(v.LZ, v.LostZone), &z.LostZone},
		{"prizes", v.Prizes, &z.Prizes},
		{"table", v.Table, &z.Table},
	}
	for _, p := range piles {
		if *p.dst, err = decodePile(p.name, p.raw, idx); err != nil {
			return Zone{}, fmt.Errorf("decode board view %s: %w", p.name, err)
		}
	}

	if z.Active, err = decodeSlot(v.Active, "active", idx); err != nil {
		return Zone{}, fmt.Errorf("decode board view active: %w", err)
	}
	if z.Bench, err = decodeBench(v.Bench, idx); err != nil {
		return Zone{}, fmt.Errorf("decode board view bench: %w", err)
	}
	return z, nil
}

func firstPresent(raws ...json.RawMessage) json.RawMessage {
	for _, r := range raws {
		if !isNull(r) {
			return r
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func decodePile(name string, raw json.RawMessage, idx *card.Index) (Pile, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) {
		return Pile{}, nil
	}
	if raw[0] == '{' {
		var summary struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(raw, &summary); err != nil {
			return nil, err
		}
		if summary.Count > card.DeckSize {
			return nil, fmt.Errorf("%s count %d exceeds %d", name, summary.Count, card.DeckSize)
		}
		n := max(summary.Count, 0)
		out := make(Pile, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, card.Placeholder())
		}
		return out, nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	out := make(Pile, 0, len(entries))
	for i, e := range entries {
		inst, err := decodeInstance(e, idx)
		if err != nil {
			return nil, err
		}
		if inst.ID == "" {
			inst.ID = fmt.Sprintf("%s-%d", name, i+1)
		}
		out = append(out, inst)
	}
	return out, nil
}

func decodeInstance(raw json.RawMessage, idx *card.Index) (card.Instance, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] != '{' {
		id, err := rawID(raw)
		if err != nil {
			return card.Instance{}, err
		}
		return resolve(id, idx), nil
	}

	var obj struct {
		ID        json.RawMessage `json:"id"`
		UID       json.RawMessage `json:"_id"`
		CardID    json.RawMessage `json:"cardId"`
		Name      string          `json:"name"`
		Set       json.RawMessage `json:"set"`
		Number    json.RawMessage `json:"number"`
		SuperType string          `json:"super_type"`
		Alt       string          `json:"supertype"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return card.Instance{}, err
	}
	id, err := rawID(firstPresent(obj.ID, obj.UID))
	if err != nil {
		return card.Instance{}, err
	}
	tmpl, err := rawID(obj.CardID)
	if err != nil {
		return card.Instance{}, err
	}
	inst := card.Instance{
		ID: id,
		Card: card.Card{
			TemplateID: tmpl,
			Name:       obj.Name,
			Set:        text(obj.Set),
			Number:     text(obj.Number),
			SuperType:  obj.SuperType,
		},
	}
	if inst.SuperType == "" {
		inst.SuperType = obj.Alt
	}
	return inst, nil
}

// resolve turns a bare id into an instance using the index, falling back to
// an "Unknown Card" stub.
func resolve(id string, idx *card.Index) card.Instance {
	if c, ok := idx.Lookup(id); ok {
		return card.Instance{ID: id, Card: c}
	}
	return card.Instance{ID: id, Card: card.Card{Name: "Unknown Card " + id}}
}

func rawID(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return card.NormalizeID(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("id must be a string or number, got %s", raw)
	}
	return card.NormalizeID(n.String()), nil
}

func text(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func decodeSlot(raw json.RawMessage, fallbackID string, idx *card.Index) (*Slot, error) {
	if isNull(raw) {
		return nil, nil
	}
	var obj struct {
		ID      json.RawMessage `json:"id"`
		Pokemon json.RawMessage `json:"pokemon"`
		Energy  json.RawMessage `json:"energy"`
		Trainer json.RawMessage `json:"trainer"`
		Damage  int             `json:"damage"`
		Marker  bool            `json:"marker"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	id, err := rawID(obj.ID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = fallbackID
	}
	s := &Slot{ID: id, Damage: obj.Damage, Marker: obj.Marker}
	if s.Damage < 0 {
		s.Damage = 0
	}
	if s.Pokemon, err = decodePile(id+"-pokemon", obj.Pokemon, idx); err != nil {
		return nil, err
	}
	if s.Energy, err = decodePile(id+"-energy", obj.Energy, idx); err != nil {
		return nil, err
	}
	if s.Trainer, err = decodePile(id+"-trainer", obj.Trainer, idx); err != nil {
		return nil, err
	}
	return s, nil
}

// decodeBench accepts an array of slots. A slimmed bench carries no slots.
func decodeBench(raw json.RawMessage, idx *card.Index) ([]*Slot, error) {
	raw = bytes.TrimSpace(raw)
	if isNull(raw) || raw[0] != '[' {
		return []*Slot{}, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	out := make([]*Slot, 0, len(entries))
	for i, e := range entries {
		s, err := decodeSlot(e, fmt.Sprintf("bench-%d", i+1), idx)
		if err != nil {
			return nil, err
		}
		if s != nil && len(out) < MaxBench {
			out = append(out, s)
		}
	}
	return out, nil
}
