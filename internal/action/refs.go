package action

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/duel/internal/card"
)

// FlexID is an identifier that may arrive as a JSON string or number.
// It is always held in normalized string form.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexID) UnmarshalJSON(data []byte) error {
	s, err := scalarID(data)
	if err != nil {
		return err
	}
	*f = FlexID(s)
	return nil
}

// String returns the normalized id.
func (f FlexID) String() string {
	return string(f)
}

// scalarID decodes a JSON string or number into a normalized id.
// null decodes to the empty string.
func scalarID(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return card.NormalizeID(s), nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return "", err
		}
		return card.NormalizeID(n.String()), nil
	}
	return "", fmt.Errorf("id must be a string or number, got %s", data)
}

// CardRef points at one card instance on the board.
// Objects may name the instance by cardId, id or _id; all present forms are
// kept so the reducer can try each in turn.
type CardRef struct {
	ID     string
	AltIDs []string
	SlotID string
}

// Candidates returns every id the reference may be known by, primary first.
func (r CardRef) Candidates() []string {
	out := make([]string, 0, 1+len(r.AltIDs))
	if r.ID != "" {
		out = append(out, r.ID)
	}
	for _, id := range r.AltIDs {
		if id != "" && id != r.ID {
			out = append(out, id)
		}
	}
	return out
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *CardRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		id, err := scalarID(data)
		if err != nil {
			return fmt.Errorf("card ref: %w", err)
		}
		*r = CardRef{ID: id}
		return nil
	}

	var obj struct {
		CardID json.RawMessage `json:"cardId"`
		ID     json.RawMessage `json:"id"`
		UID    json.RawMessage `json:"_id"`
		SlotID json.RawMessage `json:"slotId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("card ref: %w", err)
	}

	var ids []string
	for _, raw := range []json.RawMessage{obj.CardID, obj.ID, obj.UID} {
		id, err := scalarID(raw)
		if err != nil {
			return fmt.Errorf("card ref: %w", err)
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	slot, err := scalarID(obj.SlotID)
	if err != nil {
		return fmt.Errorf("card ref slotId: %w", err)
	}

	*r = CardRef{SlotID: slot}
	if len(ids) > 0 {
		r.ID = ids[0]
		r.AltIDs = ids[1:]
	}
	return nil
}

// CardRefs is the cards field of a move-like payload. It accepts an array of
// refs, a single ref, or a slimmed {"count","sample"} summary (only the
// sample survives slimming, so only the sample is addressed).
type CardRefs []CardRef

// UnmarshalJSON implements json.Unmarshaler.
func (rs *CardRefs) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*rs = CardRefs{}
		return nil
	}

	switch data[0] {
	case '[':
		var list []CardRef
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*rs = CardRefs(list)
		return nil
	case '{':
		var summary struct {
			Count  *int            `json:"count"`
			Sample json.RawMessage `json:"sample"`
			CardID json.RawMessage `json:"cardId"`
			ID     json.RawMessage `json:"id"`
			UID    json.RawMessage `json:"_id"`
		}
		if err := json.Unmarshal(data, &summary); err != nil {
			return err
		}
		if len(summary.Sample) > 0 {
			return rs.UnmarshalJSON(summary.Sample)
		}
		if summary.Count != nil && summary.CardID == nil && summary.ID == nil && summary.UID == nil {
			*rs = CardRefs{}
			return nil
		}
	}

	var one CardRef
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*rs = CardRefs{one}
	return nil
}

// First returns the first reference, if any.
func (rs CardRefs) First() (CardRef, bool) {
	if len(rs) == 0 {
		return CardRef{}, false
	}
	return rs[0], true
}
