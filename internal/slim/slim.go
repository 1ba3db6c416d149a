// Package slim bounds the size of stored action payloads.
//
// Slimming is lossy and one-way. It is applied once, at write time, and the
// live game never re-expands a slimmed record. Deck setup is exempt because
// deck reconstruction depends on the full list.
package slim

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/roach88/duel/internal/action"
)

const (
	// CardsThreshold is the longest cards array stored in full.
	CardsThreshold = 50
	// SampleSize is how many leading cards a summarized array keeps.
	SampleSize = 5
	// BoardArrayThreshold is the longest array inside a board stored in full.
	BoardArrayThreshold = 20
)

// Payload returns the storable form of raw for an action of type t.
// Non-object payloads are returned unchanged.
func Payload(t action.Type, raw []byte) ([]byte, error) {
	if t == action.TypeDeckSetup || len(raw) == 0 {
		return raw, nil
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return raw, nil
	}

	out := raw
	var err error

	if deck := root.Get("deck"); deck.IsArray() {
		if out, err = sjson.SetBytes(out, "deck", countOf(deck)); err != nil {
			return nil, fmt.Errorf("slim deck: %w", err)
		}
	}

	if cards := root.Get("cards"); cards.IsArray() {
		if n := len(cards.Array()); n > CardsThreshold {
			if out, err = sjson.SetRawBytes(out, "cards", sampled(cards)); err != nil {
				return nil, fmt.Errorf("slim cards: %w", err)
			}
		}
	}

	if b := root.Get("board"); b.IsObject() {
		var failed error
		b.ForEach(func(key, value gjson.Result) bool {
			if !value.IsArray() || len(value.Array()) <= BoardArrayThreshold {
				return true
			}
			path := "board." + escape(key.String())
			if out, failed = sjson.SetBytes(out, path, countOf(value)); failed != nil {
				return false
			}
			return true
		})
		if failed != nil {
			return nil, fmt.Errorf("slim board: %w", failed)
		}
	}

	return out, nil
}

func countOf(arr gjson.Result) map[string]int {
	return map[string]int{"count": len(arr.Array())}
}

// sampled renders {"count":n,"sample":[first SampleSize elements]}, keeping
// each sampled element's raw JSON.
func sampled(arr gjson.Result) []byte {
	elems := arr.Array()
	out := []byte(fmt.Sprintf(`{"count":%d,"sample":[`, len(elems)))
	for i := 0; i < SampleSize && i < len(elems); i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, elems[i].Raw...)
	}
	return append(out, "]}"...)
}

// escape quotes gjson/sjson path metacharacters in a single key.
func escape(key string) string {
	buf := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		switch key[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			buf = append(buf, '\\')
		}
		buf = append(buf, key[i])
	}
	return string(buf)
}
