package card

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Index maps a card identifier to its template metadata.
// It is built once and read-only afterwards, so it is safe for concurrent use.
type Index struct {
	byID map[string]Card
}

// NewIndex builds an index from cards. Cards without a TemplateID are keyed
// by "SET-NUMBER". Later duplicates overwrite earlier ones.
func NewIndex(cards []Card) *Index {
	idx := &Index{byID: make(map[string]Card, len(cards))}
	for _, c := range cards {
		key := indexKey(c)
		if key == "" {
			continue
		}
		idx.byID[key] = c
	}
	return idx
}

// EmptyIndex returns an index with no cards.
func EmptyIndex() *Index {
	return NewIndex(nil)
}

func indexKey(c Card) string {
	if c.TemplateID != "" {
		return NormalizeID(c.TemplateID)
	}
	if c.Set != "" && c.Number != "" {
		return c.Set + "-" + c.Number
	}
	return ""
}

// Lookup returns the card registered under id.
// A nil index behaves as an empty one.
func (x *Index) Lookup(id string) (Card, bool) {
	if x == nil {
		return Card{}, false
	}
	c, ok := x.byID[NormalizeID(id)]
	return c, ok
}

// Len returns the number of indexed cards.
func (x *Index) Len() int {
	if x == nil {
		return 0
	}
	return len(x.byID)
}

// LoadIndex reads a card list from a JSON or YAML file.
// The format is chosen by extension (.yaml/.yml, otherwise JSON).
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load card index: %w", err)
	}

	var cards []Card
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cards); err != nil {
			return nil, fmt.Errorf("load card index: parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cards); err != nil {
			return nil, fmt.Errorf("load card index: parse json: %w", err)
		}
	}

	return NewIndex(cards), nil
}
