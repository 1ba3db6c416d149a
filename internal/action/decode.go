package action

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/roach88/duel/internal/card"
)

// ErrUnknownType is returned for tags outside the enumeration.
var ErrUnknownType = errors.New("unknown action type")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateDeckSetup, DeckSetup{})
	return v
}

// validateDeckSetup bounds entry counts and the expanded deck size.
func validateDeckSetup(sl validator.StructLevel) {
	d := sl.Current().Interface().(DeckSetup)
	for _, e := range d.Deck {
		if e.Count < 0 || e.Count > card.DeckSize {
			sl.ReportError(e.Count, "count", "Count", "range", strconv.Itoa(card.DeckSize))
			return
		}
	}
	if d.Size() > card.DeckSize {
		sl.ReportError(d.Deck, "deck", "Deck", "max", strconv.Itoa(card.DeckSize))
	}
}

// describe flattens validation errors into one line: "from: required".
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		part := fe.Field() + ": " + fe.Tag()
		if fe.Param() != "" {
			part += "=" + fe.Param()
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, ", ")
}

// Decode parses raw into the payload for t and validates it.
// An empty or null body decodes to the zero payload before validation.
func Decode(t Type, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch t {
	case TypeDeckSetup:
		p = &DeckSetup{}
	case TypeCardsMoved:
		p = &CardsMoved{}
	case TypeCardsBenched:
		p = &CardsBenched{}
	case TypeCardsAttached:
		p = &CardsAttached{}
	case TypeCardsEvolved:
		p = &CardsEvolved{}
	case TypeCardPromoted:
		p = &CardPromoted{}
	case TypePrizesFlipped:
		p = &PrizesFlipped{}
	case TypeBoardState:
		p = &BoardState{}
	case TypeChatMessage:
		p = &ChatMessage{}
	case TypeRoomCreated, TypePlayerJoined, TypePlayerDisconnected:
		p = &Lifecycle{Type: t}
	case TypeTurnPassed, TypeGameWon, TypeGameReset, TypeCardDetails:
		return &Marker{Type: t, Raw: raw}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}

	if body := bytes.TrimSpace(raw); len(body) > 0 && !bytes.Equal(body, []byte("null")) {
		if err := json.Unmarshal(body, p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("validate %s: %s", t, describe(err))
	}
	return p, nil
}

// DecodeRecord decodes the payload of a stored record.
func DecodeRecord(r Record) (Payload, error) {
	return Decode(ParseType(string(r.Type)), r.Payload)
}
