package session

import (
	"crypto/rand"
	"math/big"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Generator produces identifiers. Implemented by UUIDv7Generator and
// CodeGenerator (production) and FixedGenerator (tests).
type Generator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session keys.
//
// UUIDv7 embeds a timestamp in the most significant bits, so keys sort by
// creation time in the sessions table.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// CodeAlphabet omits characters that are easy to misread (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the length of generated room codes.
const DefaultCodeLength = 6

// CodeGenerator generates short, human-typed room codes from CodeAlphabet.
// Codes are random, not unique; the registry retries on a live collision.
type CodeGenerator struct {
	Length int
}

// Generate returns a new random code.
// Panics if the system random source fails.
func (g CodeGenerator) Generate() string {
	n := g.Length
	if n <= 0 {
		n = DefaultCodeLength
	}
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("room code: " + err.Error())
		}
		b.WriteByte(CodeAlphabet[v.Int64()])
	}
	return b.String()
}

// NormalizeCode canonicalizes a typed room code: surrounding space is
// dropped and letters are upper-cased.
func NormalizeCode(code string) string {
	// A Caser is stateful; one per call keeps this safe for concurrent use.
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

// FixedGenerator returns predetermined values for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	values []string
	idx    int
}

// NewFixedGenerator creates a generator that returns values in order.
//
// Example:
//
//	gen := NewFixedGenerator("ROOM01", "ROOM02")
//	gen.Generate() // "ROOM01"
//	gen.Generate() // "ROOM02"
//	gen.Generate() // panic: all values exhausted
func NewFixedGenerator(values ...string) *FixedGenerator {
	return &FixedGenerator{values: values}
}

// Generate returns the next predetermined value.
//
// Panics if all values have been consumed. This is a fail-fast approach
// to catch a test that creates more sessions than it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.values) {
		panic("FixedGenerator: all values exhausted")
	}
	v := g.values[g.idx]
	g.idx++
	return v
}
