// Package langid guesses the language of page text.
package langid

import (
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// MinLetters is the shortest text, in letters, worth identifying.
const MinLetters = 20

// Identifier returns an ISO-639-1 code, or ok=false when unsure.
type Identifier interface {
	Identify(text string) (code string, ok bool)
}

// Whatlang identifies languages with whatlanggo's trigram model.
type Whatlang struct {
	// Allowed are the codes a caller can act on; empty = any. Text in
	// another language is reported with ok=false.
	Allowed []string
}

// NewWhatlang returns an identifier that accepts the given ISO-639-1 codes.
func NewWhatlang(allowed ...string) *Whatlang {
	return &Whatlang{Allowed: allowed}
}

// Identify implements Identifier. Detection always runs over every
// language whatlanggo knows, so a page in an unconfigured language is
// never mistaken for the closest configured one; the detected code is
// still returned alongside ok=false for logging.
func (w *Whatlang) Identify(text string) (string, bool) {
	if countLetters(text) < MinLetters {
		return "", false
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return "", false
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return "", false
	}
	return code, w.accepts(code)
}

func (w *Whatlang) accepts(code string) bool {
	if len(w.Allowed) == 0 {
		return true
	}
	for _, a := range w.Allowed {
		if a == code {
			return true
		}
	}
	return false
}

// Fixed always answers with one code. Used when the caller already knows
// the language.
type Fixed string

// Identify implements Identifier.
func (f Fixed) Identify(string) (string, bool) { return string(f), f != "" }

func countLetters(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
