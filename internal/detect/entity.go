// Package detect produces candidate sensitive spans from a page. Every
// source of candidates (regex pattern library, statistical NER, OCR token
// classifier) implements Detector so the pipeline can fan out over them
// uniformly.
package detect

import (
	"context"
	"sort"
	"strings"

	"doc-redactor/internal/document"
)

// Label is an entity category from the canonical set.
type Label string

// Canonical labels.
const (
	LabelPerson     Label = "PERSON"
	LabelOrg        Label = "ORG"
	LabelGPE        Label = "GPE"
	LabelEmail      Label = "EMAIL"
	LabelPhone      Label = "PHONE"
	LabelAddress    Label = "ADDRESS"
	LabelCard       Label = "CARD"
	LabelDate       Label = "DATE"
	LabelIBAN       Label = "IBAN"
	LabelSSN        Label = "SSN"
	LabelAge        Label = "AGE"
	LabelPostalCode Label = "POSTAL_CODE"
)

// CanonicalLabels lists the canonical set in a stable order.
var CanonicalLabels = []Label{
	LabelPerson, LabelOrg, LabelGPE, LabelEmail, LabelPhone, LabelAddress,
	LabelCard, LabelDate, LabelIBAN, LabelSSN, LabelAge, LabelPostalCode,
}

// nativeLabels maps the vocabularies of the supported NER backends onto
// the canonical set.
var nativeLabels = map[string]Label{
	"PER":          LabelPerson,
	"PERSON":       LabelPerson,
	"ORG":          LabelOrg,
	"ORGANIZATION": LabelOrg,
	"LOC":          LabelGPE,
	"GPE":          LabelGPE,
	"LOCATION":     LabelGPE,
	"EMAIL":        LabelEmail,
	"PHONE":        LabelPhone,
	"PHONE_NUMBER": LabelPhone,
	"ADDRESS":      LabelAddress,
	"CARD":         LabelCard,
	"CREDIT_CARD":  LabelCard,
	"DATE":         LabelDate,
	"IBAN":         LabelIBAN,
	"IBAN_CODE":    LabelIBAN,
	"SSN":          LabelSSN,
	"AGE":          LabelAge,
	"POSTAL_CODE":  LabelPostalCode,
}

// CanonicalLabel maps a backend's native tag to the canonical label.
func CanonicalLabel(native string) (Label, bool) {
	l, ok := nativeLabels[strings.ToUpper(strings.TrimSpace(native))]
	return l, ok
}

// LabelSet is a set of labels. A nil set contains every label.
type LabelSet map[Label]bool

// NewLabelSet builds a set from label names, mapping native tags to
// canonical ones where known. No names yields nil, which contains every
// label.
func NewLabelSet(names ...string) LabelSet {
	if len(names) == 0 {
		return nil
	}
	s := make(LabelSet, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if l, ok := CanonicalLabel(n); ok {
			s[l] = true
			continue
		}
		s[Label(n)] = true
	}
	return s
}

// DefaultAllowList is the canonical set.
func DefaultAllowList() LabelSet {
	s := make(LabelSet, len(CanonicalLabels))
	for _, l := range CanonicalLabels {
		s[l] = true
	}
	return s
}

// Has reports membership; a nil set contains everything.
func (s LabelSet) Has(l Label) bool {
	return s == nil || s[l]
}

// Sorted returns the members in lexical order.
func (s LabelSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, string(l))
	}
	sort.Strings(out)
	return out
}

// Sources.
const (
	SourceNER     = "NER"
	SourceOCR     = "OCR-CLASSIFIER"
	SourceRequest = "REQUEST"
)

// RegexSource is the source tag of a pattern-library match.
func RegexSource(pattern string) string { return "REGEX:" + pattern }

// Default priorities for non-pattern sources. Lower wins.
const (
	PriorityRequest = 0
	PriorityNER     = 2
	PriorityOCR     = 2
)

// Span is either a half-open rune range into the page text or a box in
// page coordinates, never both.
type Span struct {
	Start int            `json:"start"`
	End   int            `json:"end"`
	Box   *document.BBox `json:"box,omitempty"`
}

// TextSpan returns the rune range [start,end).
func TextSpan(start, end int) Span { return Span{Start: start, End: end} }

// BoxSpan returns a token-space span.
func BoxSpan(b document.BBox) Span { return Span{Box: &b} }

// IsBox reports whether the span is token-space.
func (s Span) IsBox() bool { return s.Box != nil }

// Len is the rune length of a text span, 0 for box spans.
func (s Span) Len() int {
	if s.IsBox() {
		return 0
	}
	return s.End - s.Start
}

// Entity is a labeled candidate span attributed to one detector.
type Entity struct {
	Span
	Text        string  `json:"text"`
	Label       Label   `json:"label"`
	Source      string  `json:"source"`
	Priority    int     `json:"priority"`
	Confidence  float64 `json:"confidence,omitempty"`
	Replacement string  `json:"replacement,omitempty"`
	// Order is the global detection order on the page, assigned when the
	// candidates of all detectors are collected.
	Order int `json:"-"`
}

// Tag is the replacement text used when the entity is rendered inline.
func (e Entity) Tag() string {
	if e.Replacement != "" {
		return e.Replacement
	}
	return "[" + string(e.Label) + "]"
}

// Detector produces candidate entities for one page. Implementations must
// be safe for concurrent use across pages.
type Detector interface {
	Name() string
	Detect(ctx context.Context, p *document.Page) ([]Entity, error)
}

// Closer is implemented by detectors holding resources.
type Closer interface {
	Close() error
}
