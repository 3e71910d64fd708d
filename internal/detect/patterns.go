package detect

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"doc-redactor/internal/document"
)

// Pattern is a named regular-expression rule. Matching is case-insensitive
// and always reports the whole match, never a capture group.
type Pattern struct {
	Name        string `json:"name"`
	Expr        string `json:"regex"`
	Label       Label  `json:"label"`
	Replacement string `json:"replacement,omitempty"`
	Priority    int    `json:"priority"`

	// validate rejects structurally matching but invalid hits (e.g. card
	// numbers failing the Luhn check). Only built-ins carry one.
	validate func(string) bool
	re       *regexp.Regexp
}

// Match is one hit of one pattern. Span offsets are runes.
type Match struct {
	Pattern     string
	Label       Label
	Span        Span
	Text        string
	Priority    int
	Replacement string
}

// Library is an immutable, ordered set of compiled patterns. Pattern order
// is the detection order used to break ties between equal candidates.
type Library struct {
	patterns []*Pattern
}

// LibrarySource yields the current pattern library. *Library returns
// itself; PatternRegistry returns a snapshot that changes at runtime.
type LibrarySource interface {
	Library() *Library
}

// Library implements LibrarySource.
func (l *Library) Library() *Library { return l }

// Compile checks and compiles p. The expression is forced case-insensitive.
func (p Pattern) Compile() (*Pattern, error) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, fmt.Errorf("pattern has no name")
	}
	if p.Expr == "" {
		return nil, fmt.Errorf("pattern %s: empty expression", p.Name)
	}
	re, err := regexp.Compile("(?i)" + p.Expr)
	if err != nil {
		return nil, fmt.Errorf("pattern %s: %w", p.Name, err)
	}
	if re.MatchString("") {
		return nil, fmt.Errorf("pattern %s matches the empty string", p.Name)
	}
	if p.Label == "" {
		p.Label = Label(strings.ToUpper(p.Name))
	}
	p.Label = Label(strings.ToUpper(string(p.Label)))
	if p.Priority < 0 {
		p.Priority = 0
	}
	p.re = re
	return &p, nil
}

// NewLibrary compiles the patterns in order. Any invalid pattern fails the
// whole library; duplicate names keep the last definition in the first
// position.
func NewLibrary(patterns ...Pattern) (*Library, error) {
	l := &Library{}
	index := make(map[string]int, len(patterns))
	for _, p := range patterns {
		c, err := p.Compile()
		if err != nil {
			return nil, err
		}
		if i, ok := index[c.Name]; ok {
			l.patterns[i] = c
			continue
		}
		index[c.Name] = len(l.patterns)
		l.patterns = append(l.patterns, c)
	}
	return l, nil
}

// Patterns returns copies of the library's patterns, in order.
func (l *Library) Patterns() []Pattern {
	out := make([]Pattern, len(l.patterns))
	for i, p := range l.patterns {
		out[i] = *p
		out[i].re = nil
	}
	return out
}

// Len is the number of patterns.
func (l *Library) Len() int { return len(l.patterns) }

// Match runs every pattern independently over text and returns all hits,
// overlapping ones included, ordered by start offset then pattern order.
func (l *Library) Match(text string) []Match {
	if text == "" {
		return nil
	}
	runeAt := byteToRune(text)
	var out []Match
	for _, p := range l.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			hit := text[loc[0]:loc[1]]
			if strings.TrimSpace(hit) == "" {
				continue
			}
			if p.validate != nil && !p.validate(hit) {
				continue
			}
			out = append(out, Match{
				Pattern:     p.Name,
				Label:       p.Label,
				Span:        TextSpan(runeAt[loc[0]], runeAt[loc[1]]),
				Text:        hit,
				Priority:    p.Priority,
				Replacement: p.Replacement,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Span.Start < out[j].Span.Start })
	return out
}

// byteToRune maps every byte offset of s (including len(s)) to a rune offset.
func byteToRune(s string) []int {
	idx := make([]int, len(s)+1)
	r := 0
	for i := 0; i < len(s); {
		_, size := utf8.DecodeRuneInString(s[i:])
		for k := 0; k < size; k++ {
			idx[i+k] = r
		}
		i += size
		r++
	}
	idx[len(s)] = r
	return idx
}

// RegexDetector reports every pattern-library match on the page text.
type RegexDetector struct {
	Source LibrarySource
}

// NewRegexDetector returns a detector over src.
func NewRegexDetector(src LibrarySource) *RegexDetector {
	return &RegexDetector{Source: src}
}

// Name implements Detector.
func (d *RegexDetector) Name() string { return "regex" }

// Detect implements Detector.
func (d *RegexDetector) Detect(ctx context.Context, p *document.Page) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches := d.Source.Library().Match(p.Text)
	out := make([]Entity, 0, len(matches))
	for _, m := range matches {
		out = append(out, Entity{
			Span:        m.Span,
			Text:        m.Text,
			Label:       m.Label,
			Source:      RegexSource(m.Pattern),
			Priority:    m.Priority,
			Replacement: m.Replacement,
		})
	}
	return out, nil
}
