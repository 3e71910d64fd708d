package detect

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"doc-redactor/internal/document"
	"doc-redactor/internal/langid"
	"doc-redactor/internal/logger"
	"doc-redactor/internal/redacterr"
)

// Prediction is one entity reported by a statistical model: the literal
// text, the model's native label and an optional confidence in [0,1].
type Prediction struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Model is a pretrained named-entity recognizer for one language.
type Model interface {
	Predict(ctx context.Context, text string) ([]Prediction, error)
}

// ConcurrencySafe is implemented by models that declare whether
// simultaneous Predict calls are allowed. Models that do not implement it
// are assumed unsafe.
type ConcurrencySafe interface {
	ConcurrencySafe() bool
}

// serialModel funnels calls to an unsafe model through a single slot.
type serialModel struct {
	Model
	slot chan struct{}
}

// Serialize wraps m so at most one Predict runs at a time, unless m
// declares itself safe for concurrent use.
func Serialize(m Model) Model {
	if cs, ok := m.(ConcurrencySafe); ok && cs.ConcurrencySafe() {
		return m
	}
	return &serialModel{Model: m, slot: make(chan struct{}, 1)}
}

func (m *serialModel) Predict(ctx context.Context, text string) ([]Prediction, error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-m.slot }()
	return m.Model.Predict(ctx, text)
}

func (m *serialModel) Close() error {
	if c, ok := m.Model.(Closer); ok {
		return c.Close()
	}
	return nil
}

// NerDetector runs the model for the page's language and maps its labels
// onto the canonical set. An unidentified or unsupported language yields
// no entities rather than an error; the regex detector still covers the
// page.
type NerDetector struct {
	models  map[string]Model
	lang    langid.Identifier
	allowed LabelSet
	log     *logger.Logger
}

// NewNerDetector builds a detector over per-language models. allowed
// restricts the retained labels; nil means the canonical set.
func NewNerDetector(models map[string]Model, lang langid.Identifier, allowed LabelSet, log *logger.Logger) *NerDetector {
	if allowed == nil {
		allowed = DefaultAllowList()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NerDetector{models: models, lang: lang, allowed: allowed, log: log}
}

// Name implements Detector.
func (d *NerDetector) Name() string { return "ner" }

// Languages lists the codes that have a model.
func (d *NerDetector) Languages() []string {
	out := make([]string, 0, len(d.models))
	for code := range d.models {
		out = append(out, code)
	}
	return out
}

// Detect implements Detector.
func (d *NerDetector) Detect(ctx context.Context, p *document.Page) ([]Entity, error) {
	if strings.TrimSpace(p.Text) == "" {
		return nil, nil
	}
	code, ok := d.lang.Identify(p.Text)
	model := d.models[code]
	if !ok || model == nil {
		d.log.Debugf("ner_skip", "page %d: %v", p.Index, redacterr.UnknownLanguage(code))
		return nil, nil
	}
	preds, err := model.Predict(ctx, p.Text)
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", code, err)
	}
	return d.locate(p.Text, preds), nil
}

// locate turns predictions into text spans. The k-th prediction of a given
// literal is placed on the k-th occurrence of that literal after the
// previous one, so repeated names each get their own span.
func (d *NerDetector) locate(text string, preds []Prediction) []Entity {
	hay := []rune(text)
	cursor := make(map[string]int)
	var out []Entity
	for _, pr := range preds {
		label, ok := CanonicalLabel(pr.Label)
		if !ok || !d.allowed.Has(label) {
			continue
		}
		lit := strings.TrimSpace(pr.Text)
		if lit == "" {
			continue
		}
		needle := []rune(lit)
		start := indexRunes(hay, needle, cursor[lit], false)
		if start < 0 {
			start = indexRunes(hay, needle, cursor[lit], true)
		}
		if start < 0 {
			d.log.Debugf("ner_locate", "prediction not found in page text (%d runes, %s)", len(needle), label)
			continue
		}
		end := start + len(needle)
		cursor[lit] = end
		out = append(out, Entity{
			Span:       TextSpan(start, end),
			Text:       string(hay[start:end]),
			Label:      label,
			Source:     SourceNER,
			Priority:   PriorityNER,
			Confidence: pr.Confidence,
		})
	}
	return out
}

// indexRunes finds needle in hay at or after from.
func indexRunes(hay, needle []rune, from int, fold bool) int {
	for i := from; i+len(needle) <= len(hay); i++ {
		match := true
		for j, c := range needle {
			h := hay[i+j]
			if fold {
				h, c = unicode.ToLower(h), unicode.ToLower(c)
			}
			if h != c {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// Close releases models that hold resources.
func (d *NerDetector) Close() error {
	var first error
	for _, m := range d.models {
		if c, ok := m.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
