package plan

import (
	"strings"

	"doc-redactor/internal/detect"
	"doc-redactor/internal/document"
	"doc-redactor/internal/logger"
)

// Planner builds redaction plans. Text-layer pages are planned by
// searching each accepted literal on the page, image pages by marking the
// OCR tokens the accepted entities cover.
type Planner struct {
	Search document.Searcher
	Log    *logger.Logger
}

// NewPlanner returns a planner using the default text search.
func NewPlanner(log *logger.Logger) *Planner {
	if log == nil {
		log = logger.Nop()
	}
	return &Planner{Search: document.TextSearch{}, Log: log}
}

// Build plans doc from the accepted entities of each page, keyed by page
// index.
func (pl *Planner) Build(doc *document.Document, accepted map[int][]detect.Entity) *Plan {
	out := New(doc.Kind)
	for _, p := range doc.Pages {
		ents := accepted[p.Index]
		if len(ents) == 0 {
			continue
		}
		var rs []Region
		if p.IsImage() {
			rs = pl.tokenRegions(p, ents)
		} else {
			rs = pl.textRegions(p, ents)
		}
		sortRegions(rs)
		out.add(p.Index, rs)
	}
	return out
}

// textRegions adds one region per rendered occurrence of every distinct
// literal. Different literals may yield overlapping regions when they
// share glyphs; only exact duplicates are removed.
func (pl *Planner) textRegions(p *document.Page, ents []detect.Entity) []Region {
	var (
		rs      []Region
		seenLit = make(map[string]bool)
		seenBox = make(map[document.BBox]bool)
	)
	push := func(box document.BBox, e detect.Entity) {
		if box.Empty() || seenBox[box] {
			return
		}
		seenBox[box] = true
		rs = append(rs, Region{Page: p.Index, Box: box, Label: e.Label, Literal: e.Text})
	}

	for _, e := range ents {
		if e.IsBox() {
			push(*e.Box, e)
			continue
		}
		lit := strings.TrimSpace(e.Text)
		if lit == "" {
			lit = p.Slice(e.Start, e.End)
		}
		key := document.FoldKey(lit)
		if key == "" || seenLit[key] {
			continue
		}
		seenLit[key] = true

		hits := pl.Search.Search(p, lit)
		if len(hits) == 0 {
			// The literal wraps or was rebuilt differently from the
			// rendered text: fall back to the glyphs under its offsets.
			hits = p.BoxesFor(e.Start, e.End)
			pl.Log.Debugf("plan_fallback", "page %d: %s literal not found by search, %d box(es) from offsets", p.Index, e.Label, len(hits))
		}
		for _, box := range hits {
			push(box, e)
		}
	}
	return rs
}

// tokenRegions marks each token whose rune range intersects an accepted
// text span, whose box intersects an accepted box span, or whose text is
// one of the words of an accepted literal. Overlapping token boxes are
// merged so the result is pairwise disjoint.
func (pl *Planner) tokenRegions(p *document.Page, ents []detect.Entity) []Region {
	words := make(map[string]detect.Label)
	for _, e := range ents {
		for _, w := range strings.Fields(e.Text) {
			if k := document.FoldKey(w); k != "" {
				if _, ok := words[k]; !ok {
					words[k] = e.Label
				}
			}
		}
	}

	var rs []Region
	for i, tok := range p.Tokens {
		label, hit := tokenLabel(p, i, tok, ents)
		if !hit {
			label, hit = words[document.FoldKey(tok.Text)]
		}
		if hit {
			rs = append(rs, Region{Page: p.Index, Box: tok.Box, Label: label, Literal: tok.Text})
		}
	}
	return coalesce(rs)
}

func tokenLabel(p *document.Page, i int, tok document.Token, ents []detect.Entity) (detect.Label, bool) {
	start, end := p.TokenRange(i)
	for _, e := range ents {
		if e.IsBox() {
			if e.Box.Intersects(tok.Box) {
				return e.Label, true
			}
			continue
		}
		if start >= 0 && e.Start < end && start < e.End {
			return e.Label, true
		}
	}
	return "", false
}

// coalesce unions intersecting regions until none intersect.
func coalesce(rs []Region) []Region {
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(rs) && !merged; i++ {
			for j := i + 1; j < len(rs); j++ {
				if !rs[i].Box.Intersects(rs[j].Box) {
					continue
				}
				rs[i].Box = rs[i].Box.Union(rs[j].Box)
				rs[i].Literal += " " + rs[j].Literal
				rs = append(rs[:j], rs[j+1:]...)
				merged = true
				break
			}
		}
	}
	return rs
}
