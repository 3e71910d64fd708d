package resolve

import (
	"sort"
	"strings"

	"doc-redactor/internal/detect"
	"doc-redactor/internal/document"
)

// Result is the outcome of resolving one page.
type Result struct {
	// Accepted is pairwise non-overlapping, text spans in offset order
	// followed by box spans top-to-bottom, left-to-right.
	Accepted []detect.Entity
	Rejected []detect.Entity
}

// Resolve keeps the best candidates of p that do not overlap. Candidates
// are ranked by priority (lower first), then extent (longer first), then
// detection order; walking that ranking, a candidate is accepted unless it
// overlaps one already accepted. Occurrences of the same literal at
// different positions are independent and never merged.
func Resolve(p *document.Page, ents []detect.Entity) Result {
	var res Result
	cands := make([]candidate, 0, len(ents))
	for _, e := range ents {
		c, ok := normalize(p, e)
		if !ok {
			res.Rejected = append(res.Rejected, e)
			continue
		}
		cands = append(cands, c)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.extent != b.extent {
			return a.extent > b.extent
		}
		return a.Order < b.Order
	})

	var kept []candidate
	for _, c := range cands {
		if overlapsAny(c, kept) {
			res.Rejected = append(res.Rejected, c.Entity)
			continue
		}
		kept = append(kept, c)
	}

	sort.SliceStable(kept, func(i, j int) bool { return before(kept[i].Entity, kept[j].Entity) })
	res.Accepted = make([]detect.Entity, len(kept))
	for i, c := range kept {
		res.Accepted[i] = c.Entity
	}
	return res
}

type candidate struct {
	detect.Entity
	extent int
	// boxes is the page geometry of a text span, filled lazily when the
	// span has to be compared with a box span.
	boxes    []document.BBox
	boxesSet bool
	page     *document.Page
}

// normalize makes text spans half-open and inside the page, fills a
// missing literal, and drops empty spans.
func normalize(p *document.Page, e detect.Entity) (candidate, bool) {
	if e.IsBox() {
		if e.Box.Empty() {
			return candidate{}, false
		}
		return candidate{Entity: e, extent: len([]rune(strings.TrimSpace(e.Text))), page: p}, true
	}
	if e.End < e.Start {
		e.Start, e.End = e.End, e.Start
	}
	e.Start = max(e.Start, 0)
	e.End = min(e.End, p.RuneLen())
	if e.Start >= e.End {
		return candidate{}, false
	}
	if e.Text == "" {
		e.Text = p.Slice(e.Start, e.End)
	}
	return candidate{Entity: e, extent: e.End - e.Start, page: p}, true
}

func (c *candidate) geometry() []document.BBox {
	if !c.boxesSet {
		c.boxes = c.page.BoxesFor(c.Start, c.End)
		c.boxesSet = true
	}
	return c.boxes
}

func overlapsAny(c candidate, kept []candidate) bool {
	for i := range kept {
		if overlaps(&c, &kept[i]) {
			return true
		}
	}
	return false
}

func overlaps(a, b *candidate) bool {
	switch {
	case !a.IsBox() && !b.IsBox():
		return a.Start < b.End && b.Start < a.End
	case a.IsBox() && b.IsBox():
		return a.Box.Intersects(*b.Box)
	case a.IsBox():
		a, b = b, a
	}
	// a is a text span, b a box span.
	for _, g := range a.geometry() {
		if g.Intersects(*b.Box) {
			return true
		}
	}
	return false
}

func before(a, b detect.Entity) bool {
	if a.IsBox() != b.IsBox() {
		return !a.IsBox()
	}
	if !a.IsBox() {
		return a.Start < b.Start
	}
	if a.Box.Y != b.Box.Y {
		return a.Box.Y < b.Box.Y
	}
	return a.Box.X < b.Box.X
}

// Mask renders text with every accepted text span replaced by its tag.
// Box spans are ignored.
func Mask(text string, accepted []detect.Entity) string {
	r := []rune(text)
	spans := make([]detect.Entity, 0, len(accepted))
	for _, e := range accepted {
		if !e.IsBox() && e.Start >= 0 && e.End <= len(r) && e.Start < e.End {
			spans = append(spans, e)
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].Start < spans[j].Start })

	var b strings.Builder
	at := 0
	for _, e := range spans {
		if e.Start < at {
			continue
		}
		b.WriteString(string(r[at:e.Start]))
		b.WriteString(e.Tag())
		at = e.End
	}
	b.WriteString(string(r[at:]))
	return b.String()
}
