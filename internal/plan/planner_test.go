package plan

import (
	"errors"
	"testing"

	"doc-redactor/internal/detect"
	"doc-redactor/internal/document"
	"doc-redactor/internal/document/doctest"
)

func person(start, end int, text string) detect.Entity {
	return detect.Entity{Span: detect.TextSpan(start, end), Text: text, Label: detect.LabelPerson, Source: detect.SourceNER}
}

func assertDisjoint(t *testing.T, rs []Region) {
	t.Helper()
	for i := range rs {
		for j := i + 1; j < len(rs); j++ {
			if rs[i].Box.Intersects(rs[j].Box) {
				t.Errorf("regions %d and %d overlap: %+v %+v", i, j, rs[i].Box, rs[j].Box)
			}
		}
	}
}

func TestTextModeCoversEveryOccurrence(t *testing.T) {
	doc := doctest.TextDocument("letter.pdf", []string{"Isaac met Isaac again"}, []string{"no names here"})
	plan := NewPlanner(nil).Build(doc, map[int][]detect.Entity{
		0: {person(0, 5, "Isaac")},
	})

	rs := plan.Regions(0)
	if len(rs) != 2 {
		t.Fatalf("regions = %+v, want 2", rs)
	}
	if rs[0].Box.X != 72 || rs[1].Box.X != 122 || rs[0].Box.W != 25 {
		t.Errorf("boxes = %+v, %+v", rs[0].Box, rs[1].Box)
	}
	assertDisjoint(t, rs)
	if plan.Count() != 2 || len(plan.Regions(1)) != 0 || plan.Labels()[detect.LabelPerson] != 2 {
		t.Errorf("count = %d, labels = %v", plan.Count(), plan.Labels())
	}
}

func TestTextModeSearchesEachLiteralOnce(t *testing.T) {
	doc := doctest.TextDocument("a.pdf", []string{"Isaac met Isaac again", "ISAAC left"})
	plan := NewPlanner(nil).Build(doc, map[int][]detect.Entity{
		0: {person(0, 5, "Isaac"), person(10, 15, "Isaac"), person(22, 27, "ISAAC")},
	})
	rs := plan.Regions(0)
	if len(rs) != 3 {
		t.Fatalf("regions = %+v, want 3", rs)
	}
	if rs[2].Box.Y <= rs[0].Box.Y {
		t.Errorf("regions should be ordered top to bottom: %+v", rs)
	}
}

func TestTextModeFallsBackToOffsets(t *testing.T) {
	doc := doctest.TextDocument("a.pdf", []string{"Jean", "Dupont"})
	plan := NewPlanner(nil).Build(doc, map[int][]detect.Entity{
		0: {person(0, 11, "Jean\nDupont")},
	})
	if n := len(plan.Regions(0)); n != 2 {
		t.Errorf("a wrapped literal should map to one box per line, got %d", n)
	}
}

func TestTextModeBoxEntity(t *testing.T) {
	doc := doctest.TextDocument("a.pdf", []string{"signature"})
	box := document.BBox{X: 300, Y: 500, W: 100, H: 40}
	plan := NewPlanner(nil).Build(doc, map[int][]detect.Entity{
		0: {{Span: detect.BoxSpan(box), Label: detect.LabelPerson}},
	})
	if rs := plan.Regions(0); len(rs) != 1 || rs[0].Box != box {
		t.Errorf("regions = %+v", rs)
	}
}

func TestTokenModeMarksCoveredAndRepeatedWords(t *testing.T) {
	doc := &document.Document{Path: "scan.png", Kind: document.KindImage, Format: "png",
		Pages: []*document.Page{doctest.ImagePage(0, "Jean Dupont habite Paris avec Jean")}}
	p := doc.Pages[0]
	plan := NewPlanner(nil).Build(doc, map[int][]detect.Entity{
		0: {person(0, 11, "Jean Dupont")},
	})

	rs := plan.Regions(0)
	if len(rs) != 3 {
		t.Fatalf("regions = %+v, want 3", rs)
	}
	want := []document.BBox{p.Tokens[0].Box, p.Tokens[1].Box, p.Tokens[5].Box}
	for i, r := range rs {
		if r.Box != want[i] || r.Label != detect.LabelPerson {
			t.Errorf("region %d = %+v, want box %+v", i, r, want[i])
		}
	}
	assertDisjoint(t, rs)
}

func TestTokenModeBoxSpansAndCoalescing(t *testing.T) {
	img := doctest.ImagePage(0, "x").Image
	toks := []document.Token{
		{Text: "4111", Box: document.BBox{X: 10, Y: 10, W: 40, H: 20}},
		{Text: "1111", Box: document.BBox{X: 45, Y: 10, W: 40, H: 20}}, // overlaps the first
		{Text: "total", Box: document.BBox{X: 200, Y: 10, W: 50, H: 20}},
	}
	p := document.NewImagePage(0, img, toks)
	doc := &document.Document{Kind: document.KindImage, Pages: []*document.Page{p}}
	cardBox := toks[0].Box.Union(toks[1].Box)

	plan := NewPlanner(nil).Build(doc, map[int][]detect.Entity{
		0: {{Span: detect.BoxSpan(cardBox), Label: detect.LabelCard, Source: detect.SourceOCR}},
	})
	rs := plan.Regions(0)
	if len(rs) != 1 || rs[0].Box != cardBox || rs[0].Label != detect.LabelCard {
		t.Errorf("regions = %+v, want one coalesced card box", rs)
	}
}

func TestPlanConsumedOnce(t *testing.T) {
	p := New(document.KindTextLayer)
	if !p.Empty() {
		t.Error("new plan should be empty")
	}
	if err := p.Consume(); err != nil {
		t.Fatal(err)
	}
	if err := p.Consume(); !errors.Is(err, ErrConsumed) {
		t.Errorf("second Consume = %v", err)
	}
}
