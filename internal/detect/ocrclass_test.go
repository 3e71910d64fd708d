package detect

import (
	"context"
	"testing"

	"doc-redactor/internal/document"
	"doc-redactor/internal/document/doctest"
)

func TestOcrClassifierLabelsTokenRuns(t *testing.T) {
	page := doctest.ImagePage(0, "Carte 4111 1111 1111 1111 tel 06 12 34 56 78 mail jean@x.fr IBAN FR76 3000 6000 0112 3456 7890 189")
	d := &OcrClassifierDetector{MinConfidence: 0.3}

	ents, err := d.Detect(context.Background(), page)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		label Label
		text  string
	}{
		{LabelCard, "4111 1111 1111 1111"},
		{LabelPhone, "06 12 34 56 78"},
		{LabelEmail, "jean@x.fr"},
		{LabelIBAN, "FR76 3000 6000 0112 3456 7890 189"},
	}
	if len(ents) != len(want) {
		t.Fatalf("got %d entities: %+v", len(ents), ents)
	}
	for i, w := range want {
		e := ents[i]
		if e.Label != w.label || e.Text != w.text {
			t.Errorf("entity %d = %s %q, want %s %q", i, e.Label, e.Text, w.label, w.text)
		}
		if !e.IsBox() || e.Source != SourceOCR {
			t.Errorf("entity %d should be a box span from %s", i, SourceOCR)
		}
	}

	// The card box spans its four tokens.
	toks := page.Tokens
	if got, want := *ents[0].Box, toks[1].Box.Union(toks[4].Box); got != want {
		t.Errorf("card box = %+v, want %+v", got, want)
	}
}

func TestOcrClassifierSkipsWeakAndTextPages(t *testing.T) {
	d := &OcrClassifierDetector{MinConfidence: 0.95}
	ents, _ := d.Detect(context.Background(), doctest.ImagePage(0, "mail jean@x.fr"))
	if len(ents) != 0 {
		t.Errorf("low-confidence tokens should be ignored, got %+v", ents)
	}

	d.MinConfidence = 0
	ents, _ = d.Detect(context.Background(), doctest.TextPage(0, "mail jean@x.fr"))
	if len(ents) != 0 {
		t.Errorf("text-layer pages are not classified, got %+v", ents)
	}
}

func TestOcrClassifierRejectsShortDigitRuns(t *testing.T) {
	d := &OcrClassifierDetector{}
	// A lone 10-digit token is not a split value, and 4242 4242 fails the card length.
	ents, _ := d.Detect(context.Background(), doctest.ImagePage(0, "ref 0612345678 code 4242 4242"))
	if len(ents) != 0 {
		t.Errorf("got %+v", ents)
	}
}

func TestSameRow(t *testing.T) {
	a := document.BBox{X: 0, Y: 10, W: 10, H: 20}
	if !sameRow(a, document.BBox{X: 20, Y: 18, W: 10, H: 20}) {
		t.Error("boxes overlapping by more than half should share a row")
	}
	if sameRow(a, document.BBox{X: 20, Y: 40, W: 10, H: 20}) {
		t.Error("stacked boxes are different rows")
	}
}
