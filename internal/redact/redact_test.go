package redact

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"doc-redactor/internal/detect"
	"doc-redactor/internal/document"
	"doc-redactor/internal/document/doctest"
	"doc-redactor/internal/plan"
	"doc-redactor/internal/redacterr"
)

func planFor(doc *document.Document, literal string, label detect.Label) *plan.Plan {
	accepted := make(map[int][]detect.Entity)
	for _, p := range doc.Pages {
		for _, occ := range document.Occurrences(p, literal) {
			accepted[p.Index] = append(accepted[p.Index], detect.Entity{
				Span: detect.TextSpan(occ[0], occ[1]), Text: literal, Label: label,
			})
		}
	}
	return plan.NewPlanner(nil).Build(doc, accepted)
}

func TestApplyRemovesTextLayer(t *testing.T) {
	doc := doctest.TextDocument("letter.pdf", []string{"Isaac met Isaac again"}, []string{"page two"})
	pl := planFor(doc, "Isaac", detect.LabelPerson)

	rd, err := NewApplier(ModeFill, nil).Apply(context.Background(), doc, pl)
	if err != nil {
		t.Fatal(err)
	}
	if got := rd.Document.Pages[0].Text; got != "met again" {
		t.Errorf("redacted text = %q", got)
	}
	if len(rd.Regions) != 2 {
		t.Errorf("regions = %d", len(rd.Regions))
	}
	// Input untouched.
	if doc.Pages[0].Text != "Isaac met Isaac again" || len(doc.Pages[0].Glyphs) != 18 {
		t.Errorf("input page modified: %q", doc.Pages[0].Text)
	}
	if rd.Document.Pages[1] == doc.Pages[1] {
		t.Error("pages without regions must still be copies")
	}

	// Nothing left to find on the output.
	if again := planFor(rd.Document, "Isaac", detect.LabelPerson); !again.Empty() {
		t.Errorf("re-planning the output found %d regions", again.Count())
	}
}

func TestApplyConsumesPlan(t *testing.T) {
	doc := doctest.TextDocument("a.pdf", []string{"Isaac"})
	pl := planFor(doc, "Isaac", detect.LabelPerson)
	a := NewApplier(ModeFill, nil)
	if _, err := a.Apply(context.Background(), doc, pl); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Apply(context.Background(), doc, pl); !errors.Is(err, plan.ErrConsumed) {
		t.Errorf("second Apply = %v, want ErrConsumed", err)
	}
}

func TestApplyCancelled(t *testing.T) {
	doc := doctest.TextDocument("a.pdf", []string{"Isaac"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewApplier(ModeFill, nil).Apply(ctx, doc, planFor(doc, "Isaac", detect.LabelPerson))
	if !redacterr.Is(err, redacterr.KindCancelled) {
		t.Errorf("err = %v", err)
	}
}

func TestApplyFillsImageRegions(t *testing.T) {
	doc := doctest.ImageDocument("scan.png", "Appeler Isaac demain")
	pl := planFor(doc, "Isaac", detect.LabelPerson)
	if pl.Count() != 1 {
		t.Fatalf("plan = %d regions", pl.Count())
	}
	box := pl.Regions(0)[0].Box

	rd, err := NewApplier(ModeFill, nil).Apply(context.Background(), doc, pl)
	if err != nil {
		t.Fatal(err)
	}
	out := rd.Document.Pages[0]
	img := out.Image.(*image.RGBA)
	cx, cy := int(box.X+box.W/2), int(box.Y+box.H/2)
	if c := img.RGBAAt(cx, cy); c != (color.RGBA{A: 255}) {
		t.Errorf("region pixel = %v, want black", c)
	}
	if c := img.RGBAAt(2, 2); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("outside pixel = %v, want white", c)
	}
	if doc.Pages[0].Image.(*image.RGBA).RGBAAt(cx, cy) != (color.RGBA{255, 255, 255, 255}) {
		t.Error("input image modified")
	}
	if out.Text != "Appeler demain" || len(doc.Pages[0].Tokens) != 3 {
		t.Errorf("tokens after redaction: %q", out.Text)
	}
}

func TestApplyBlurDestroysDetail(t *testing.T) {
	page := doctest.ImagePage(0, "secret")
	img := page.Image.(*image.RGBA)
	// Checkerboard over the token.
	tok := page.Tokens[0].Box.Rect()
	for y := tok.Min.Y; y < tok.Max.Y; y++ {
		for x := tok.Min.X; x < tok.Max.X; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			}
		}
	}
	doc := &document.Document{Path: "s.png", Kind: document.KindImage, Format: "png", Pages: []*document.Page{page}}
	pl := planFor(doc, "secret", detect.LabelPerson)

	rd, err := NewApplier(ModeBlur, nil).Apply(context.Background(), doc, pl)
	if err != nil {
		t.Fatal(err)
	}
	out := rd.Document.Pages[0].Image.(*image.RGBA)
	c := tok.Min.Add(tok.Size().Div(2))
	if v := out.RGBAAt(c.X, c.Y).R; v < 40 || v > 215 {
		t.Errorf("blurred pixel = %d, want a mid grey", v)
	}
}

func TestEncodePDFRoundTrip(t *testing.T) {
	doc := doctest.TextDocument("letter.pdf", []string{"Contact Isaac today"})
	rd, err := NewApplier(ModeFill, nil).Apply(context.Background(), doc, planFor(doc, "Isaac", detect.LabelPerson))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path, err := Save(rd, dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "letter_redacted.pdf" {
		t.Errorf("output = %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("output is not a PDF: %q", data[:8])
	}

	back, err := document.NewFileLoader(nil, nil).Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.ReplaceAll(back.Pages[0].Text, " ", "")
	if strings.Contains(text, "Isaac") || !strings.Contains(text, "Contact") {
		t.Errorf("reloaded text = %q", back.Pages[0].Text)
	}
	if back.Pages[0].Width != 612 {
		t.Errorf("page width = %v, want 612", back.Pages[0].Width)
	}
}

func TestEncodePDFKeepsNonLatinText(t *testing.T) {
	doc := doctest.TextDocument("intl.pdf", []string{"Łukasz Żółć Привет €uro"})
	path, err := Save(&RedactedDocument{Document: doc}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	back, err := document.NewFileLoader(nil, nil).Load(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	text := strings.ReplaceAll(back.Pages[0].Text, " ", "")
	for _, want := range []string{"Łukasz", "Żółć", "Привет", "€uro"} {
		if !strings.Contains(text, want) {
			t.Errorf("reloaded text %q lost %q", back.Pages[0].Text, want)
		}
	}
}

func TestSaveImageKeepsFormat(t *testing.T) {
	for _, tc := range []struct{ path, format, want string }{
		{"scan.png", "png", "scan_redacted.png"},
		{"photo.webp", "webp", "photo_redacted.png"},
		{"fax.tiff", "tiff", "fax_redacted.tiff"},
	} {
		doc := doctest.ImageDocument(tc.path, "Isaac")
		doc.Format = tc.format
		rd, err := NewApplier(ModeFill, nil).Apply(context.Background(), doc, planFor(doc, "Isaac", detect.LabelPerson))
		if err != nil {
			t.Fatal(err)
		}
		path, err := Save(rd, t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		if filepath.Base(path) != tc.want {
			t.Errorf("%s: saved as %s, want %s", tc.path, filepath.Base(path), tc.want)
		}
		if tc.format == "png" || tc.format == "webp" {
			f, _ := os.Open(path)
			_, err := png.Decode(f)
			f.Close()
			if err != nil {
				t.Errorf("%s: not a png: %v", tc.path, err)
			}
		}
	}
}

func TestSaveFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "out")
	if err := os.WriteFile(blocker, []byte("not a dir"), 0o600); err != nil {
		t.Fatal(err)
	}
	doc := doctest.TextDocument("a.pdf", []string{"Isaac"})
	rd, err := NewApplier(ModeFill, nil).Apply(context.Background(), doc, planFor(doc, "Isaac", detect.LabelPerson))
	if err != nil {
		t.Fatal(err)
	}

	_, err = Save(rd, blocker)
	if !redacterr.Is(err, redacterr.KindSaveFailure) {
		t.Fatalf("err = %v, want save failure", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("unexpected files after failed save: %v", entries)
	}
}

func TestParseMode(t *testing.T) {
	if ParseMode(" BLUR ") != ModeBlur || ParseMode("fill") != ModeFill || ParseMode("") != ModeFill {
		t.Error("ParseMode mismatch")
	}
}
