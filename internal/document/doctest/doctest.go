// Package doctest builds small in-memory documents for tests.
package doctest

import (
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"

	"doc-redactor/internal/document"
)

// FontSize of generated glyphs; each character is half as wide.
const FontSize = 10.0

// LineHeight is the vertical distance between generated lines.
const LineHeight = 14.0

// Glyphs lays text out as one glyph per non-space character starting at
// (x, y), with a blank advance for spaces.
func Glyphs(text string, x, y float64) []document.Glyph {
	var out []document.Glyph
	adv := FontSize / 2
	for _, r := range text {
		if r != ' ' {
			out = append(out, document.Glyph{
				Text:     string(r),
				Font:     "Helvetica",
				FontSize: FontSize,
				Box:      document.BBox{X: x, Y: y, W: adv, H: FontSize},
			})
		}
		x += adv
	}
	return out
}

// TextPage builds a US Letter text-layer page with one line per argument.
func TextPage(index int, lines ...string) *document.Page {
	var glyphs []document.Glyph
	for i, ln := range lines {
		glyphs = append(glyphs, Glyphs(ln, 72, 72+float64(i)*LineHeight)...)
	}
	return document.NewTextPage(index, 612, 792, glyphs)
}

// TextDocument builds a PDF-kind document; each element of pages is the
// line list of one page.
func TextDocument(path string, pages ...[]string) *document.Document {
	doc := &document.Document{Path: path, Kind: document.KindTextLayer, Format: "pdf"}
	for i, lines := range pages {
		doc.Pages = append(doc.Pages, TextPage(i, lines...))
	}
	return doc
}

// Tokens lays words out left to right on a single row, 12px per character
// with a 12px gap, 20px high, starting at (10, 10).
func Tokens(text string) []document.Token {
	var out []document.Token
	x := 10.0
	for _, w := range strings.Fields(text) {
		width := float64(12 * len([]rune(w)))
		out = append(out, document.Token{Text: w, Box: document.BBox{X: x, Y: 10, W: width, H: 20}, Confidence: 0.9})
		x += width + 12
	}
	return out
}

// ImagePage builds a white raster page wide enough for text, OCR'd as Tokens(text).
func ImagePage(index int, text string) *document.Page {
	toks := Tokens(text)
	w := 40
	if n := len(toks); n > 0 {
		w = int(toks[n-1].Box.Right()) + 10
	}
	img := image.NewRGBA(image.Rect(0, 0, w, 40))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	return document.NewImagePage(index, img, toks)
}

// ImageDocument builds a single-page PNG document.
func ImageDocument(path, text string) *document.Document {
	return &document.Document{
		Path:   path,
		Kind:   document.KindImage,
		Format: "png",
		Pages:  []*document.Page{ImagePage(0, text)},
	}
}
