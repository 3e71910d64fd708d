package document

import (
	"image"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultRowTolerance groups glyphs whose tops differ by at most this many
// points into one text line.
const DefaultRowTolerance = 3.0

// wordGapFactor is the fraction of the font size above which the horizontal
// gap between two glyphs is read as a word space.
const wordGapFactor = 0.15

// NewTextPage builds a text-layer page. Glyphs are put in reading order
// (rows top to bottom, left to right within a row) and Text is rebuilt from
// them with single spaces between words and a newline between rows.
// Whitespace-only glyphs carry no ink and are dropped.
func NewTextPage(index int, width, height float64, glyphs []Glyph) *Page {
	return newTextPage(index, width, height, glyphs, DefaultRowTolerance)
}

func newTextPage(index int, width, height float64, glyphs []Glyph, tolerance float64) *Page {
	p := &Page{Index: index, Width: width, Height: height}
	var sb strings.Builder
	for ri, row := range groupIntoRows(glyphs, tolerance) {
		if ri > 0 {
			sb.WriteByte('\n')
			p.runeOwner = append(p.runeOwner, -1)
		}
		lineStart := len(p.runeOwner)
		for gi, g := range row {
			if gi > 0 && isWordGap(row[gi-1], g) {
				sb.WriteByte(' ')
				p.runeOwner = append(p.runeOwner, -1)
			}
			idx := len(p.Glyphs)
			p.Glyphs = append(p.Glyphs, g)
			for _, r := range g.Text {
				sb.WriteRune(r)
				p.runeOwner = append(p.runeOwner, idx)
			}
		}
		p.lines = append(p.lines, [2]int{lineStart, len(p.runeOwner)})
	}
	p.Text = sb.String()
	return p
}

// groupIntoRows clusters glyphs by their top edge and sorts each row by X.
func groupIntoRows(glyphs []Glyph, tolerance float64) [][]Glyph {
	inked := make([]Glyph, 0, len(glyphs))
	for _, g := range glyphs {
		if strings.TrimSpace(g.Text) != "" {
			inked = append(inked, g)
		}
	}
	sort.SliceStable(inked, func(i, j int) bool {
		if inked[i].Box.Y != inked[j].Box.Y {
			return inked[i].Box.Y < inked[j].Box.Y
		}
		return inked[i].Box.X < inked[j].Box.X
	})

	var rows [][]Glyph
	var rowY float64
	for _, g := range inked {
		if len(rows) == 0 || g.Box.Y-rowY > tolerance {
			rows = append(rows, nil)
			rowY = g.Box.Y
		}
		rows[len(rows)-1] = append(rows[len(rows)-1], g)
	}
	for _, row := range rows {
		sort.SliceStable(row, func(i, j int) bool { return row[i].Box.X < row[j].Box.X })
	}
	return rows
}

func isWordGap(prev, next Glyph) bool {
	size := math.Max(prev.FontSize, next.FontSize)
	if size <= 0 {
		size = math.Max(prev.Box.H, next.Box.H)
	}
	return next.Box.X-prev.Box.Right() > wordGapFactor*size
}

// NewImagePage builds a raster page whose Text is the OCR tokens joined by
// single spaces, in the order the extractor returned them.
func NewImagePage(index int, img image.Image, tokens []Token) *Page {
	b := img.Bounds()
	p := &Page{Index: index, Width: float64(b.Dx()), Height: float64(b.Dy()), Image: img}
	var sb strings.Builder
	for _, tok := range tokens {
		if strings.TrimSpace(tok.Text) == "" {
			continue
		}
		if len(p.Tokens) > 0 {
			sb.WriteByte(' ')
			p.runeOwner = append(p.runeOwner, -1)
		}
		idx := len(p.Tokens)
		p.Tokens = append(p.Tokens, tok)
		for _, r := range tok.Text {
			sb.WriteRune(r)
			p.runeOwner = append(p.runeOwner, idx)
		}
	}
	p.Text = sb.String()
	p.lines = [][2]int{{0, len(p.runeOwner)}}
	return p
}

// NewPlainPage wraps free text with no geometry, as used by /label. The
// text is NFC-normalised like extracted page text.
func NewPlainPage(text string) *Page {
	text = norm.NFC.String(text)
	p := &Page{Text: text}
	n := 0
	for range text {
		p.runeOwner = append(p.runeOwner, -1)
		n++
	}
	p.lines = [][2]int{{0, n}}
	return p
}
