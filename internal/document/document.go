// Package document holds the in-memory model of a loaded document: pages
// carrying either a positioned text layer (glyphs) or a rendered image with
// OCR tokens, plus the geometry helpers the planner and applier share.
//
// Coordinates use a top-left origin. Text-layer pages are measured in PDF
// points, image pages in pixels.
package document

import (
	"image"
	"math"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// Kind tells the planner which redaction mode a document needs.
type Kind int

const (
	// KindTextLayer is a document with an extractable text layer.
	KindTextLayer Kind = iota
	// KindImage is a scan whose text comes from OCR tokens.
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "text"
}

// BBox is an axis-aligned rectangle.
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Empty reports whether b has no area.
func (b BBox) Empty() bool { return b.W <= 0 || b.H <= 0 }

// Area returns the area of b.
func (b BBox) Area() float64 {
	if b.Empty() {
		return 0
	}
	return b.W * b.H
}

// Right is the x coordinate of the right edge.
func (b BBox) Right() float64 { return b.X + b.W }

// Bottom is the y coordinate of the bottom edge.
func (b BBox) Bottom() float64 { return b.Y + b.H }

// Intersects reports whether b and o share a region of positive area.
// Rectangles that only touch along an edge do not intersect.
func (b BBox) Intersects(o BBox) bool {
	if b.Empty() || o.Empty() {
		return false
	}
	return b.X < o.Right() && o.X < b.Right() && b.Y < o.Bottom() && o.Y < b.Bottom()
}

// Union returns the smallest rectangle covering both b and o.
func (b BBox) Union(o BBox) BBox {
	if b.Empty() {
		return o
	}
	if o.Empty() {
		return b
	}
	x0, y0 := math.Min(b.X, o.X), math.Min(b.Y, o.Y)
	x1, y1 := math.Max(b.Right(), o.Right()), math.Max(b.Bottom(), o.Bottom())
	return BBox{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Rect converts b to integer pixel bounds, rounding outwards so the whole
// box is covered.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(
		int(math.Floor(b.X)), int(math.Floor(b.Y)),
		int(math.Ceil(b.Right())), int(math.Ceil(b.Bottom())),
	)
}

// FromRect converts pixel bounds to a BBox.
func FromRect(r image.Rectangle) BBox {
	return BBox{X: float64(r.Min.X), Y: float64(r.Min.Y), W: float64(r.Dx()), H: float64(r.Dy())}
}

// Glyph is one positioned run of text from a PDF content stream.
type Glyph struct {
	Text     string
	Box      BBox
	Font     string
	FontSize float64
}

// Token is one OCR word.
type Token struct {
	Text       string  `json:"text"`
	Box        BBox    `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Page is a single page. Text is derived from Glyphs or Tokens by the
// constructors and must not be edited independently of them.
type Page struct {
	Index  int
	Width  float64
	Height float64
	Text   string
	Glyphs []Glyph
	Tokens []Token
	Image  image.Image

	// runeOwner maps each rune of Text to its glyph (text pages) or token
	// (image pages); -1 for separators inserted during reconstruction.
	runeOwner []int
	// lines holds [start,end) rune ranges of each text line.
	lines [][2]int
}

// Document is an ordered sequence of pages loaded from Path.
type Document struct {
	Path   string
	Kind   Kind
	Format string // "pdf", "png", "jpeg", ...
	Pages  []*Page
}

// Stem is the file name without directory or extension.
func (d *Document) Stem() string {
	base := filepath.Base(d.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ext is the original extension including the dot.
func (d *Document) Ext() string { return filepath.Ext(d.Path) }

// Clone deep-copies d so callers may derive a new document without
// touching the original's pages or pixels.
func (d *Document) Clone() *Document {
	out := &Document{Path: d.Path, Kind: d.Kind, Format: d.Format, Pages: make([]*Page, len(d.Pages))}
	for i, p := range d.Pages {
		out.Pages[i] = p.Clone()
	}
	return out
}

// Clone deep-copies the page, including its image.
func (p *Page) Clone() *Page {
	cp := *p
	cp.Glyphs = append([]Glyph(nil), p.Glyphs...)
	cp.Tokens = append([]Token(nil), p.Tokens...)
	cp.runeOwner = append([]int(nil), p.runeOwner...)
	cp.lines = append([][2]int(nil), p.lines...)
	if p.Image != nil {
		cp.Image = CloneImage(p.Image)
	}
	return &cp
}

// CloneImage copies img into a fresh RGBA buffer with the same bounds.
func CloneImage(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// IsImage reports whether the page is an OCR'd raster page.
func (p *Page) IsImage() bool { return p.Image != nil }

// RuneLen is the length of Text in runes. Spans index runes, not bytes.
func (p *Page) RuneLen() int { return len(p.runeOwner) }

// Slice returns the text of the rune range [start,end).
func (p *Page) Slice(start, end int) string {
	r := []rune(p.Text)
	if start < 0 {
		start = 0
	}
	if end > len(r) {
		end = len(r)
	}
	if start >= end {
		return ""
	}
	return string(r[start:end])
}

// TokenRange returns the rune range of token i in Text.
func (p *Page) TokenRange(i int) (start, end int) {
	start, end = -1, -1
	for r, owner := range p.runeOwner {
		if owner != i {
			continue
		}
		if start < 0 {
			start = r
		}
		end = r + 1
	}
	return start, end
}

// BoxesFor projects the rune range [start,end) onto page geometry: token
// boxes on image pages, one box per line on text pages.
func (p *Page) BoxesFor(start, end int) []BBox {
	if start < 0 {
		start = 0
	}
	if end > len(p.runeOwner) {
		end = len(p.runeOwner)
	}
	var out []BBox
	if p.IsImage() {
		seen := -1
		for r := start; r < end; r++ {
			owner := p.runeOwner[r]
			if owner < 0 || owner == seen {
				continue
			}
			seen = owner
			out = append(out, p.Tokens[owner].Box)
		}
		return out
	}
	for _, ln := range p.lines {
		s, e := max(start, ln[0]), min(end, ln[1])
		if s >= e {
			continue
		}
		if box := p.rangeBox(s, e); !box.Empty() {
			out = append(out, box)
		}
	}
	return out
}

// rangeBox unions the boxes of the glyphs or tokens owning runes in
// [start,end).
func (p *Page) rangeBox(start, end int) BBox {
	var box BBox
	last := -1
	for r := start; r < end; r++ {
		owner := p.runeOwner[r]
		if owner < 0 || owner == last {
			continue
		}
		last = owner
		if p.IsImage() {
			box = box.Union(p.Tokens[owner].Box)
		} else {
			box = box.Union(p.Glyphs[owner].Box)
		}
	}
	return box
}
