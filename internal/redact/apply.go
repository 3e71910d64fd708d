// Package redact applies a redaction plan to a document and writes the
// result. Text under a region is removed from the text layer, never just
// covered; image regions are filled or blurred in a copy of the pixels.
package redact

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"

	"golang.org/x/image/draw"

	"doc-redactor/internal/document"
	"doc-redactor/internal/logger"
	"doc-redactor/internal/plan"
	"doc-redactor/internal/redacterr"
)

// Mode selects how image regions are obscured.
type Mode string

// Image redaction modes.
const (
	ModeFill Mode = "fill"
	ModeBlur Mode = "blur"
)

// ParseMode maps a config value to a Mode, defaulting to fill.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeBlur)) {
		return ModeBlur
	}
	return ModeFill
}

// RedactedDocument is the output of Apply. Document is derived from the
// input and shares none of its pages or pixels; for text-layer pages its
// glyphs are the ones that survived redaction.
type RedactedDocument struct {
	Document *document.Document
	Regions  []plan.Region
}

// Applier applies plans.
type Applier struct {
	Mode Mode
	Log  *logger.Logger
}

// NewApplier returns an applier for the given image mode.
func NewApplier(mode Mode, log *logger.Logger) *Applier {
	if log == nil {
		log = logger.Nop()
	}
	return &Applier{Mode: mode, Log: log}
}

// Apply produces a redacted copy of doc. The input document is not
// modified, and pl is consumed: applying it again is an error.
func (a *Applier) Apply(ctx context.Context, doc *document.Document, pl *plan.Plan) (*RedactedDocument, error) {
	if err := pl.Consume(); err != nil {
		return nil, err
	}
	out := &document.Document{Path: doc.Path, Kind: doc.Kind, Format: doc.Format, Pages: make([]*document.Page, len(doc.Pages))}
	for i, p := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, redacterr.Cancelled(err)
		}
		regions := pl.Regions(p.Index)
		switch {
		case len(regions) == 0:
			out.Pages[i] = p.Clone()
		case p.IsImage():
			out.Pages[i] = a.applyImage(p, regions)
		default:
			out.Pages[i] = applyText(p, regions)
		}
	}
	a.Log.Debugf("apply", "%d region(s) on %d page(s)", pl.Count(), len(pl.Pages))
	return &RedactedDocument{Document: out, Regions: pl.All()}, nil
}

// applyText drops every glyph touching a region and rebuilds the page
// text from what is left.
func applyText(p *document.Page, regions []plan.Region) *document.Page {
	kept := make([]document.Glyph, 0, len(p.Glyphs))
	for _, g := range p.Glyphs {
		if !hitsAny(g.Box, regions) {
			kept = append(kept, g)
		}
	}
	return document.NewTextPage(p.Index, p.Width, p.Height, kept)
}

// applyImage obscures each region in a copy of the page image and drops
// the OCR tokens it covered.
func (a *Applier) applyImage(p *document.Page, regions []plan.Region) *document.Page {
	img := document.CloneImage(p.Image)
	for _, r := range regions {
		rect := r.Box.Rect().Intersect(img.Bounds())
		if rect.Empty() {
			continue
		}
		if a.Mode == ModeBlur {
			blur(img, rect)
		} else {
			draw.Draw(img, rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
		}
	}
	kept := make([]document.Token, 0, len(p.Tokens))
	for _, t := range p.Tokens {
		if !hitsAny(t.Box, regions) {
			kept = append(kept, t)
		}
	}
	return document.NewImagePage(p.Index, img, kept)
}

func hitsAny(b document.BBox, regions []plan.Region) bool {
	for _, r := range regions {
		if b.Intersects(r.Box) {
			return true
		}
	}
	return false
}

// blurFactor is the downscale ratio used before scaling a region back up.
const blurFactor = 8

// blur pixelates rect by scaling it down and back up, then smooths the
// blocks with a 3x3 box filter so no glyph shape survives.
func blur(img *image.RGBA, rect image.Rectangle) {
	small := image.NewRGBA(image.Rect(0, 0, max(rect.Dx()/blurFactor, 1), max(rect.Dy()/blurFactor, 1)))
	draw.ApproxBiLinear.Scale(small, small.Bounds(), img, rect, draw.Src, nil)
	draw.NearestNeighbor.Scale(img, rect, small, small.Bounds(), draw.Src, nil)
	boxFilter(img, rect)
}

func boxFilter(img *image.RGBA, rect image.Rectangle) {
	src := image.NewRGBA(rect)
	draw.Draw(src, rect, img, rect.Min, draw.Src)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			var r, g, b, al, n uint32
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					pt := image.Pt(x+dx, y+dy)
					if !pt.In(rect) {
						continue
					}
					c := src.RGBAAt(pt.X, pt.Y)
					r, g, b, al = r+uint32(c.R), g+uint32(c.G), b+uint32(c.B), al+uint32(c.A)
					n++
				}
			}
			img.SetRGBA(x, y, color.RGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: uint8(al / n)})
		}
	}
}

// String summarises the output for logs.
func (rd *RedactedDocument) String() string {
	return fmt.Sprintf("%s: %d page(s), %d region(s)", rd.Document.Path, len(rd.Document.Pages), len(rd.Regions))
}
