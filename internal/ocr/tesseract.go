// Package ocr reads words and their bounding boxes off page images with
// Tesseract.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"doc-redactor/internal/document"
)

// Tesseract implements document.Extractor. A gosseract client is not safe
// for concurrent use, so each call gets its own.
type Tesseract struct {
	Languages     []string
	MinConfidence float64 // tokens below this confidence in [0,1] are dropped

	newClient func() *gosseract.Client
}

// NewTesseract returns an extractor for the given Tesseract language codes
// ("eng", "fra", ...).
func NewTesseract(languages ...string) *Tesseract {
	return &Tesseract{Languages: languages, newClient: gosseract.NewClient}
}

// Extract implements document.Extractor.
func (t *Tesseract) Extract(ctx context.Context, img image.Image) ([]document.Token, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := t.newClient()
	defer c.Close() //nolint:errcheck // best-effort release of the tesseract handle

	if len(t.Languages) > 0 {
		if err := c.SetLanguage(t.Languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("word boxes: %w", err)
	}
	return tokensFromBoxes(boxes, img.Bounds().Min, t.MinConfidence), nil
}

// tokensFromBoxes converts word boxes to tokens in page coordinates.
// Tesseract reports boxes relative to the encoded image, whose origin is
// (0,0) even when the source image's bounds are not.
func tokensFromBoxes(boxes []gosseract.BoundingBox, origin image.Point, minConf float64) []document.Token {
	out := make([]document.Token, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		conf := b.Confidence / 100.0
		if conf < minConf {
			continue
		}
		out = append(out, document.Token{
			Text:       word,
			Box:        document.FromRect(b.Box.Add(origin)),
			Confidence: conf,
		})
	}
	return out
}
