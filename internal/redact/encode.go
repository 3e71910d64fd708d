package redact

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/bmp"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/tiff"

	"doc-redactor/internal/document"
)

// pdfEpoch is written as the creation date so identical inputs produce
// identical files.
var pdfEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// textFont is embedded as a UTF-8 font so rebuilt text keeps every
// character the source had, not only the cp1252 subset of the core fonts.
const textFont = "goregular"

// OutputExt is the extension of the encoded output. Formats without an
// encoder (webp) are written as PNG and multi-page scans as PDF; callers
// report the change to the requester.
func (rd *RedactedDocument) OutputExt() string {
	switch rd.format() {
	case "pdf":
		return ".pdf"
	case "webp":
		return ".png"
	}
	if ext := rd.Document.Ext(); ext != "" {
		return ext
	}
	return "." + rd.format()
}

// OutputName is "<stem>_redacted<ext>".
func (rd *RedactedDocument) OutputName() string {
	return rd.Document.Stem() + "_redacted" + rd.OutputExt()
}

func (rd *RedactedDocument) format() string {
	d := rd.Document
	if d.Format == "pdf" || d.Kind == document.KindTextLayer || len(d.Pages) != 1 || d.Pages[0].Image == nil {
		return "pdf"
	}
	return strings.ToLower(d.Format)
}

// Encode writes the redacted document. Text-layer and multi-page
// documents become a PDF rebuilt from the surviving glyphs, with every
// region painted black; a single scanned image keeps its format.
func (rd *RedactedDocument) Encode(w io.Writer) error {
	switch f := rd.format(); f {
	case "pdf":
		return rd.encodePDF(w)
	default:
		return encodeImage(w, rd.Document.Pages[0].Image, f)
	}
}

func encodeImage(w io.Writer, img image.Image, format string) error {
	switch format {
	case "jpeg", "jpg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 92})
	case "gif":
		return gif.Encode(w, img, nil)
	case "bmp":
		return bmp.Encode(w, img)
	case "tif", "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return png.Encode(w, img)
	}
}

func (rd *RedactedDocument) encodePDF(w io.Writer) error {
	pdf := fpdf.NewCustom(&fpdf.InitType{OrientationStr: "P", UnitStr: "pt", Size: fpdf.SizeType{Wd: 612, Ht: 792}})
	pdf.SetCreationDate(pdfEpoch)
	pdf.SetCatalogSort(true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(0, 0, 0)
	pdf.AddUTF8FontFromBytes(textFont, "", goregular.TTF)
	if pdf.Err() {
		return fmt.Errorf("load pdf font: %w", pdf.Error())
	}

	byPage := make(map[int][]document.BBox)
	for _, r := range rd.Regions {
		byPage[r.Page] = append(byPage[r.Page], r.Box)
	}

	for _, p := range rd.Document.Pages {
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: p.Width, Ht: p.Height})
		if p.Image != nil {
			if err := placeImage(pdf, p); err != nil {
				return err
			}
		}
		pdf.SetTextColor(0, 0, 0)
		for _, g := range p.Glyphs {
			size := g.FontSize
			if size <= 0 {
				size = g.Box.H
			}
			pdf.SetFont(textFont, "", size)
			pdf.Text(g.Box.X, g.Box.Y+0.8*size, g.Text)
		}
		if p.Image != nil {
			continue // pixels were already obscured
		}
		pdf.SetFillColor(0, 0, 0)
		for _, b := range byPage[p.Index] {
			pdf.Rect(b.X, b.Y, b.W, b.H, "F")
		}
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("encode pdf: %w", err)
	}
	return nil
}

func placeImage(pdf *fpdf.Fpdf, p *document.Page) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, p.Image); err != nil {
		return fmt.Errorf("encode page %d image: %w", p.Index, err)
	}
	name := fmt.Sprintf("page-%d", p.Index)
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader(name, opts, &buf)
	pdf.ImageOptions(name, 0, 0, p.Width, p.Height, false, opts, 0, "")
	if pdf.Err() {
		return fmt.Errorf("place page %d image: %w", p.Index, pdf.Error())
	}
	return nil
}
