package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"strings"

	// Register decoders for every raster format a scan may arrive in.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/h2non/filetype"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"

	"doc-redactor/internal/logger"
	"doc-redactor/internal/redacterr"
)

// Default page size (US Letter, points) when a PDF page has no MediaBox.
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// Loader turns a file path into a Document.
type Loader interface {
	Load(ctx context.Context, path string) (*Document, error)
}

// Extractor reads words and their boxes off a page image.
type Extractor interface {
	Extract(ctx context.Context, img image.Image) ([]Token, error)
}

// FileLoader sniffs the file type and loads PDFs through their text layer
// and images through OCR. A nil OCR leaves image pages without tokens.
type FileLoader struct {
	OCR          Extractor
	RowTolerance float64
	MaxPages     int // 0 = unlimited
	Log          *logger.Logger
}

// NewFileLoader returns a FileLoader with default layout settings.
func NewFileLoader(ocr Extractor, log *logger.Logger) *FileLoader {
	if log == nil {
		log = logger.Nop()
	}
	return &FileLoader{OCR: ocr, RowTolerance: DefaultRowTolerance, Log: log}
}

// Load implements Loader. Every failure is an UnreadableDocument.
func (l *FileLoader) Load(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- caller-provided document path
	if err != nil {
		return nil, redacterr.Unreadable("load", path, err)
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return nil, redacterr.Unreadable("sniff", path, err)
	}
	switch {
	case kind.Extension == "pdf":
		return l.loadPDF(ctx, path, data)
	case filetype.IsImage(data):
		return l.loadImage(ctx, path, data)
	default:
		return nil, redacterr.Unreadable("sniff", path, fmt.Errorf("unsupported file type %q", kind.MIME.Value))
	}
}

func (l *FileLoader) loadPDF(ctx context.Context, path string, data []byte) (doc *Document, err error) {
	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, redacterr.Unreadable("parse_pdf", path, fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, redacterr.Unreadable("parse_pdf", path, err)
	}
	n := r.NumPage()
	if n == 0 {
		return nil, redacterr.Unreadable("parse_pdf", path, errors.New("document has no pages"))
	}
	if l.MaxPages > 0 && n > l.MaxPages {
		return nil, redacterr.Unreadable("parse_pdf", path, fmt.Errorf("%d pages exceeds limit of %d", n, l.MaxPages))
	}

	doc = &Document{Path: path, Kind: KindTextLayer, Format: "pdf", Pages: make([]*Page, 0, n)}
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, redacterr.Cancelled(err)
		}
		page := r.Page(i)
		if page.V.IsNull() {
			doc.Pages = append(doc.Pages, NewTextPage(i-1, defaultPageWidth, defaultPageHeight, nil))
			continue
		}
		w, h := mediaBox(page.V)
		glyphs := glyphsFromContent(page.Content().Text, h)
		doc.Pages = append(doc.Pages, newTextPage(i-1, w, h, glyphs, l.rowTolerance()))
	}
	l.Log.Debugf("load_pdf", "%d pages from %s", len(doc.Pages), path)
	return doc, nil
}

func (l *FileLoader) rowTolerance() float64 {
	if l.RowTolerance <= 0 {
		return DefaultRowTolerance
	}
	return l.RowTolerance
}

// glyphsFromContent flips PDF baseline coordinates to a top-left origin.
// Glyph height is taken as the font size with the baseline at 80% of it.
func glyphsFromContent(texts []pdf.Text, pageHeight float64) []Glyph {
	out := make([]Glyph, 0, len(texts))
	for _, t := range texts {
		s := norm.NFC.String(t.S)
		if strings.TrimSpace(s) == "" {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		w := t.W
		if w <= 0 {
			w = 0.5 * size * float64(len([]rune(s)))
		}
		out = append(out, Glyph{
			Text:     s,
			Font:     t.Font,
			FontSize: size,
			Box:      BBox{X: t.X, Y: pageHeight - t.Y - 0.8*size, W: w, H: size},
		})
	}
	return out
}

// mediaBox resolves the page size, walking up inherited Parent nodes.
func mediaBox(v pdf.Value) (w, h float64) {
	for node, depth := v, 0; !node.IsNull() && depth < 16; node, depth = node.Key("Parent"), depth+1 {
		mb := node.Key("MediaBox")
		if mb.Len() != 4 {
			continue
		}
		w = mb.Index(2).Float64() - mb.Index(0).Float64()
		h = mb.Index(3).Float64() - mb.Index(1).Float64()
		if w > 0 && h > 0 {
			return w, h
		}
	}
	return defaultPageWidth, defaultPageHeight
}

func (l *FileLoader) loadImage(ctx context.Context, path string, data []byte) (*Document, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, redacterr.Unreadable("decode_image", path, err)
	}
	var tokens []Token
	if l.OCR != nil {
		tokens, err = l.OCR.Extract(ctx, img)
		switch {
		case ctx.Err() != nil:
			return nil, redacterr.Cancelled(ctx.Err())
		case err != nil:
			l.Log.Warnf("ocr", "%s: %v (page kept without tokens)", path, err)
			tokens = nil
		}
	} else {
		l.Log.Warnf("ocr", "%s: no OCR extractor configured, image has no text", path)
	}
	return &Document{
		Path:   path,
		Kind:   KindImage,
		Format: format,
		Pages:  []*Page{NewImagePage(0, img, tokens)},
	}, nil
}
