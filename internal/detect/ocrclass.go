package detect

import (
	"context"
	"math"
	"strings"
	"unicode"

	"doc-redactor/internal/document"
)

// OcrClassifierDetector labels OCR tokens by shape and reports token-space
// spans. It catches values that OCR split over several tokens with odd
// spacing (card and phone digit groups, IBAN blocks) and email-shaped
// tokens. Text-layer pages produce nothing.
type OcrClassifierDetector struct {
	// MinConfidence ignores tokens OCR was less sure about.
	MinConfidence float64
}

// Name implements Detector.
func (d *OcrClassifierDetector) Name() string { return "ocr-classifier" }

// Detect implements Detector.
func (d *OcrClassifierDetector) Detect(ctx context.Context, p *document.Page) ([]Entity, error) {
	if !p.IsImage() || len(p.Tokens) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	toks := p.Tokens
	var out []Entity
	emit := func(from, to int, label Label) {
		box := toks[from].Box
		words := make([]string, 0, to-from)
		for _, t := range toks[from:to] {
			box = box.Union(t.Box)
			words = append(words, t.Text)
		}
		out = append(out, Entity{
			Span:       BoxSpan(box),
			Text:       strings.Join(words, " "),
			Label:      label,
			Source:     SourceOCR,
			Priority:   PriorityOCR,
			Confidence: meanConfidence(toks[from:to]),
		})
	}

	for i := 0; i < len(toks); {
		t := toks[i]
		if t.Confidence < d.MinConfidence {
			i++
			continue
		}
		switch {
		case isEmailToken(t.Text):
			emit(i, i+1, LabelEmail)
			i++
		case isIBANHead(t.Text):
			j, n := i+1, countAlnum(t.Text)
			for j < len(toks) && j-i < 9 && isAlnumGroup(toks[j].Text) && sameRow(t.Box, toks[j].Box) {
				n += countAlnum(toks[j].Text)
				j++
			}
			if n >= 15 && n <= 34 {
				emit(i, j, LabelIBAN)
				i = j
				continue
			}
			i++
		case isDigitToken(t.Text):
			j, digits := i, ""
			for j < len(toks) && isDigitToken(toks[j].Text) && sameRow(t.Box, toks[j].Box) {
				digits += onlyDigits(toks[j].Text)
				j++
			}
			switch n := len(digits); {
			case n >= 13 && n <= 19 && luhnValid(digits):
				emit(i, j, LabelCard)
				i = j
			case n >= 9 && n <= 15 && j-i > 1:
				emit(i, j, LabelPhone)
				i = j
			default:
				i++
			}
		default:
			i++
		}
	}
	return out, nil
}

func isEmailToken(s string) bool {
	s = strings.Trim(s, ".,;:()<>[]\"'")
	at := strings.IndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".") && !strings.HasSuffix(s, ".")
}

func isIBANHead(s string) bool {
	r := []rune(s)
	if len(r) < 4 || len(r) > 34 {
		return false
	}
	return unicode.IsUpper(r[0]) && unicode.IsUpper(r[1]) && unicode.IsDigit(r[2]) && unicode.IsDigit(r[3]) && isAlnumGroup(s)
}

func isAlnumGroup(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(unicode.IsDigit(r) || unicode.IsUpper(r)) {
			return false
		}
	}
	return true
}

func isDigitToken(s string) bool {
	hasDigit := false
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune("+-.()", r):
		default:
			return false
		}
	}
	return hasDigit
}

func countAlnum(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) || unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sameRow reports whether two boxes overlap vertically by at least half the
// smaller height.
func sameRow(a, b document.BBox) bool {
	overlap := math.Min(a.Bottom(), b.Bottom()) - math.Max(a.Y, b.Y)
	return overlap >= 0.5*math.Min(a.H, b.H)
}

func meanConfidence(toks []document.Token) float64 {
	if len(toks) == 0 {
		return 0
	}
	var sum float64
	for _, t := range toks {
		sum += t.Confidence
	}
	return sum / float64(len(toks))
}
