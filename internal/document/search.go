package document

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Searcher locates every rendered occurrence of a literal on a page.
type Searcher interface {
	Search(p *Page, literal string) []BBox
}

// TextSearch is the default Searcher. Matching is case-insensitive and
// NFC-normalised, runs line by line, and returns one box per occurrence.
// A literal that wraps across two lines is not found.
type TextSearch struct{}

// Search implements Searcher.
func (TextSearch) Search(p *Page, literal string) []BBox {
	var out []BBox
	for _, occ := range Occurrences(p, literal) {
		if box := p.rangeBox(occ[0], occ[1]); !box.Empty() {
			out = append(out, box)
		}
	}
	return out
}

// Occurrences returns the rune ranges of every non-overlapping occurrence
// of literal in the page text, line by line, in reading order.
func Occurrences(p *Page, literal string) [][2]int {
	needle := foldRunes(NormalizeLiteral(literal))
	if len(needle) == 0 {
		return nil
	}
	hay := foldRunes(p.Text)
	if len(hay) != len(p.runeOwner) {
		return nil
	}
	var out [][2]int
	for _, ln := range p.lines {
		for i := ln[0]; i+len(needle) <= ln[1]; {
			if !equalAt(hay, i, needle) {
				i++
				continue
			}
			out = append(out, [2]int{i, i + len(needle)})
			i += len(needle)
		}
	}
	return out
}

// Count returns how many times literal occurs in the page text.
func Count(p *Page, literal string) int { return len(Occurrences(p, literal)) }

// NormalizeLiteral NFC-normalises s and collapses runs of whitespace to a
// single space, matching how page text is rebuilt.
func NormalizeLiteral(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// FoldKey is the case-folded form used to compare literals.
func FoldKey(s string) string {
	return string(foldRunes(NormalizeLiteral(s)))
}

func foldRunes(s string) []rune {
	r := []rune(s)
	for i, c := range r {
		r[i] = unicode.ToLower(c)
	}
	return r
}

func equalAt(hay []rune, at int, needle []rune) bool {
	for j, c := range needle {
		if hay[at+j] != c {
			return false
		}
	}
	return true
}
