package detect

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"doc-redactor/internal/document"
)

// Stopwords drops detections whose whole text is a common word, which
// statistical taggers occasionally label as a name. Lists are kept per
// language and only the page's language applies.
type Stopwords struct {
	byLang map[string]map[string]bool
}

// NewStopwords builds a list for one language from words.
func NewStopwords(lang string, words ...string) *Stopwords {
	s := &Stopwords{byLang: make(map[string]map[string]bool)}
	s.Add(lang, words...)
	return s
}

// Add appends words to lang's list.
func (s *Stopwords) Add(lang string, words ...string) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	set := s.byLang[lang]
	if set == nil {
		set = make(map[string]bool, len(words))
		s.byLang[lang] = set
	}
	for _, w := range words {
		if w = document.FoldKey(w); w != "" {
			set[w] = true
		}
	}
}

// LoadStopwords reads every "<lang>_stopwords.txt" in dir, one word per
// line, '#' starting a comment. A missing dir yields an empty list.
func LoadStopwords(dir string) (*Stopwords, error) {
	s := &Stopwords{byLang: make(map[string]map[string]bool)}
	if dir == "" {
		return s, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, "*_stopwords.txt"))
	if err != nil {
		return nil, err
	}
	for _, path := range files {
		lang := strings.TrimSuffix(filepath.Base(path), "_stopwords.txt")
		if err := s.loadFile(lang, path); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Stopwords) loadFile(lang, path string) error {
	f, err := os.Open(path) // #nosec G304 -- path from trusted config dir
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck // read-only
	var words []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	s.Add(lang, words...)
	return nil
}

// Len is the number of words over every language.
func (s *Stopwords) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, set := range s.byLang {
		n += len(set)
	}
	return n
}

// Languages lists the languages with a list, sorted.
func (s *Stopwords) Languages() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.byLang))
	for lang, set := range s.byLang {
		if len(set) > 0 {
			out = append(out, lang)
		}
	}
	sort.Strings(out)
	return out
}

// Filter removes detector entities that are stopwords in lang. An unknown
// or unlisted language filters nothing. Caller-supplied entities are kept
// whatever their text.
func (s *Stopwords) Filter(lang string, ents []Entity) []Entity {
	if s == nil {
		return ents
	}
	words := s.byLang[strings.ToLower(lang)]
	if len(words) == 0 {
		return ents
	}
	out := ents[:0:0]
	for _, e := range ents {
		if e.Source != SourceRequest && words[document.FoldKey(e.Text)] {
			continue
		}
		out = append(out, e)
	}
	return out
}
