package scan

import (
	"regexp"
	"sort"
	"strings"
)

// Classifier flags prohibited terms in free text. Note and message bodies
// pass through a Classifier before persistence; matches are recorded, never
// rejected.
type Classifier interface {
	Scan(text string) []string
}

// TermScanner matches a fixed term list on word boundaries, case-insensitive.
type TermScanner struct {
	patterns map[string]*regexp.Regexp
}

// NewTermScanner compiles one pattern per term. Empty terms are skipped.
func NewTermScanner(terms []string) *TermScanner {
	s := &TermScanner{patterns: map[string]*regexp.Regexp{}}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, ok := s.patterns[term]; ok {
			continue
		}
		s.patterns[term] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
	}
	return s
}

// Scan returns the matched terms sorted alphabetically, each at most once.
func (s *TermScanner) Scan(text string) []string {
	if text == "" || len(s.patterns) == 0 {
		return nil
	}
	var hits []string
	for term, re := range s.patterns {
		if re.MatchString(text) {
			hits = append(hits, term)
		}
	}
	sort.Strings(hits)
	return hits
}
