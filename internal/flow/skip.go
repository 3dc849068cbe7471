package flow

import (
	"strings"
	"unicode"
)

// DefaultSkipPhrases are the phrases that skip any question.
var DefaultSkipPhrases = []string{
	"skip",
	"pass",
	"next",
	"don't want",
	"dont want",
	"prefer not",
	"n/a",
	"not applicable",
	"no answer",
	"rather not",
}

// SkipMatcher recognizes a request to skip the current question.
// A phrase matches anywhere in the answer as long as it is not part of a longer word,
// so "pass" skips but "passionate" does not.
type SkipMatcher struct {
	phrases []string
}

// NewSkipMatcher builds a matcher from phrases; empty entries are ignored.
func NewSkipMatcher(phrases []string) *SkipMatcher {
	m := &SkipMatcher{}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			m.phrases = append(m.phrases, p)
		}
	}
	return m
}

// Phrases returns the configured phrases.
func (m *SkipMatcher) Phrases() []string {
	return append([]string(nil), m.phrases...)
}

// Match reports whether raw contains a skip phrase.
func (m *SkipMatcher) Match(raw string) bool {
	s := strings.ToLower(raw)
	for _, p := range m.phrases {
		for from := 0; ; {
			i := strings.Index(s[from:], p)
			if i < 0 {
				break
			}
			start := from + i
			end := start + len(p)
			if boundary(s, start-1) && boundary(s, end) {
				return true
			}
			from = start + 1
		}
	}
	return false
}

// boundary reports whether s[i] is outside s or not a letter or digit.
func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return r < 0x80 && !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
