// Package textnorm folds free text into the form keyword matching runs on.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Fold applies NFKC normalization, replaces control characters other than
// newline and tab with a space, and lower-cases the result. Keywords and
// incident text must both pass through Fold so substring containment
// compares like with like. A control character never joins the text on
// either side of it.
func Fold(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.ToLower(s)
}

// Keyword folds a keyword and trims surrounding whitespace.
func Keyword(s string) string {
	return strings.TrimSpace(Fold(s))
}

// CountPresent returns how many of keywords occur in text as substrings.
// Each keyword counts at most once however often it appears, and keywords are
// expected to be distinct.
func CountPresent(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}
