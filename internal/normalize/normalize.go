// Package normalize canonicalises search terms so that trivially different
// queries ("Self Assessment", "self-assessments") are counted together.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/go-porterstemmer"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// tokenPattern splits text into runs of word characters and runs of
// punctuation.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]+`)

var folder = cases.Fold()

// SearchTerm returns the normalised form of a raw search term: NFKC, case
// folded, tokenised into words and punctuation, every word Porter-stemmed,
// tokens joined by single spaces.
func SearchTerm(raw string) string {
	tokens := Tokenize(folder.String(norm.NFKC.String(raw)))
	for i, tok := range tokens {
		if hasLetter(tok) {
			tokens[i] = porterstemmer.StemString(tok)
		}
	}
	return strings.Join(tokens, " ")
}

// Tokenize splits text into word and punctuation tokens, dropping whitespace.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(text, -1)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
