package dedup

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const minSignificantWordLength = 4

// NormalizeTitle lowercases, folds diacritics, drops punctuation and
// collapses whitespace: "Kenya launches X!!" -> "kenya launches x".
func NormalizeTitle(title string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func NormalizeURL(link string) string {
	return strings.ToLower(strings.TrimSpace(link))
}

// Similarity is the share of significant words two normalised titles have
// in common, relative to the larger word set.
func Similarity(a, b string) float64 {
	wordsA := significantWords(a)
	wordsB := significantWords(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	common := 0
	for w := range wordsA {
		if wordsB[w] {
			common++
		}
	}

	return float64(common) / float64(max(len(wordsA), len(wordsB)))
}

func significantWords(title string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(title) {
		if utf8.RuneCountInString(w) >= minSignificantWordLength {
			words[w] = true
		}
	}
	return words
}
