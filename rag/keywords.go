package rag

import (
	"slices"
	"strings"
	"unicode"
)

// MaxKeywords bounds the number of terms returned by ExtractKeywords.
const MaxKeywords = 20

const minKeywordLength = 3

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		the a an and or but in on at to for of with
		by from as is was are were been be have has had
		do does did will would could should may might must
		shall can need dare ought used this that these those
		i you he she it we they what which who whom
		when where why how all each every both few more
		most other some such no nor not only own same
		so than too very just also now here there then`) {
		stopWords[w] = struct{}{}
	}
}

// IsStopWord reports whether w is excluded from keyword extraction.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// ExtractKeywords reduces text to at most MaxKeywords lowercase terms, most
// frequent first. Ties keep first-seen order. Punctuation is deleted rather
// than treated as a separator, so "Casey's" yields "caseys".
func ExtractKeywords(text string) []string {
	if text == "" {
		return nil
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return -1
		}
	}, text)

	counts := make(map[string]int)
	var order []string
	for _, word := range strings.Fields(cleaned) {
		if len([]rune(word)) < minKeywordLength || IsStopWord(word) {
			continue
		}
		if counts[word] == 0 {
			order = append(order, word)
		}
		counts[word]++
	}

	slices.SortStableFunc(order, func(a, b string) int {
		return counts[b] - counts[a]
	})

	if len(order) > MaxKeywords {
		order = order[:MaxKeywords]
	}
	return order
}
