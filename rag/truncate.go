package rag

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

const truncationMarker = "\n\n[... context truncated ...]"

type SentenceSplitter interface {
	Split(text string) []string
}

// ProseSentenceSplitter segments with prose and falls back to the regex
// splitter when prose cannot build a document.
type ProseSentenceSplitter struct {
	fallback RegexSentenceSplitter
}

func NewProseSentenceSplitter() ProseSentenceSplitter {
	return ProseSentenceSplitter{fallback: NewRegexSentenceSplitter()}
}

func (p ProseSentenceSplitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false))
	if err != nil {
		return p.fallback.Split(text)
	}

	sentences := doc.Sentences()
	if len(sentences) == 0 {
		return p.fallback.Split(text)
	}
	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

type RegexSentenceSplitter struct{}

func NewRegexSentenceSplitter() RegexSentenceSplitter {
	return RegexSentenceSplitter{}
}

func (RegexSentenceSplitter) Split(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	var sentences []string
	var builder strings.Builder

	isBoundary := func(r rune) bool {
		switch r {
		case '.', '!', '?':
			return true
		default:
			return false
		}
	}

	flush := func() {
		if builder.Len() == 0 {
			return
		}
		sentence := strings.TrimSpace(builder.String())
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		builder.Reset()
	}

	for idx, r := range runes {
		builder.WriteRune(r)
		if !isBoundary(r) {
			continue
		}
		// Look ahead to determine if this is end of sentence
		next := idx + 1
		for next < len(runes) && unicode.IsSpace(runes[next]) {
			next++
		}
		if next >= len(runes) || isBoundary(runes[next]) {
			continue
		}
		flush()
	}

	flush()

	if len(sentences) == 0 {
		return []string{trimmed}
	}
	return sentences
}

// TruncateAtSentence bounds text to maxChars characters (marker included),
// dropping the sentence that straddles the limit. Text that is already short
// enough is returned unchanged.
func TruncateAtSentence(text string, maxChars int, splitter SentenceSplitter) string {
	runes := []rune(text)
	if maxChars <= 0 || len(runes) <= maxChars {
		return text
	}

	budget := maxChars - len([]rune(truncationMarker))
	if budget <= 0 {
		return string(runes[:maxChars])
	}
	head := string(runes[:budget])

	if splitter == nil {
		splitter = NewRegexSentenceSplitter()
	}
	cut := -1
	if sentences := splitter.Split(head); len(sentences) > 1 {
		last := sentences[len(sentences)-1]
		if idx := strings.LastIndex(head, last); idx > 0 {
			cut = idx
		}
	}
	if cut < 0 {
		cut = strings.LastIndexFunc(head, unicode.IsSpace)
	}
	if cut > 0 {
		head = head[:cut]
	}

	return strings.TrimRightFunc(head, unicode.IsSpace) + truncationMarker
}
