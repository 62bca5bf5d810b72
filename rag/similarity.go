package rag

import (
	lru "github.com/hashicorp/golang-lru"
)

// Scorer rates how relevant text is to a query, in [0,1].
type Scorer interface {
	Score(query, text string) float64
}

// Jaccard returns |a ∩ b| / |a ∪ b| treating both lists as sets.
// An empty union scores 0.
func Jaccard(a, b []string) float64 {
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}

	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// KeywordScorer scores text by Jaccard overlap of extracted keywords.
// Passage keywords are memoized since the same cached passages are scored
// against every query.
type KeywordScorer struct {
	memo *lru.Cache
}

// NewKeywordScorer creates a scorer whose keyword memo holds up to size entries.
// A non-positive size disables memoization.
func NewKeywordScorer(size int) (*KeywordScorer, error) {
	if size <= 0 {
		return &KeywordScorer{}, nil
	}
	memo, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &KeywordScorer{memo: memo}, nil
}

// Score implements Scorer.
func (s *KeywordScorer) Score(query, text string) float64 {
	return Jaccard(s.Keywords(query), s.Keywords(text))
}

// Keywords returns the (possibly memoized) keywords of text.
func (s *KeywordScorer) Keywords(text string) []string {
	if s == nil || s.memo == nil {
		return ExtractKeywords(text)
	}
	if cached, ok := s.memo.Get(text); ok {
		return cached.([]string)
	}
	keywords := ExtractKeywords(text)
	s.memo.Add(text, keywords)
	return keywords
}
