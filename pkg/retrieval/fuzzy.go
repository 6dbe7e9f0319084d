// Package retrieval ranks episodes and patterns for recall: multi-signal
// pattern scoring, MMR diversification, and typo-tolerant fuzzy search.
package retrieval

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// DefaultFuzzyThreshold is the minimum normalized similarity for a fuzzy
// match.
const DefaultFuzzyThreshold = 0.7

// maxWindowWords bounds the sliding window for multi-word queries.
const maxWindowWords = 5

// dedupeRadius collapses matches within this many characters of each other.
const dedupeRadius = 5

// FuzzyMatch scores text against a query. Exact substring containment is
// the fast path and scores 1.0; otherwise the normalized Levenshtein
// similarity is returned when it meets the threshold.
func FuzzyMatch(text, query string, threshold float64) (float64, bool) {
	textLower := strings.ToLower(text)
	queryLower := strings.ToLower(query)
	if queryLower == "" {
		return 0, false
	}
	if strings.Contains(textLower, queryLower) {
		return 1.0, true
	}
	score := normalizedSimilarity(textLower, queryLower)
	if score >= threshold {
		return score, true
	}
	return 0, false
}

// normalizedSimilarity maps Levenshtein distance into [0, 1].
func normalizedSimilarity(a, b string) float64 {
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}

// FuzzyHit is one match inside a text body.
type FuzzyHit struct {
	// Position is the approximate character offset of the match
	Position int
	// Score is the similarity in [0, 1]
	Score float64
}

// FuzzySearchInText finds the query inside a larger text body: first as a
// substring, then word by word, then with a sliding window of up to five
// words for multi-word queries. Hits within five characters of a stronger
// hit are dropped. An empty query returns no matches.
func FuzzySearchInText(text, query string, threshold float64) []FuzzyHit {
	textLower := strings.ToLower(text)
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" {
		return nil
	}

	if pos := strings.Index(textLower, queryLower); pos >= 0 {
		return []FuzzyHit{{Position: pos, Score: 1.0}}
	}

	textWords := strings.Fields(textLower)
	queryWords := strings.Fields(queryLower)

	var hits []FuzzyHit
	for i, word := range textWords {
		if score, ok := FuzzyMatch(word, queryLower, threshold); ok {
			hits = append(hits, FuzzyHit{Position: wordOffset(textWords, i), Score: score})
		}
	}

	if len(queryWords) > 1 {
		maxWindow := len(queryWords)
		if maxWindow > maxWindowWords {
			maxWindow = maxWindowWords
		}
		for window := 2; window <= maxWindow; window++ {
			for i := 0; i+window <= len(textWords); i++ {
				phrase := strings.Join(textWords[i:i+window], " ")
				if score, ok := FuzzyMatch(phrase, queryLower, threshold); ok {
					hits = append(hits, FuzzyHit{Position: wordOffset(textWords, i), Score: score})
				}
			}
		}
	}

	// Strongest first, earliest on ties, then dedupe nearby positions.
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})

	var deduped []FuzzyHit
	for _, hit := range hits {
		tooClose := false
		for _, kept := range deduped {
			diff := hit.Position - kept.Position
			if diff < 0 {
				diff = -diff
			}
			if diff <= dedupeRadius {
				tooClose = true
				break
			}
		}
		if !tooClose {
			deduped = append(deduped, hit)
		}
	}
	return deduped
}

// wordOffset approximates the character offset of word i.
func wordOffset(words []string, i int) int {
	offset := 0
	for _, w := range words[:i] {
		offset += len(w) + 1
	}
	return offset
}

// BestFuzzyMatch returns the highest score of the query across several
// fields, false when nothing meets the threshold.
func BestFuzzyMatch(texts []string, query string, threshold float64) (float64, bool) {
	best := 0.0
	found := false
	for _, text := range texts {
		if score, ok := FuzzyMatch(text, query, threshold); ok {
			found = true
			if score > best {
				best = score
			}
		}
	}
	return best, found
}
