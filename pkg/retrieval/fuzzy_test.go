package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuzzyMatchExact(t *testing.T) {
	score, ok := FuzzyMatch("database", "database", 0.8)
	require.True(t, ok)
	assert.Equal(t, 1.0, score)
}

func TestFuzzyMatchSubstringFastPath(t *testing.T) {
	score, ok := FuzzyMatch("the Database connection", "database", 0.8)
	require.True(t, ok)
	assert.Equal(t, 1.0, score)
}

func TestFuzzyMatchTypo(t *testing.T) {
	score, ok := FuzzyMatch("database", "databse", 0.7)
	require.True(t, ok)
	assert.Greater(t, score, 0.7)
	assert.Less(t, score, 1.0)
}

func TestFuzzyMatchTooDifferent(t *testing.T) {
	_, ok := FuzzyMatch("database", "xyz", 0.7)
	assert.False(t, ok)
}

func TestFuzzyMatchEmptyQuery(t *testing.T) {
	_, ok := FuzzyMatch("anything", "", 0.1)
	assert.False(t, ok)
}

func TestFuzzySearchInTextSubstring(t *testing.T) {
	hits := FuzzySearchInText("This is a database connection example", "database", 0.7)
	require.Len(t, hits, 1)
	assert.Equal(t, 1.0, hits[0].Score)
	assert.Equal(t, 10, hits[0].Position)
}

func TestFuzzySearchInTextTypo(t *testing.T) {
	hits := FuzzySearchInText("This is a database connection example", "databse", 0.7)
	require.NotEmpty(t, hits)
	assert.Greater(t, hits[0].Score, 0.7)
}

func TestFuzzySearchEmptyQueryNoMatches(t *testing.T) {
	assert.Empty(t, FuzzySearchInText("some text here", "", 0.7))
	assert.Empty(t, FuzzySearchInText("some text here", "   ", 0.7))
}

func TestFuzzySearchMultiWordSlidingWindow(t *testing.T) {
	text := "configure the connection pool size before starting workers"
	hits := FuzzySearchInText(text, "connection pool siz", 0.7)
	require.NotEmpty(t, hits)
	assert.Greater(t, hits[0].Score, 0.8)
}

func TestFuzzySearchDeduplicatesNearbyHits(t *testing.T) {
	// Both "pool" and the window around it would match near the same
	// offset; hits within 5 characters collapse to the strongest.
	text := "pool pools"
	hits := FuzzySearchInText(text, "poool", 0.7)
	for i := range hits {
		for j := i + 1; j < len(hits); j++ {
			diff := hits[i].Position - hits[j].Position
			if diff < 0 {
				diff = -diff
			}
			assert.Greater(t, diff, dedupeRadius)
		}
	}
}

func TestBestFuzzyMatch(t *testing.T) {
	score, ok := BestFuzzyMatch([]string{"nothing here", "database work", "db"}, "database", 0.7)
	require.True(t, ok)
	assert.Equal(t, 1.0, score)

	_, ok = BestFuzzyMatch([]string{"alpha", "beta"}, "qqqqq", 0.7)
	assert.False(t, ok)

	_, ok = BestFuzzyMatch(nil, "anything", 0.7)
	assert.False(t, ok)
}

func TestNormalizedSimilarityBounds(t *testing.T) {
	assert.Equal(t, 1.0, normalizedSimilarity("", ""))
	assert.Equal(t, 0.0, normalizedSimilarity("abc", "xyz"))
	assert.InDelta(t, 0.75, normalizedSimilarity("abcd", "abcx"), 1e-9)
}
