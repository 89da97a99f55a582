package domain

import (
	"sort"
	"strings"
)

const (
	// Scoring weights
	ScoreExactMatch     = 100.0
	ScorePrefixMatch    = 75.0
	ScoreSubstringMatch = 50.0
	ScoreFuzzyMatch     = 25.0

	// Position bonus (earlier is better)
	ScorePositionBonus = 10.0

	// Matches on the url count for less than matches on the title
	ScoreURLWeight = 0.5
)

// BookmarkCandidate is a bookmark with its match score for a filter query
type BookmarkCandidate struct {
	Bookmark Bookmark
	Score    float64
}

// ScoreBookmark scores a bookmark's title and url against a query.
// The best of the two wins; url matches are weighted down.
func ScoreBookmark(query string, b Bookmark) float64 {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return 0.0
	}

	titleScore := scoreText(query, strings.ToLower(b.Title))
	urlScore := scoreText(query, strings.ToLower(b.URL)) * ScoreURLWeight

	if urlScore > titleScore {
		return urlScore
	}
	return titleScore
}

func scoreText(query, text string) float64 {
	if text == "" {
		return 0.0
	}

	if query == text {
		return ScoreExactMatch
	}

	if strings.HasPrefix(text, query) {
		return ScorePrefixMatch
	}

	// Earlier substring matches get a higher score
	if idx := strings.Index(text, query); idx >= 0 {
		return ScoreSubstringMatch + ScorePositionBonus*(1.0-float64(idx)/float64(len(text)))
	}

	// Every query word somewhere in the text
	words := strings.Fields(query)
	if len(words) > 1 {
		allMatch := true
		for _, w := range words {
			if !strings.Contains(text, w) {
				allMatch = false
				break
			}
		}
		if allMatch {
			return ScoreFuzzyMatch
		}
	}

	if similarity := calculateSimilarity(query, text); similarity > 0.5 {
		return ScoreFuzzyMatch * similarity
	}

	return 0.0
}

// calculateSimilarity is the ratio of query runes present in text.
func calculateSimilarity(query, text string) float64 {
	if query == "" || text == "" {
		return 0.0
	}

	total, matches := 0, 0
	for _, c := range query {
		total++
		if strings.ContainsRune(text, c) {
			matches++
		}
	}
	return float64(matches) / float64(total)
}

// FilterBookmarks keeps the bookmarks matching query, best score first.
// Ties keep their original (created_at descending) order.
// An empty query returns the input unchanged.
func FilterBookmarks(query string, bookmarks []Bookmark) []Bookmark {
	if strings.TrimSpace(query) == "" {
		return bookmarks
	}

	candidates := make([]BookmarkCandidate, 0, len(bookmarks))
	for _, b := range bookmarks {
		score := ScoreBookmark(query, b)
		if score == 0.0 {
			continue
		}
		candidates = append(candidates, BookmarkCandidate{Bookmark: b, Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})

	out := make([]Bookmark, len(candidates))
	for i, c := range candidates {
		out[i] = c.Bookmark
	}
	return out
}
