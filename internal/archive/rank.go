package archive

import (
	"strings"

	"github.com/trailres/resolver/internal/fuzzy"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true,
}

var prefilterSubstrings = []string{"#shorts", "shorts", "behind the scenes", "featurette"}

// prefilter drops obviously-unwanted docs before scoring (spec.md §4.8).
func prefilter(docs []Doc) []Doc {
	out := make([]Doc, 0, len(docs))
	for _, d := range docs {
		lower := strings.ToLower(d.Title)
		drop := false
		for _, s := range prefilterSubstrings {
			if strings.Contains(lower, s) {
				drop = true
				break
			}
		}
		if !drop && strings.Contains(lower, "clip") && !strings.Contains(lower, "trailer") {
			drop = true
		}
		if !drop {
			out = append(out, d)
		}
	}
	return out
}

// rank implements spec.md §4.8's candidate-ranking rubric and accept
// threshold, returning the winning doc (after the additional structural
// filter) and its score.
func rank(docs []Doc, req Request) (Doc, float64, bool) {
	docs = prefilter(docs)

	var best Doc
	bestScore := -1.0
	found := false

	for _, d := range docs {
		score, reject := scoreDoc(d, req)
		if reject {
			continue
		}
		if !found || score > bestScore {
			best, bestScore, found = d, score, true
		}
	}
	if !found {
		return Doc{}, 0, false
	}

	threshold := acceptThreshold(req)
	if bestScore < threshold {
		return Doc{}, 0, false
	}

	imdbMatched := hasImdbMatch(best, req.ImdbID)
	if !imdbMatched && !structuralFilterPasses(best.Title, req.Title) {
		return Doc{}, 0, false
	}

	return best, bestScore, true
}

func hasImdbMatch(d Doc, imdbID string) bool {
	if imdbID == "" {
		return false
	}
	target := "urn:imdb:" + imdbID
	for _, ext := range d.ExternalIdentifier {
		if ext == target {
			return true
		}
	}
	return false
}

func hasConflictingImdbID(d Doc, imdbID string) bool {
	if imdbID == "" || len(d.ExternalIdentifier) == 0 {
		return false
	}
	target := "urn:imdb:" + imdbID
	for _, ext := range d.ExternalIdentifier {
		if strings.HasPrefix(ext, "urn:imdb:") && ext != target {
			return true
		}
	}
	return false
}

// scoreDoc scores a single document against the search request, or rejects
// it outright (reject=true) per spec.md §4.8.
func scoreDoc(d Doc, req Request) (float64, bool) {
	if hasConflictingImdbID(d, req.ImdbID) {
		return 0, true
	}
	if hasImdbMatch(d, req.ImdbID) {
		return 1.0, false
	}

	title := req.Title
	fuzzyMain := fuzzy.Match(d.Title, title)
	fuzzyOrig := 0.0
	if req.OriginalTitle != "" {
		fuzzyOrig = fuzzy.Match(d.Title, req.OriginalTitle)
	}
	best := fuzzyMain
	if fuzzyOrig > best {
		best = fuzzyOrig
	}
	if best < 0.5 {
		return 0, true
	}

	words := tokenize(title)
	short := isShortTitle(words)

	if len(words) == 1 && !strings.HasPrefix(strings.ToLower(d.Title), strings.ToLower(words[0])) {
		return 0, true
	}

	var score float64
	docNorm := strings.ToLower(d.Title)
	titleNorm := strings.ToLower(title)
	origNorm := strings.ToLower(req.OriginalTitle)

	switch {
	case docNorm == titleNorm:
		score += 1.0
	case req.OriginalTitle != "" && docNorm == origNorm:
		score += 0.9
	default:
		ratio := wordMatchRatio(d.Title, title)
		if short {
			if ratio < 0.9 {
				return 0, true
			}
		} else {
			switch {
			case ratio >= 0.8:
				score += 0.7
			case ratio >= 0.5:
				score += 0.4
			}
			switch {
			case fuzzyMain > 0.9 && ratio > 0.5:
				score += 0.4
			case fuzzyMain > 0.85 && ratio > 0.3:
				score += 0.3
			}
		}
	}

	if containsSubstringOfLen(docNorm, titleNorm, 5) {
		score += 0.2
	}

	switch {
	case strings.Contains(docNorm, "trailer"):
		score += 0.2
	case strings.Contains(docNorm, "preview"), strings.Contains(docNorm, "teaser"):
		score += 0.15
	}

	yearDiff := abs(d.Year - req.Year)
	hasIMDb := len(d.ExternalIdentifier) > 0
	switch {
	case req.Year == 0 || d.Year == 0:
		// no signal
	case yearDiff == 0:
		score += 0.3
	case yearDiff == 1:
		score += 0.2
	case yearDiff <= 3:
		score += 0.1
	case yearDiff > 5:
		score -= 0.3
	}
	if short && req.Year != 0 && d.Year != 0 && yearDiff > 10 && !hasImdbMatch(d, req.ImdbID) {
		return 0, true
	}
	if short && !hasIMDb {
		score -= 0.05
	}

	if d.Downloads > 1000 {
		score += 0.1
	}
	if d.Downloads > 10000 {
		score += 0.1
	}

	return score, false
}

func acceptThreshold(req Request) float64 {
	words := tokenize(req.Title)
	if isShortTitle(words) {
		return 1.0
	}
	return 0.85
}

func isShortTitle(words []string) bool {
	if len(words) > 2 {
		return false
	}
	for _, w := range words {
		if len(w) < 3 {
			return true
		}
	}
	return len(words) <= 2
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,:;!?\"'()[]")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func significantTokens(s string) []string {
	var out []string
	for _, t := range tokenize(s) {
		if stopwords[t] || len(t) < 3 {
			continue
		}
		out = append(out, t)
	}
	return out
}

func wordMatchRatio(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	matched := 0
	for _, t := range tb {
		if set[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(tb))
}

func containsSubstringOfLen(haystack, needle string, minLen int) bool {
	if len(needle) < minLen {
		return false
	}
	return strings.Contains(haystack, needle)
}

// structuralFilterPasses implements the additional structural filter of
// spec.md §4.8 applied to the winning (non-IMDb-matched) candidate.
func structuralFilterPasses(docTitle, searchTitle string) bool {
	lower := strings.ToLower(docTitle)
	hasKeyword := strings.Contains(lower, "trailer") || strings.Contains(lower, "teaser") ||
		strings.Contains(lower, "tv spot") || strings.Contains(lower, "preview")
	if !hasKeyword {
		return false
	}
	for _, tok := range significantTokens(searchTitle) {
		if !strings.Contains(lower, tok) {
			return false
		}
	}
	return true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
