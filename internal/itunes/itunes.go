// Package itunes implements the iTunes Strategy (C6): searches the public
// iTunes catalog across country variants and search-parameter cascades,
// scores candidates against the canonical title, and returns the best
// previewUrl. Sequencing follows the teacher's pacing idiom (youtube.go's
// queue-poll delays) generalized to a per-country rate.Limiter instead of
// a raw time.Sleep, per SPEC_FULL.md's domain-stack wiring of
// golang.org/x/time/rate.
package itunes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/trailres/resolver/internal/fuzzy"
	"github.com/trailres/resolver/internal/model"
)

const (
	matchThreshold    = 0.6
	shortCircuitBonus = 0.2
	searchLimit       = 50
	searchLang        = "en_us"
	pacingInterval    = 200 * time.Millisecond
)

// defaultCountries is tried in this order unless reordered by learned success rate
// (the caller passes an already-ranked slice; this is the spec default).
var defaultCountries = []string{"US", "GB", "CA", "AU"}

// variant is one (media, entity, attribute, kind) search-parameter set.
type variant struct {
	media     string
	entity    string
	attribute string
	kind      string // optional
}

func variantsFor(mediaType model.MediaType) []variant {
	if mediaType == model.MediaTV {
		return []variant{
			{media: "tvShow", entity: "tvEpisode", attribute: "showTerm"},
			{media: "tvShow", entity: "tvSeason", attribute: "showTerm"},
			{media: "video", entity: "musicVideo", attribute: ""},
		}
	}
	return []variant{
		{media: "movie", entity: "movie", attribute: "movieTerm", kind: "feature-movie"},
		{media: "movie", entity: "movie", attribute: "movieTerm"},
		{media: "all", entity: "movie", attribute: ""},
	}
}

// Record is one iTunes Search API hit, trimmed to the fields scoring needs.
type Record struct {
	TrackID          int     `json:"trackId"`
	CollectionID     int     `json:"collectionId"`
	TrackName        string  `json:"trackName"`
	CollectionName   string  `json:"collectionName"`
	ArtistName       string  `json:"artistName"`
	PreviewURL       string  `json:"previewUrl"`
	ReleaseDate      string  `json:"releaseDate"`
	TrackTimeMillis  float64 `json:"trackTimeMillis"`
	PrimaryGenre     string  `json:"primaryGenreName"`
	Kind             string  `json:"kind"`
}

type searchResponse struct {
	ResultCount int      `json:"resultCount"`
	Results     []Record `json:"results"`
}

// Result is a single successful iTunes resolution.
type Result struct {
	PreviewURL string
	TrackID    int
	Country    string
	Score      float64
	DurationS  float64
}

// Strategy is the iTunes search client.
type Strategy struct {
	BaseURL string
	Client  *http.Client
	log     zerolog.Logger

	limiters map[string]*rate.Limiter
}

// New builds a Strategy.
func New(baseURL string, log zerolog.Logger) *Strategy {
	return &Strategy{
		BaseURL:  baseURL,
		Client:   &http.Client{Timeout: 5 * time.Second},
		log:      log,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (s *Strategy) limiterFor(country string) *rate.Limiter {
	if l, ok := s.limiters[country]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Every(pacingInterval), 1)
	s.limiters[country] = l
	return l
}

// namesToTry builds the "title; then original_title if distinct; then
// first alt title not already tried" candidate list (spec.md §4.6).
func namesToTry(title, original string, alts []string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
	}
	add(title)
	add(original)
	for _, a := range alts {
		if !seen[a] {
			add(a)
			break
		}
	}
	return out
}

// Search runs the country cascade for a canonical title, returning the
// best-scoring candidate across countries, or ok=false if nothing cleared
// the match threshold.
func (s *Strategy) Search(ctx context.Context, ct model.CanonicalTitle, countries []string) (Result, bool) {
	if len(countries) == 0 {
		countries = defaultCountries
	}
	names := namesToTry(ct.Title, ct.OriginalTitle, ct.AltTitles)

	var best Result
	haveBest := false

	for _, country := range countries {
		if err := s.limiterFor(country).Wait(ctx); err != nil {
			return best, haveBest
		}

		rec, score, durationS, ok := s.searchCountry(ctx, ct, country, names)
		if ok && (!haveBest || score > best.Score) {
			best = Result{PreviewURL: rec.PreviewURL, TrackID: rec.TrackID, Country: country, Score: score, DurationS: durationS}
			haveBest = true
		}
		if haveBest && best.Score >= matchThreshold+shortCircuitBonus {
			break
		}
	}

	if !haveBest || best.Score < matchThreshold {
		return Result{}, false
	}
	return best, true
}

// searchCountry tries each search-parameter variant in turn until a record
// with a non-empty previewUrl scores above threshold, or all variants are
// exhausted.
func (s *Strategy) searchCountry(ctx context.Context, ct model.CanonicalTitle, country string, names []string) (Record, float64, float64, bool) {
	var best Record
	var bestScore float64
	var bestDuration float64
	found := false

	for _, v := range variantsFor(ct.MediaType) {
		for _, name := range names {
			records, err := s.doSearch(ctx, name, country, v)
			if err != nil {
				// HTTP 400 (and others): permanent failure for this
				// parameter-set per SPEC_FULL.md §13.1 — advance, no retry.
				continue
			}
			for _, rec := range records {
				if rec.PreviewURL == "" {
					continue
				}
				score, durationS := scoreRecord(ct, rec)
				if score > bestScore || !found {
					best, bestScore, bestDuration, found = rec, score, durationS, true
				}
			}
			if found && bestScore >= matchThreshold {
				return best, bestScore, bestDuration, true
			}
		}
	}
	return best, bestScore, bestDuration, found && bestScore >= matchThreshold
}

func (s *Strategy) doSearch(ctx context.Context, term, country string, v variant) ([]Record, error) {
	q := url.Values{}
	q.Set("term", term)
	q.Set("country", country)
	q.Set("media", v.media)
	if v.entity != "" {
		q.Set("entity", v.entity)
	}
	if v.attribute != "" {
		q.Set("attribute", v.attribute)
	}
	if v.kind != "" {
		q.Set("kind", v.kind)
	}
	q.Set("limit", fmt.Sprintf("%d", searchLimit))
	q.Set("lang", searchLang)

	reqURL := s.BaseURL + "/search?" + q.Encode()
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, fmt.Errorf("itunes: permanent 400 for variant %+v", v)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("itunes: status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Results, nil
}

// nameToMatch is the track/collection name for movies, the artist name for tv.
func nameToMatch(ct model.CanonicalTitle, rec Record) string {
	if ct.MediaType == model.MediaTV {
		return rec.ArtistName
	}
	if rec.TrackName != "" {
		return rec.TrackName
	}
	return rec.CollectionName
}

// scoreRecord implements spec.md §4.6's scoring rubric.
func scoreRecord(ct model.CanonicalTitle, rec Record) (float64, float64) {
	if rec.PreviewURL == "" {
		return -1.0, 0
	}

	var score float64
	name := nameToMatch(ct, rec)

	// name bonus
	switch {
	case fuzzy.Match(name, ct.Title) == 1.0:
		score += 0.5
	case anyExact(name, ct.OriginalTitle, ct.AltTitles):
		score += 0.4
	default:
		best := 0.0
		for _, cand := range append([]string{ct.Title, ct.OriginalTitle}, ct.AltTitles...) {
			if cand == "" {
				continue
			}
			if m := fuzzy.Match(name, cand); m > best {
				best = m
			}
		}
		if best > 0.8 {
			score += 0.3
		} else if best > 0.6 {
			score += 0.15
		}
	}

	// year bonus
	recYear := parseYear(rec.ReleaseDate)
	if ct.Year != 0 && recYear != 0 {
		diff := abs(ct.Year - recYear)
		if ct.MediaType == model.MediaTV {
			switch {
			case diff == 0:
				score += 0.35
			case diff <= 2:
				score += 0.25
			case diff <= 5:
				score += 0.15
			case diff <= 10:
				score += 0.05
			}
		} else {
			switch {
			case diff == 0:
				score += 0.35
			case diff == 1:
				score += 0.2
			case diff > 2:
				score -= 0.5
			}
		}
	}

	// runtime (movies only)
	if ct.MediaType != model.MediaTV && ct.RuntimeMinutes > 0 {
		// iTunes doesn't expose a dedicated runtime field for trailers;
		// trackTimeMillis on a feature-movie kind approximates it when present.
		if rec.TrackTimeMillis > 0 {
			candMinutes := rec.TrackTimeMillis / 60000
			diff := absf(candMinutes - float64(ct.RuntimeMinutes))
			if diff <= 5 {
				score += 0.15
			} else if diff > 15 {
				score -= 0.2
			}
		}
	}

	// preview length, read from the same trackTimeMillis field the runtime
	// check above uses
	durationS := rec.TrackTimeMillis / 1000
	if durationS >= 60 {
		score += 0.1
	} else if durationS > 0 && durationS < 30 {
		score -= 0.1
	}

	return score, durationS
}

func anyExact(name, original string, alts []string) bool {
	if original != "" && fuzzy.Match(name, original) == 1.0 {
		return true
	}
	for _, a := range alts {
		if fuzzy.Match(name, a) == 1.0 {
			return true
		}
	}
	return false
}

func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	var y int
	_, err := fmt.Sscanf(date[:4], "%d", &y)
	if err != nil {
		return 0
	}
	return y
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func absf(n float64) float64 {
	if n < 0 {
		return -n
	}
	return n
}
