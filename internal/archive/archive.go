// Package archive implements the Archive Strategy (C8): queries
// archive.org's advancedsearch API with a cascade of query templates,
// ranks candidate documents against the canonical title, and resolves the
// winning document's metadata object to a direct file URL (spec.md §4.8).
//
// No example in the retrieved pack targets archive.org; the HTTP-client
// shape (context-scoped client, short explicit timeout, retry-with-
// backoff) follows the teacher's status.go github-release-tag fetcher, the
// closest thing it has to an external-API client.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/validator"
)

const (
	defaultBaseURL   = "https://archive.org"
	searchRows       = 20
	strategyTimeout  = 8 * time.Second
	objectTimeout    = 5 * time.Second
	objectSizeCap    = 10 << 20
	validateTimeout  = 3 * time.Second
	maxRetries       = 2
)

var backoffSteps = []time.Duration{1 * time.Second, 2 * time.Second}

// cookieSource is the subset of store.Store the strategy needs for cookie
// injection; kept as an interface so tests can fake it.
type cookieSource interface {
	PickOldestValidCookie(ctx context.Context) (model.ArchiveCookie, bool, error)
	MarkCookieUsed(id int64, at time.Time)
	MarkCookieInvalid(id int64)
}

// query is one search-strategy template instantiation (spec.md §4.8 table).
type query struct {
	id string
	q  string
}

// Doc is a trimmed advancedsearch result row.
type Doc struct {
	Identifier         string
	Title              string
	Year               int
	ExternalIdentifier []string
	Downloads          int
}

type searchResponse struct {
	Response struct {
		Docs []struct {
			Identifier         string      `json:"identifier"`
			Title              string      `json:"title"`
			Year               json.Number `json:"year"`
			ExternalIdentifier interface{} `json:"external-identifier"`
			Downloads          json.Number `json:"downloads"`
		} `json:"docs"`
	} `json:"response"`
}

// Candidate is a ranked search result awaiting the accept-threshold check.
type Candidate struct {
	Doc   Doc
	Score float64
}

// Strategy is the archive.org search+resolve client.
type Strategy struct {
	BaseURL   string
	Client    *http.Client
	validator *validator.Validator
	cookies   cookieSource
	log       zerolog.Logger
}

// New builds a Strategy. cookies may be nil if no cookie rotation is
// configured.
func New(cookies cookieSource, log zerolog.Logger) *Strategy {
	return &Strategy{
		BaseURL:   defaultBaseURL,
		Client:    &http.Client{Timeout: strategyTimeout},
		validator: validator.New(),
		cookies:   cookies,
		log:       log,
	}
}

// buildQueries constructs the strategy cascade in spec.md §4.8's priority
// order. trailerTitle/trailerYear come from the metadata resolver's own
// trailer record (§4.5) when present.
func buildQueries(imdbID, title, originalTitle string, year int, trailerTitle string, trailerYear int) []query {
	var qs []query
	if imdbID != "" {
		qs = append(qs, query{"imdb_exact", fmt.Sprintf(`collection:movie_trailers AND external-identifier:("urn:imdb:%s")`, imdbID)})
	}
	if title != "" && year != 0 {
		qs = append(qs, query{"collection_title_year", fmt.Sprintf(`collection:movie_trailers AND title:%s AND year:%d`, quoted(title), year)})
	}
	if title != "" {
		qs = append(qs, query{"collection_title", fmt.Sprintf(`collection:movie_trailers AND title:%s`, quoted(title))})
	}
	if title != "" && year != 0 {
		qs = append(qs, query{"title_trailer_year", fmt.Sprintf(`title:%s AND year:%d`, quoted(title+" trailer"), year)})
	}
	if title != "" {
		qs = append(qs, query{"title_trailer", fmt.Sprintf(`title:%s`, quoted(title+" trailer"))})
	}
	if originalTitle != "" && originalTitle != title {
		qs = append(qs, query{"collection_original_year", fmt.Sprintf(`collection:movie_trailers AND title:%s AND year:%d`, quoted(originalTitle), year)})
	}
	if trailerTitle != "" {
		id := "trailer_title"
		q := fmt.Sprintf(`title:%s`, quoted(trailerTitle))
		if trailerYear != 0 {
			id = "trailer_title_year"
			q = fmt.Sprintf(`title:%s AND year:%d`, quoted(trailerTitle), trailerYear)
		}
		qs = append(qs, query{id, q})
	}
	return qs
}

func quoted(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// Request is the per-title input to Resolve.
type Request struct {
	ImdbID        string
	Title         string
	OriginalTitle string
	Year          int
	TrailerTitle  string
	TrailerYear   int
}

// Resolve runs the top-ranked strategy templates (ordered externally by
// learned success rate) against archive.org and returns a direct,
// ranged-HEAD-validated file URL plus an estimated quality tier label (see
// model.QualityTier).
func (s *Strategy) Resolve(ctx context.Context, req Request, rankedStrategyIDs []string) (model.ResolvedArtifact, string, bool) {
	all := buildQueries(req.ImdbID, req.Title, req.OriginalTitle, req.Year, req.TrailerTitle, req.TrailerYear)
	ordered := orderByRank(all, rankedStrategyIDs)

	// only the top 3 are tried, for latency (spec.md §4.8)
	if len(ordered) > 3 {
		ordered = ordered[:3]
	}

	cookieHeader, cookieID := s.takeCookie(ctx)

	for _, q := range ordered {
		docs, err := s.search(ctx, q, cookieHeader)
		if err != nil {
			continue
		}
		winner, score, ok := rank(docs, req)
		if !ok {
			continue
		}
		artifact, quality, ok := s.resolveObject(ctx, winner, score)
		if ok {
			s.markCookieOutcome(cookieID, true)
			return artifact, quality, true
		}
	}
	s.markCookieOutcome(cookieID, false)
	return model.ResolvedArtifact{}, "", false
}

func (s *Strategy) takeCookie(ctx context.Context) (string, int64) {
	if s.cookies == nil {
		return "", 0
	}
	c, ok, err := s.cookies.PickOldestValidCookie(ctx)
	if err != nil || !ok {
		return "", 0
	}
	return c.Cookies, c.ID
}

func (s *Strategy) markCookieOutcome(id int64, used bool) {
	if s.cookies == nil || id == 0 {
		return
	}
	if used {
		s.cookies.MarkCookieUsed(id, time.Now())
	}
}

// orderByRank reorders qs to match rankedStrategyIDs, appending any
// remaining (unranked) queries in their original order.
func orderByRank(qs []query, rankedIDs []string) []query {
	if len(rankedIDs) == 0 {
		return qs
	}
	byID := make(map[string]query, len(qs))
	for _, q := range qs {
		byID[q.id] = q
	}
	var out []query
	seen := make(map[string]bool)
	for _, id := range rankedIDs {
		if q, ok := byID[id]; ok && !seen[id] {
			out = append(out, q)
			seen[id] = true
		}
	}
	for _, q := range qs {
		if !seen[q.id] {
			out = append(out, q)
			seen[q.id] = true
		}
	}
	return out
}

func (s *Strategy) search(ctx context.Context, q query, cookieHeader string) ([]Doc, error) {
	v := url.Values{}
	v.Set("q", q.q)
	v.Set("fl[]", "identifier,title,year,external-identifier,downloads")
	v.Set("sort[]", "downloads desc")
	v.Set("rows", strconv.Itoa(searchRows))
	v.Set("output", "json")

	reqURL := s.BaseURL + "/advancedsearch.php?" + v.Encode()

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, strategyTimeout)
		docs, retriable, err := s.doSearch(reqCtx, reqURL, cookieHeader)
		cancel()
		if err == nil {
			return docs, nil
		}
		lastErr = err
		if !retriable || attempt == maxRetries {
			break
		}
		select {
		case <-time.After(backoffSteps[attempt]):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (s *Strategy) doSearch(ctx context.Context, reqURL, cookieHeader string) ([]Doc, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
		return nil, true, fmt.Errorf("archive: retriable status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("archive: status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, objectSizeCap)).Decode(&parsed); err != nil {
		return nil, false, err
	}

	docs := make([]Doc, 0, len(parsed.Response.Docs))
	for _, d := range parsed.Response.Docs {
		year, _ := strconv.Atoi(d.Year.String())
		downloads, _ := strconv.Atoi(d.Downloads.String())
		docs = append(docs, Doc{
			Identifier:         d.Identifier,
			Title:              d.Title,
			Year:               year,
			ExternalIdentifier: toStringSlice(d.ExternalIdentifier),
			Downloads:          downloads,
		})
	}
	return docs, false, nil
}

func toStringSlice(v interface{}) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
