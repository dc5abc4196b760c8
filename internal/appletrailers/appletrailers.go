// Package appletrailers implements the auxiliary quickfind lookup
// referenced by the Resolver Orchestrator's "appletrailers" candidate
// source (spec.md §4.10): given a canonical title, find the archival
// Apple Trailers page URL. Resolving that page to a direct streamable URL
// is then the Generic Extractor's (C7) job, the same way it resolves any
// other yt-dlp-supported site.
package appletrailers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/fuzzy"
	"github.com/trailres/resolver/internal/model"
)

const (
	defaultBaseURL = "https://trailers.apple.com"
	requestTimeout = 5 * time.Second
)

type quickfindResponse struct {
	Results []struct {
		Title    string `json:"title"`
		Location string `json:"location"`
	} `json:"results"`
}

// Finder performs the quickfind lookup.
type Finder struct {
	BaseURL string
	Client  *http.Client
	log     zerolog.Logger
}

// New builds a Finder.
func New(log zerolog.Logger) *Finder {
	return &Finder{
		BaseURL: defaultBaseURL,
		Client:  &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

// Find returns the best-matching trailer page URL for ct, chosen by fuzzy
// title match against quickfind's result titles.
func (f *Finder) Find(ctx context.Context, ct model.CanonicalTitle) (string, bool) {
	q := url.Values{}
	q.Set("q", ct.Title)

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqURL := f.BaseURL + "/trailers/home/scripts/quickfind.php?" + q.Encode()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", false
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var parsed quickfindResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false
	}

	bestScore := 0.0
	bestLocation := ""
	found := false
	for _, r := range parsed.Results {
		score := fuzzy.Match(r.Title, ct.Title)
		if score > bestScore {
			bestScore, bestLocation, found = score, r.Location, true
		}
	}
	if !found || bestScore < 0.6 || bestLocation == "" {
		return "", false
	}

	if strings.HasPrefix(bestLocation, "http") {
		return bestLocation, true
	}
	return fmt.Sprintf("%s%s", f.BaseURL, bestLocation), true
}
