// Package metadata implements the Metadata Resolver (C5): translates an
// IMDb id into a CanonicalTitle by calling a metadata-DB's find-by-
// external-id, detail-with-videos, and alternative-titles endpoints
// (spec.md §4.5, §6). The HTTP-client-with-timeout shape follows the
// teacher's status.go fetchLatestGithubReleaseTag helper (short explicit
// client timeout, context-scoped request, decode into an anonymous/typed
// payload struct).
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/model"
)

const (
	defaultBaseURL = "https://api.themoviedb.org/3"
	requestTimeout = 5 * time.Second
)

var supportedVideoSites = map[string]bool{
	"YouTube":     true,
	"Vimeo":       true,
	"Dailymotion": true,
	"Apple":       true,
	"Facebook":    true,
	"Twitter":     true,
	"Instagram":   true,
}

var excludedVideoTypes = map[string]bool{
	"Behind the Scenes": true,
	"Featurette":        true,
	"Bloopers":          true,
	"Opening Credits":   true,
}

var excludedNameSubstrings = []string{
	"behind", "featurette", "bloopers", "opening", "credits", "making of",
}

var allowedAltCountries = map[string]bool{
	"US": true, "GB": true, "CA": true, "AU": true,
}

// Resolver is the metadata-DB client.
type Resolver struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	log     zerolog.Logger
}

// New builds a Resolver. An empty apiKey is allowed at construction time;
// calls will simply fail at the upstream.
func New(apiKey string, log zerolog.Logger) *Resolver {
	return &Resolver{
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		Client:  &http.Client{Timeout: requestTimeout},
		log:     log,
	}
}

type findResponse struct {
	MovieResults []struct {
		ID int `json:"id"`
	} `json:"movie_results"`
	TVResults []struct {
		ID int `json:"id"`
	} `json:"tv_results"`
}

type videoEntry struct {
	Key  string `json:"key"`
	Site string `json:"site"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type detailResponse struct {
	Title         string `json:"title"`
	Name          string `json:"name"` // tv uses "name"
	OriginalTitle string `json:"original_title"`
	OriginalName  string `json:"original_name"`
	ReleaseDate   string `json:"release_date"`
	FirstAirDate  string `json:"first_air_date"`
	Runtime       int    `json:"runtime"`
	Videos        struct {
		Results []videoEntry `json:"results"`
	} `json:"videos"`
}

type altTitlesResponse struct {
	Titles []struct {
		Title   string `json:"title"`
		Country string `json:"iso_3166_1"`
	} `json:"titles"`
	// tv uses "results" with the same shape
	Results []struct {
		Title   string `json:"title"`
		Country string `json:"iso_3166_1"`
	} `json:"results"`
}

// PopularTitle is one entry from a trending/popular listing, resolved down
// to the IMDb id the rest of the pipeline keys on.
type PopularTitle struct {
	ImdbID string
	Type   model.MediaType
}

type popularResponse struct {
	Results []struct {
		ID int `json:"id"`
	} `json:"results"`
}

type externalIDsResponse struct {
	ImdbID string `json:"imdb_id"`
}

// PopularMovies implements spec.md §4.12's warm-up feed: the metadata DB's
// popular-movies listing, translated to IMDb ids via external_ids.
func (r *Resolver) PopularMovies(ctx context.Context, limit int) ([]PopularTitle, error) {
	return r.popular(ctx, "movie", model.MediaMovie, limit)
}

// PopularSeries is PopularMovies' tv-listing counterpart.
func (r *Resolver) PopularSeries(ctx context.Context, limit int) ([]PopularTitle, error) {
	return r.popular(ctx, "tv", model.MediaTV, limit)
}

func (r *Resolver) popular(ctx context.Context, path string, mediaType model.MediaType, limit int) ([]PopularTitle, error) {
	url := fmt.Sprintf("%s/%s/popular?api_key=%s", r.BaseURL, path, r.APIKey)
	var resp popularResponse
	if err := r.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	var out []PopularTitle
	for _, entry := range resp.Results {
		if len(out) >= limit {
			break
		}
		imdbID, err := r.externalIMDbID(ctx, path, entry.ID)
		if err != nil || imdbID == "" {
			continue
		}
		out = append(out, PopularTitle{ImdbID: imdbID, Type: mediaType})
	}
	return out, nil
}

func (r *Resolver) externalIMDbID(ctx context.Context, path string, id int) (string, error) {
	url := fmt.Sprintf("%s/%s/%d/external_ids?api_key=%s", r.BaseURL, path, id, r.APIKey)
	var resp externalIDsResponse
	if err := r.getJSON(ctx, url, &resp); err != nil {
		return "", err
	}
	return resp.ImdbID, nil
}

// Resolve fetches the canonical title record for imdbID. typeHint narrows
// the find-by-external-id lookup when the id could plausibly be either a
// movie or tv entry; absence is reported as (CanonicalTitle{}, false, nil)
// per spec.md §4.5 ("upstream translates to 'not found'").
func (r *Resolver) Resolve(ctx context.Context, imdbID string, typeHint model.MediaType) (model.CanonicalTitle, bool, error) {
	mediaType, internalID, ok, err := r.findByExternalID(ctx, imdbID, typeHint)
	if err != nil {
		return model.CanonicalTitle{}, false, err
	}
	if !ok {
		return model.CanonicalTitle{}, false, nil
	}

	detail, err := r.fetchDetail(ctx, mediaType, internalID)
	if err != nil {
		return model.CanonicalTitle{}, false, err
	}

	altTitles, _ := r.fetchAltTitles(ctx, mediaType, internalID)

	ct := model.CanonicalTitle{
		MediaType: mediaType,
		AltTitles: altTitles,
	}
	if mediaType == model.MediaTV {
		ct.Title = detail.Name
		ct.OriginalTitle = detail.OriginalName
		ct.Year = parseYear(detail.FirstAirDate)
	} else {
		ct.Title = detail.Title
		ct.OriginalTitle = detail.OriginalTitle
		ct.Year = parseYear(detail.ReleaseDate)
	}
	ct.RuntimeMinutes = detail.Runtime

	video, ok := pickTrailerVideo(detail.Videos.Results)
	if ok {
		if video.Site == "YouTube" {
			ct.YoutubeKey = video.Key
			ct.YoutubeTrailerTitle = video.Name
		} else {
			ct.TrailerSite = video.Site
			ct.TrailerURL = canonicalVideoURL(video)
		}
	}

	return ct, true, nil
}

func (r *Resolver) findByExternalID(ctx context.Context, imdbID string, typeHint model.MediaType) (model.MediaType, int, bool, error) {
	url := fmt.Sprintf("%s/find/%s?api_key=%s&external_source=imdb_id", r.BaseURL, imdbID, r.APIKey)
	var resp findResponse
	if err := r.getJSON(ctx, url, &resp); err != nil {
		return "", 0, false, err
	}
	if typeHint == model.MediaTV && len(resp.TVResults) > 0 {
		return model.MediaTV, resp.TVResults[0].ID, true, nil
	}
	if len(resp.MovieResults) > 0 {
		return model.MediaMovie, resp.MovieResults[0].ID, true, nil
	}
	if len(resp.TVResults) > 0 {
		return model.MediaTV, resp.TVResults[0].ID, true, nil
	}
	return "", 0, false, nil
}

func (r *Resolver) fetchDetail(ctx context.Context, mediaType model.MediaType, id int) (detailResponse, error) {
	path := "movie"
	if mediaType == model.MediaTV {
		path = "tv"
	}
	url := fmt.Sprintf("%s/%s/%d?api_key=%s&append_to_response=videos", r.BaseURL, path, id, r.APIKey)
	var resp detailResponse
	if err := r.getJSON(ctx, url, &resp); err != nil {
		return detailResponse{}, err
	}
	return resp, nil
}

func (r *Resolver) fetchAltTitles(ctx context.Context, mediaType model.MediaType, id int) ([]string, error) {
	path := "movie"
	endpoint := "alternative_titles"
	if mediaType == model.MediaTV {
		path = "tv"
		endpoint = "alternative_titles"
	}
	url := fmt.Sprintf("%s/%s/%d/%s?api_key=%s", r.BaseURL, path, id, endpoint, r.APIKey)
	var resp altTitlesResponse
	if err := r.getJSON(ctx, url, &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	add := func(title, country string) {
		if !allowedAltCountries[strings.ToUpper(country)] {
			return
		}
		if title == "" || seen[title] {
			return
		}
		seen[title] = true
		out = append(out, title)
	}
	for _, t := range resp.Titles {
		add(t.Title, t.Country)
	}
	for _, t := range resp.Results {
		add(t.Title, t.Country)
	}
	return out, nil
}

func (r *Resolver) getJSON(ctx context.Context, url string, dest any) error {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return fmt.Errorf("metadata: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metadata: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// pickTrailerVideo implements the ranked predicate of spec.md §4.5.
func pickTrailerVideo(videos []videoEntry) (videoEntry, bool) {
	var filtered []videoEntry
	for _, v := range videos {
		if excludedVideoTypes[v.Type] {
			continue
		}
		if containsExcludedSubstring(v.Name) {
			continue
		}
		if !supportedVideoSites[v.Site] {
			continue
		}
		filtered = append(filtered, v)
	}
	if len(filtered) == 0 {
		return videoEntry{}, false
	}

	rank := func(v videoEntry) int {
		switch {
		case v.Type == "Trailer" && strings.Contains(strings.ToLower(v.Name), "official"):
			return 0
		case v.Type == "Teaser" && strings.Contains(strings.ToLower(v.Name), "official"):
			return 1
		case v.Type == "Trailer":
			return 2
		case v.Type == "Clip" && strings.Contains(strings.ToLower(v.Name), "official"):
			return 3
		case strings.Contains(strings.ToLower(v.Name), "official"):
			return 4
		default:
			return 5
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool { return rank(filtered[i]) < rank(filtered[j]) })
	return filtered[0], true
}

func containsExcludedSubstring(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range excludedNameSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

func canonicalVideoURL(v videoEntry) string {
	switch v.Site {
	case "Vimeo":
		return "https://vimeo.com/" + v.Key
	case "Dailymotion":
		return "https://www.dailymotion.com/video/" + v.Key
	case "Apple":
		return "https://trailers.apple.com/trailers/" + v.Key
	case "Facebook":
		return "https://www.facebook.com/video.php?v=" + v.Key
	case "Twitter":
		return "https://twitter.com/i/status/" + v.Key
	case "Instagram":
		return "https://www.instagram.com/p/" + v.Key
	default:
		return v.Key
	}
}

func parseYear(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
