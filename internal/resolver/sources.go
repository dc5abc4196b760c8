package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trailres/resolver/internal/archive"
	"github.com/trailres/resolver/internal/model"
)

var errNoResult = errors.New("resolver: source produced no result")

// priorityRank implements spec.md §4.10's composite-score priority term:
// ytdlp=3, apple/itunes=2, archive=1.
func priorityRank(source string) int {
	switch source {
	case "ytdlp":
		return 3
	case "apple", "itunes", "appletrailers":
		return 2
	case "archive":
		return 1
	default:
		return 0
	}
}

// isHighPriority reports whether a first-completed success from this
// source should short-circuit the race immediately (spec.md §4.10 step 5).
func isHighPriority(source string) bool {
	return source == "ytdlp" || source == "appletrailers"
}

var defaultDeadlines = map[string]time.Duration{
	"archive":       8 * time.Second,
	"ytdlp":         18 * time.Second,
	"itunes":        5 * time.Second,
	"appletrailers": 10 * time.Second,
	"vimeo":         10 * time.Second,
	"dailymotion":   10 * time.Second,
}

const defaultDeadline = 6 * time.Second
const floorDeadline = 2 * time.Second

// deadlineFor tightens the static per-source default using 3x the learned
// average response time, capped at the default and floored at 2s. Average
// response time is not currently tracked as its own metric (see
// DESIGN.md); avgResponseTime of 0 leaves the static default untouched.
func deadlineFor(source string, avgResponseTime time.Duration) time.Duration {
	d, ok := defaultDeadlines[source]
	if !ok {
		d = defaultDeadline
	}
	if avgResponseTime <= 0 {
		return d
	}
	tightened := 3 * avgResponseTime
	if tightened > d {
		return d
	}
	if tightened < floorDeadline {
		return floorDeadline
	}
	return tightened
}

// attemptResult is what a single source attempt produces for the race.
type attemptResult struct {
	source   string
	artifact model.ResolvedArtifact
	quality  string
	err      error
}

// attempt dispatches to the source-specific resolution logic.
func (r *Resolver) attempt(ctx context.Context, source string, ct model.CanonicalTitle, req Request) attemptResult {
	switch source {
	case "ytdlp":
		return r.attemptYtdlp(ctx, ct)
	case "itunes":
		return r.attemptITunes(ctx, ct)
	case "appletrailers":
		return r.attemptAppleTrailers(ctx, ct)
	case "archive":
		return r.attemptArchive(ctx, ct, req)
	default:
		return attemptResult{source: source, err: fmt.Errorf("resolver: unknown source %q", source)}
	}
}

func (r *Resolver) attemptYtdlp(ctx context.Context, ct model.CanonicalTitle) attemptResult {
	pageURL := "https://www.youtube.com/watch?v=" + ct.YoutubeKey
	res, err := r.extractor.Extract(ctx, pageURL)
	if err != nil {
		return attemptResult{source: "ytdlp", err: err}
	}
	artifact := model.ResolvedArtifact{
		PreviewURL: res.URL,
		YoutubeKey: ct.YoutubeKey,
		Country:    "yt",
		SourceType: model.SourceYouTube,
		Source:     "ytdlp:" + res.Proxy,
	}
	return attemptResult{source: "ytdlp", artifact: artifact, quality: string(res.Quality)}
}

func (r *Resolver) attemptITunes(ctx context.Context, ct model.CanonicalTitle) attemptResult {
	countries := r.tracker.SortBySuccessRate(model.StatITunes, itunesCountries)
	res, ok := r.itunes.Search(ctx, ct, countries)
	if !ok {
		return attemptResult{source: "itunes", err: errNoResult}
	}
	r.tracker.RecordSuccess(model.StatITunes, res.Country)
	artifact := model.ResolvedArtifact{
		PreviewURL: res.PreviewURL,
		TrackID:    fmt.Sprintf("%d", res.TrackID),
		Country:    res.Country,
		SourceType: model.SourceITunes,
		Source:     "itunes",
	}
	return attemptResult{source: "itunes", artifact: artifact, quality: durationQuality(res.DurationS)}
}

func (r *Resolver) attemptAppleTrailers(ctx context.Context, ct model.CanonicalTitle) attemptResult {
	pageURL, ok := r.appleTrailers.Find(ctx, ct)
	if !ok {
		return attemptResult{source: "appletrailers", err: errNoResult}
	}
	res, err := r.extractor.Extract(ctx, pageURL)
	if err != nil {
		return attemptResult{source: "appletrailers", err: err}
	}
	artifact := model.ResolvedArtifact{
		PreviewURL: res.URL,
		Country:    "apple",
		SourceType: model.SourceApple,
		Source:     "appletrailers",
	}
	return attemptResult{source: "appletrailers", artifact: artifact, quality: string(res.Quality)}
}

// attemptArchive orders the archive strategies with the tracker's
// model.StatArchive rates. No strategy outcome is recorded under
// model.StatArchive, so every strategy keeps the default rate and the order
// stays that of archiveStrategyIDs.
func (r *Resolver) attemptArchive(ctx context.Context, ct model.CanonicalTitle, req Request) attemptResult {
	rankedStrategyIDs := r.tracker.SortBySuccessRate(model.StatArchive, archiveStrategyIDs)
	artifact, quality, ok := r.archive.Resolve(ctx, archive.Request{
		ImdbID:        req.ShowID,
		Title:         ct.Title,
		OriginalTitle: ct.OriginalTitle,
		Year:          ct.Year,
		TrailerTitle:  ct.YoutubeTrailerTitle,
		TrailerYear:   ct.Year,
	}, rankedStrategyIDs)
	if !ok {
		return attemptResult{source: "archive", err: errNoResult}
	}
	return attemptResult{source: "archive", artifact: artifact, quality: quality}
}

var itunesCountries = []string{"US", "GB", "CA", "AU"}

var archiveStrategyIDs = []string{
	"imdb_exact", "collection_title_year", "collection_title",
	"title_trailer_year", "title_trailer", "collection_original_year",
	"trailer_title", "trailer_title_year",
}

// durationQuality approximates an ordinal tier from a preview's length: the
// iTunes strategy doesn't expose a resolution, so length is the closest
// available quality proxy.
func durationQuality(durationS float64) string {
	switch {
	case durationS >= 120:
		return "1080p"
	case durationS >= 60:
		return "720p"
	default:
		return "480p"
	}
}
