// Package model holds the data types shared across the resolution pipeline:
// the cache value, the learned-statistics rows, the circuit state, the
// cookie record, and the transient canonical-title record produced by the
// metadata resolver.
package model

import "time"

// SourceType identifies where a ResolvedArtifact's preview URL came from.
type SourceType string

const (
	SourceYouTube     SourceType = "youtube"
	SourceITunes      SourceType = "itunes"
	SourceArchive     SourceType = "archive"
	SourceApple       SourceType = "apple"
	SourceVimeo       SourceType = "vimeo"
	SourceDailymotion SourceType = "dailymotion"
)

// MediaType is the content type carried in the stream URL and used to pick
// candidate sources.
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// ResolvedArtifact is the cache value: a single streamable URL plus enough
// provenance to rank it, re-validate it, and label it for the client.
type ResolvedArtifact struct {
	ImdbID     string     `json:"imdb_id"`
	PreviewURL string     `json:"preview_url"`
	TrackID    string     `json:"track_id,omitempty"`
	Country    string     `json:"country,omitempty"`
	YoutubeKey string     `json:"youtube_key,omitempty"`
	SourceType SourceType `json:"source_type"`
	Source     string     `json:"source"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Valid reports the cache invariant: a cached artifact always has a URL.
func (a ResolvedArtifact) Valid() bool {
	return a.PreviewURL != ""
}

// StatType is the partition key for SuccessStat/QualityStat rows.
type StatType string

const (
	StatSources   StatType = "sources"
	StatITunes    StatType = "itunes"
	StatPiped     StatType = "piped"
	StatInvidious StatType = "invidious"
	StatYtdlp     StatType = "ytdlp"
	StatArchive   StatType = "archive"
	StatProxy     StatType = "proxy"
)

// SuccessStat is the composite-key success/total counter described in
// spec.md §3. The default success rate when Total == 0 is 0.5.
type SuccessStat struct {
	Type    StatType
	ID      string
	Success int64
	Total   int64
}

// Rate returns Success/Total, defaulting to 0.5 for an unseen identifier.
func (s SuccessStat) Rate() float64 {
	if s.Total == 0 {
		return 0.5
	}
	return float64(s.Success) / float64(s.Total)
}

// QualityStat is a running mean of the ordinal quality score observed for a
// source.
type QualityStat struct {
	Type       StatType
	ID         string
	SumQuality float64
	Samples    int64
}

// Avg returns the running mean, or the "unknown" tier (1.5) when unseen.
func (q QualityStat) Avg() float64 {
	if q.Samples == 0 {
		return 1.5
	}
	return q.SumQuality / float64(q.Samples)
}

// QualityTier maps an observed resolution/quality label to the ordinal
// score table in spec.md §3.
func QualityTier(label string) float64 {
	switch label {
	case "2160p":
		return 4
	case "1440p":
		return 3.5
	case "1080p":
		return 3
	case "720p":
		return 2
	case "480p":
		return 1
	case "360p":
		return 0.5
	case "best":
		return 2.5
	default:
		return 1.5
	}
}

// ArchiveCookie is a rotatable archive.org credential.
type ArchiveCookie struct {
	ID        int64
	Cookies   string
	Email     string
	CreatedAt time.Time
	LastUsed  time.Time
	IsValid   bool
	UseCount  int64
}

// EpisodeHint carries the season/episode parsed out of a "tt..:S:E" id.
// The IsFirstEpisode flag lets callers special-case season/series trailers.
type EpisodeHint struct {
	Season         int
	Episode        int
	IsFirstEpisode bool
}

// CanonicalTitle is the transient record produced by the metadata resolver
// (C5). It is never persisted; it exists only for the duration of a single
// resolution.
type CanonicalTitle struct {
	MediaType            MediaType
	Title                string
	OriginalTitle        string
	Year                 int
	RuntimeMinutes       int
	AltTitles            []string
	YoutubeKey           string
	YoutubeTrailerTitle  string
	TrailerURL           string
	TrailerSite          string
}

// HasYoutube reports whether metadata resolution found a YouTube trailer key.
func (c CanonicalTitle) HasYoutube() bool {
	return c.YoutubeKey != ""
}
