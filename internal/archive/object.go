package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/trailres/resolver/internal/model"
)

var videoExtensions = map[string]bool{
	"mp4": true, "webm": true, "mov": true, "avi": true, "mkv": true, "m4v": true,
}

var excludedFilenameSubstrings = []string{"thumb", "sample", ".jpg", ".jpeg", ".png", ".gif", ".json", ".xml", ".txt"}

type metadataResponse struct {
	Files []struct {
		Name   string `json:"name"`
		Format string `json:"format"`
		Size   string `json:"size"`
		Length string `json:"length"`
	} `json:"files"`
}

type videoFile struct {
	name   string
	format string
	size   int64
	isMP4  bool
}

// resolveObject fetches the winning document's metadata object and picks
// the best video file, constructs and validates the download URL, and
// estimates a quality tier from file size (spec.md §4.8). The returned
// quality label feeds the caller's model.QualityTier/tracker.RecordQuality
// call; it is not itself part of the cached artifact.
func (s *Strategy) resolveObject(ctx context.Context, doc Doc, score float64) (model.ResolvedArtifact, string, bool) {
	reqCtx, cancel := context.WithTimeout(ctx, objectTimeout)
	defer cancel()

	metaURL := fmt.Sprintf("%s/metadata/%s", s.BaseURL, doc.Identifier)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, metaURL, nil)
	if err != nil {
		return model.ResolvedArtifact{}, "", false
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return model.ResolvedArtifact{}, "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.ResolvedArtifact{}, "", false
	}

	var parsed metadataResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, objectSizeCap)).Decode(&parsed); err != nil {
		return model.ResolvedArtifact{}, "", false
	}

	files := filterVideoFiles(parsed, doc.Identifier)
	if len(files) == 0 {
		return model.ResolvedArtifact{}, "", false
	}
	durationFiltered := filterByDuration(parsed, files)
	if len(durationFiltered) > 0 {
		files = durationFiltered
	}

	sortFiles(files)
	best := files[0]

	objectURL := fmt.Sprintf("%s/download/%s/%s", s.BaseURL, doc.Identifier, percentEncodeFilename(best.name))

	if !s.validateDownloadURL(ctx, objectURL) {
		return model.ResolvedArtifact{}, "", false
	}

	artifact := model.ResolvedArtifact{
		ImdbID:     doc.Identifier,
		PreviewURL: objectURL,
		Country:    "archive",
		SourceType: model.SourceArchive,
		Source:     "archive",
	}
	return artifact, estimateQuality(best.size), true
}

func filterVideoFiles(parsed metadataResponse, identifier string) []videoFile {
	var out []videoFile
	for _, f := range parsed.Files {
		lowerName := strings.ToLower(f.Name)
		excluded := false
		for _, sub := range excludedFilenameSubstrings {
			if strings.Contains(lowerName, sub) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		ext := extOf(lowerName)
		if !videoExtensions[ext] {
			continue
		}
		size, _ := strconv.ParseInt(f.Size, 10, 64)
		out = append(out, videoFile{name: f.Name, format: strings.ToLower(f.Format), size: size, isMP4: ext == "mp4"})
	}
	return out
}

// filterByDuration keeps only files in [20,300]s; files missing duration
// metadata are kept. If this empties the set the caller falls back to the
// unfiltered list (spec.md §4.8).
func filterByDuration(parsed metadataResponse, candidates []videoFile) []videoFile {
	durationByName := make(map[string]float64, len(parsed.Files))
	for _, f := range parsed.Files {
		if f.Length == "" {
			continue
		}
		if d, err := strconv.ParseFloat(f.Length, 64); err == nil {
			durationByName[f.Name] = d
		}
	}

	var out []videoFile
	for _, c := range candidates {
		d, has := durationByName[c.name]
		if !has || (d >= 20 && d <= 300) {
			out = append(out, c)
		}
	}
	return out
}

func sortFiles(files []videoFile) {
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].isMP4 != files[j].isMP4 {
			return files[i].isMP4
		}
		return files[i].size > files[j].size
	})
}

func extOf(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx == -1 {
		return ""
	}
	return name[idx+1:]
}

// percentEncodeFilename encodes an object filename for use in a download
// URL while preserving forward slashes (spec.md §4.8).
func percentEncodeFilename(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// validateDownloadURL performs the ranged-HEAD check required specifically
// for archive object URLs (spec.md §4.8): unlike the general C9 validator,
// 401/403/any >=400 rejects here rather than being treated as transient.
func (s *Strategy) validateDownloadURL(ctx context.Context, objectURL string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, validateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, objectURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-1")

	resp, err := s.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusBadRequest
}

// estimateQuality maps a file size in bytes to the ordinal tier label used
// by model.QualityTier (spec.md §4.8).
func estimateQuality(sizeBytes int64) string {
	const mb = 1 << 20
	switch {
	case sizeBytes > 100*mb:
		return "1080p"
	case sizeBytes > 50*mb:
		return "720p"
	case sizeBytes > 20*mb:
		return "480p"
	default:
		return "360p"
	}
}
