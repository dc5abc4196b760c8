package resolver

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/breaker"
	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/tracker"
)

type noopStore struct{}

func (noopStore) UpsertStat(statType model.StatType, id string, successDelta, totalDelta int64, qualityDelta float64, sampleDelta int64) {
}

func TestParseRequestSplitsEpisodeHint(t *testing.T) {
	req := ParseRequest("tt1234567:1:2", model.MediaTV)
	if req.ShowID != "tt1234567" {
		t.Fatalf("unexpected show id: %s", req.ShowID)
	}
	if !req.HasHint || req.Hint.Season != 1 || req.Hint.Episode != 2 {
		t.Fatalf("unexpected hint: %+v", req.Hint)
	}
	if req.Hint.IsFirstEpisode {
		t.Fatal("season 1 episode 2 should not be flagged as the first episode")
	}
}

func TestParseRequestDetectsFirstEpisode(t *testing.T) {
	req := ParseRequest("tt1234567:1:1", model.MediaTV)
	if !req.Hint.IsFirstEpisode {
		t.Fatal("expected season 1 episode 1 to be flagged as first episode")
	}
}

func TestParseRequestPlainID(t *testing.T) {
	req := ParseRequest("tt1234567", model.MediaMovie)
	if req.HasHint {
		t.Fatal("expected no hint for a plain id")
	}
	if req.ShowID != "tt1234567" {
		t.Fatalf("unexpected show id: %s", req.ShowID)
	}
}

func TestBuildCandidatesMovieWithYoutube(t *testing.T) {
	ct := model.CanonicalTitle{YoutubeKey: "abc"}
	got := buildCandidates(ct, model.MediaMovie)
	want := []string{"ytdlp", "appletrailers", "archive"}
	assertSlicesEqual(t, got, want)
}

func TestBuildCandidatesTVWithoutYoutube(t *testing.T) {
	ct := model.CanonicalTitle{}
	got := buildCandidates(ct, model.MediaTV)
	want := []string{"itunes", "archive"}
	assertSlicesEqual(t, got, want)
}

func assertSlicesEqual(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestDeadlineForTighensWithinBounds(t *testing.T) {
	if d := deadlineFor("archive", 0); d != 8e9 {
		t.Fatalf("expected static default when avg is zero, got %v", d)
	}
	if d := deadlineFor("archive", 1e9); d != 3e9 {
		t.Fatalf("expected 3x average (3s), got %v", d)
	}
	if d := deadlineFor("archive", 100e9); d != 8e9 {
		t.Fatalf("expected cap at static default, got %v", d)
	}
	if d := deadlineFor("archive", 100*1e6); d != floorDeadline {
		t.Fatalf("expected floor of 2s, got %v", d)
	}
}

func TestBestByCompositePrefersHigherPriority(t *testing.T) {
	cb := breaker.New(zerolog.Nop())
	tr := tracker.New(noopStore{}, cb)

	results := []attemptResult{
		{source: "archive", quality: "1080p"},
		{source: "ytdlp", quality: "360p"},
	}
	best := bestByComposite(results, tr)
	if best.source != "ytdlp" {
		t.Fatalf("expected ytdlp to win on priority despite lower quality, got %s", best.source)
	}
}

func TestBestByCompositeFallsBackToQuality(t *testing.T) {
	cb := breaker.New(zerolog.Nop())
	tr := tracker.New(noopStore{}, cb)

	results := []attemptResult{
		{source: "itunes", quality: "360p"},
		{source: "appletrailers", quality: "1080p"},
	}
	best := bestByComposite(results, tr)
	if best.source != "appletrailers" {
		t.Fatalf("expected appletrailers to win on quality at equal priority, got %s", best.source)
	}
}
