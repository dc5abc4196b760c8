package itunes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/model"
)

func TestSearchFindsExactMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resultCount": 1,
			"results": []map[string]any{
				{
					"trackId":         123,
					"trackName":       "Inception",
					"previewUrl":      "https://example.com/preview.mov",
					"releaseDate":     "2010-07-16",
					"trackTimeMillis": 90000.0,
				},
			},
		})
	}))
	defer srv.Close()

	s := New(srv.URL, zerolog.Nop())
	ct := model.CanonicalTitle{MediaType: model.MediaMovie, Title: "Inception", Year: 2010}

	got, ok := s.Search(context.Background(), ct, []string{"US"})
	if !ok {
		t.Fatal("expected a match")
	}
	if got.PreviewURL != "https://example.com/preview.mov" {
		t.Fatalf("unexpected preview url: %s", got.PreviewURL)
	}
	if got.Country != "US" {
		t.Fatalf("expected country US, got %s", got.Country)
	}
}

func TestSearchRejectsBelowThreshold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"resultCount": 1,
			"results": []map[string]any{
				{
					"trackId":     1,
					"trackName":   "Completely Unrelated Title",
					"previewUrl":  "https://example.com/x.mov",
					"releaseDate": "1950-01-01",
				},
			},
		})
	}))
	defer srv.Close()

	s := New(srv.URL, zerolog.Nop())
	ct := model.CanonicalTitle{MediaType: model.MediaMovie, Title: "Inception", Year: 2010}

	_, ok := s.Search(context.Background(), ct, []string{"US"})
	if ok {
		t.Fatal("expected no match below threshold")
	}
}

func TestScoreRecordMissingPreviewIsRejected(t *testing.T) {
	ct := model.CanonicalTitle{MediaType: model.MediaMovie, Title: "X"}
	score, _ := scoreRecord(ct, Record{TrackName: "X"})
	if score != -1.0 {
		t.Fatalf("expected -1.0 for missing preview url, got %v", score)
	}
}
