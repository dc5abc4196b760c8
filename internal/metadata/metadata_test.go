package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/model"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/find/tt0111161", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"movie_results": []map[string]any{{"id": 278}},
			"tv_results":    []map[string]any{},
		})
	})
	mux.HandleFunc("/movie/278", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"title":          "The Shawshank Redemption",
			"original_title": "The Shawshank Redemption",
			"release_date":   "1994-09-23",
			"runtime":        142,
			"videos": map[string]any{
				"results": []map[string]any{
					{"key": "abc123", "site": "YouTube", "type": "Featurette", "name": "Behind the Scenes"},
					{"key": "xyz789", "site": "YouTube", "type": "Trailer", "name": "Official Trailer"},
				},
			},
		})
	})
	mux.HandleFunc("/movie/278/alternative_titles", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"titles": []map[string]any{
				{"title": "Die Verurteilten", "iso_3166_1": "DE"},
				{"title": "Shawshank", "iso_3166_1": "US"},
			},
		})
	})
	return httptest.NewServer(mux)
}

func TestResolveMoviePicksOfficialTrailerOverFeaturette(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	r := New("key", zerolog.Nop())
	r.BaseURL = srv.URL

	ct, ok, err := r.Resolve(context.Background(), "tt0111161", model.MediaMovie)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected metadata to resolve")
	}
	if ct.YoutubeKey != "xyz789" {
		t.Fatalf("expected official trailer key, got %q", ct.YoutubeKey)
	}
	if ct.Year != 1994 {
		t.Fatalf("expected year 1994, got %d", ct.Year)
	}
	foundUS := false
	for _, alt := range ct.AltTitles {
		if alt == "Shawshank" {
			foundUS = true
		}
		if alt == "Die Verurteilten" {
			t.Fatal("DE alt title should have been filtered out")
		}
	}
	if !foundUS {
		t.Fatal("expected US alt title to be kept")
	}
}

func TestPopularMoviesResolvesImdbIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/movie/popular", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"id": 278}, {"id": 550}},
		})
	})
	mux.HandleFunc("/movie/278/external_ids", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"imdb_id": "tt0111161"})
	})
	mux.HandleFunc("/movie/550/external_ids", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"imdb_id": ""})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := New("key", zerolog.Nop())
	r.BaseURL = srv.URL

	got, err := r.PopularMovies(context.Background(), 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ImdbID != "tt0111161" || got[0].Type != model.MediaMovie {
		t.Fatalf("unexpected popular titles (entries missing an imdb id should be skipped): %+v", got)
	}
}
