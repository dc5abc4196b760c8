package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/validator"
)

type noopStore struct{}

func (noopStore) UpsertCache(model.ResolvedArtifact) {}
func (noopStore) DeleteCache(string)                 {}
func (noopStore) DeleteAllCache()                    {}

func TestSetThenGet(t *testing.T) {
	c := New(noopStore{}, validator.New(), zerolog.Nop())
	c.Set("tt0111161", model.ResolvedArtifact{PreviewURL: "https://example.com/x.mp4", SourceType: model.SourceITunes})

	got, ok := c.Get("tt0111161")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.PreviewURL != "https://example.com/x.mp4" {
		t.Fatalf("unexpected url: %s", got.PreviewURL)
	}
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := New(noopStore{}, validator.New(), zerolog.Nop())
	c.mu.Lock()
	c.entries["tt1"] = model.ResolvedArtifact{
		ImdbID: "tt1", PreviewURL: "https://x/y.mp4", SourceType: model.SourceYouTube,
		Timestamp: time.Now().Add(-3 * time.Hour),
	}
	c.mu.Unlock()

	if _, ok := c.Get("tt1"); ok {
		t.Fatal("expected miss for expired youtube entry (TTL 2h)")
	}
}

func TestGetWithValidationKeeps403(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(noopStore{}, validator.New(), zerolog.Nop())
	c.mu.Lock()
	c.entries["tt2"] = model.ResolvedArtifact{
		ImdbID: "tt2", PreviewURL: srv.URL, SourceType: model.SourceArchive,
		Timestamp: time.Now().Add(-600 * time.Hour), // aged, archive TTL 720h
	}
	c.mu.Unlock()

	got, ok := c.GetWithValidation(context.Background(), "tt2")
	if !ok {
		t.Fatal("expected entry to survive a 403 probe")
	}
	if got.ImdbID != "tt2" {
		t.Fatalf("unexpected artifact: %+v", got)
	}
}

func TestGetWithValidationEvictsOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(noopStore{}, validator.New(), zerolog.Nop())
	c.mu.Lock()
	c.entries["tt3"] = model.ResolvedArtifact{
		ImdbID: "tt3", PreviewURL: srv.URL, SourceType: model.SourceArchive,
		Timestamp: time.Now().Add(-600 * time.Hour),
	}
	c.mu.Unlock()

	if _, ok := c.GetWithValidation(context.Background(), "tt3"); ok {
		t.Fatal("expected eviction on 404")
	}
	if _, ok := c.Get("tt3"); ok {
		t.Fatal("expected entry gone from cache after eviction")
	}
}

func TestNoNegativeCaching(t *testing.T) {
	c := New(noopStore{}, validator.New(), zerolog.Nop())
	if _, ok := c.Get("tt-never-set"); ok {
		t.Fatal("expected miss for an id that was never set")
	}
}
