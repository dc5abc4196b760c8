package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/gate"
	"github.com/trailres/resolver/internal/model"
)

func newTestServer() (*Server, *gin.Engine) {
	gin.SetMode(gin.TestMode)
	s := &Server{gate: gate.New(), log: zerolog.Nop()}
	r := gin.New()
	registerHealthRoutes(r, s)
	registerResolutionRoutes(r, s)
	return s, r
}

func TestManifestServesStremioShape(t *testing.T) {
	_, r := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/manifest.json", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var m manifest
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if m.ID != "com.trailres.resolver" {
		t.Fatalf("unexpected manifest id: %s", m.ID)
	}
	if len(m.Types) != 2 {
		t.Fatalf("expected movie+series types, got %v", m.Types)
	}
}

func TestStreamNameBySourceAndMediaType(t *testing.T) {
	cases := []struct {
		source model.SourceType
		media  model.MediaType
		want   string
	}{
		{model.SourceITunes, model.MediaMovie, "Movie Preview"},
		{model.SourceITunes, model.MediaTV, "Episode Preview"},
		{model.SourceYouTube, model.MediaMovie, "Official Trailer"},
		{model.SourceYouTube, model.MediaTV, "Show Trailer"},
		{model.SourceArchive, model.MediaTV, "Show Trailer"},
	}
	for _, c := range cases {
		if got := streamName(c.source, c.media); got != c.want {
			t.Fatalf("streamName(%s,%s) = %q, want %q", c.source, c.media, got, c.want)
		}
	}
}

func TestStreamTitleCarriesCountryTag(t *testing.T) {
	if got := streamTitle("US"); got != "Trailer / Preview (US)" {
		t.Fatalf("unexpected title: %q", got)
	}
	if got := streamTitle(""); got != "Trailer / Preview" {
		t.Fatalf("unexpected title for empty country: %q", got)
	}
}

func TestHealthReportsGateCapacity(t *testing.T) {
	_, r := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
	if int(body["gate_capacity"].(float64)) != 5 {
		t.Fatalf("expected default gate capacity 5, got %v", body["gate_capacity"])
	}
}
