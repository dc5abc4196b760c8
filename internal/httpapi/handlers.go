package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/resolver"
)

type streamResponse struct {
	Streams []streamEntry `json:"streams"`
}

type streamEntry struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// handleStream implements GET /stream/:type/:id.json — the add-on
// protocol surface the orchestrator sits behind. Gate enforcement keeps
// the resolution call itself unaware it is rate-bounded.
func (s *Server) handleStream(c *gin.Context) {
	mediaType := model.MediaMovie
	if c.Param("type") == "series" || c.Param("type") == "tv" {
		mediaType = model.MediaTV
	}
	rawID := strings.TrimSuffix(c.Param("id"), ".json")

	req := resolver.ParseRequest(rawID, mediaType)

	var artifact model.ResolvedArtifact
	var found bool
	err := s.gate.Run(c.Request.Context(), func(ctx context.Context) error {
		artifact, found = s.resolver.Resolve(ctx, req)
		return nil
	})
	if err != nil {
		// deadline fired before a slot freed or before resolution finished;
		// respond empty per spec.md §4.11, any late result is discarded.
		c.JSON(http.StatusOK, streamResponse{})
		return
	}
	if !found {
		c.JSON(http.StatusOK, streamResponse{})
		return
	}

	c.JSON(http.StatusOK, streamResponse{
		Streams: []streamEntry{{
			Name:  streamName(artifact.SourceType, mediaType),
			Title: streamTitle(artifact.Country),
			URL:   artifact.PreviewURL,
		}},
	})
}

// streamName implements spec.md §6's named add-on contract: iTunes results
// are labeled as a "preview", every other source as a "trailer", and the
// noun varies with movie vs. series the way S3/S6 expect.
func streamName(st model.SourceType, mt model.MediaType) string {
	if st == model.SourceITunes {
		if mt == model.MediaTV {
			return "Episode Preview"
		}
		return "Movie Preview"
	}
	if mt == model.MediaTV {
		return "Show Trailer"
	}
	return "Official Trailer"
}

// streamTitle carries the country tag (iTunes country code, or the
// synthetic yt/archive/apple tag the other sources set on
// model.ResolvedArtifact.Country)
// the way S1 expects: "Trailer / Preview (US)".
func streamTitle(country string) string {
	if country == "" {
		return "Trailer / Preview"
	}
	return fmt.Sprintf("Trailer / Preview (%s)", strings.ToUpper(country))
}

type manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Resources   []string `json:"resources"`
	Types       []string `json:"types"`
	Catalogs    []struct{} `json:"catalogs"`
	IDPrefixes  []string `json:"idPrefixes"`
}

func (s *Server) handleManifest(c *gin.Context) {
	c.JSON(http.StatusOK, manifest{
		ID:          "com.trailres.resolver",
		Name:        "Trailer Resolution Engine",
		Description: "Resolves official trailers for movies and series.",
		Version:     "1.0.0",
		Resources:   []string{"stream"},
		Types:       []string{"movie", "series"},
		IDPrefixes:  []string{"tt"},
	})
}

func (s *Server) handleDeleteCacheEntry(c *gin.Context) {
	id := c.Param("id")
	if s.cache != nil {
		s.cache.Delete(id)
	} else {
		s.store.DeleteCache(id)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleDeleteAllCache(c *gin.Context) {
	if s.cache != nil {
		s.cache.DeleteAll()
	} else {
		s.store.DeleteAllCache()
	}
	c.Status(http.StatusNoContent)
}

type cookieRequest struct {
	Cookies string `json:"cookies" binding:"required"`
	Email   string `json:"email"`
}

func (s *Server) handleAddArchiveCookie(c *gin.Context) {
	var req cookieRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.store.InsertCookie(req.Cookies, req.Email, time.Now())
	c.Status(http.StatusCreated)
}

func (s *Server) handleListArchiveCookies(c *gin.Context) {
	cookies, err := s.store.ListCookies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cookies": cookies})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	sources, qualities, err := s.store.LoadTopStatsByType(ctx, model.StatSources, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": sources, "quality": qualities})
}

func (s *Server) handleHealth(c *gin.Context) {
	allocMB, sysMB := memStatsMB()
	body := gin.H{
		"status":        "ok",
		"uptime_s":      time.Since(startedAt).Seconds(),
		"alloc_mb":      allocMB,
		"sys_mb":        sysMB,
		"in_flight":     s.gate.InFlight(),
		"gate_capacity": s.gate.Capacity(),
	}
	if s.cache != nil {
		body["cache_size"] = s.cache.Size()
		body["cache_capacity"] = s.cache.Capacity()
	}
	if s.tracker != nil {
		body["tracker_sizes"] = s.tracker.Sizes()
	}
	c.JSON(http.StatusOK, body)
}
