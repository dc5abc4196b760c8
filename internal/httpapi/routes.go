// Package httpapi exposes the resolution engine over HTTP. Route
// registration follows the teacher's routes.go convention: one
// RegisterRoutes entry point delegating to small, grouped
// registerXxxRoutes functions so no single function grows unwieldy.
package httpapi

import (
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/cache"
	"github.com/trailres/resolver/internal/gate"
	"github.com/trailres/resolver/internal/resolver"
	"github.com/trailres/resolver/internal/store"
	"github.com/trailres/resolver/internal/tracker"
)

var startedAt = time.Time{}

// Server bundles everything the HTTP boundary needs.
type Server struct {
	resolver *resolver.Resolver
	gate     *gate.Gate
	store    *store.Store
	cache    *cache.Cache
	tracker  *tracker.Tracker
	log      zerolog.Logger
}

// New builds a Server.
func New(res *resolver.Resolver, g *gate.Gate, st *store.Store, c *cache.Cache, trk *tracker.Tracker, log zerolog.Logger) *Server {
	if startedAt.IsZero() {
		startedAt = now()
	}
	return &Server{resolver: res, gate: g, store: st, cache: c, tracker: trk, log: log}
}

// now exists so tests can observe a stable reference point without this
// package reaching for time.Now() at import time (Date/time.Now calls are
// otherwise confined to request handling).
func now() time.Time { return time.Now() }

// RegisterRoutes wires every endpoint onto r, grouped the way the teacher
// groups its routes.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.Use(requestIDMiddleware())
	registerResolutionRoutes(r, s)
	registerCacheAdminRoutes(r, s)
	registerCookieAdminRoutes(r, s)
	registerHealthRoutes(r, s)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("request_id", uuid.NewString())
		c.Next()
	}
}

func registerResolutionRoutes(r *gin.Engine, s *Server) {
	r.GET("/stream/:type/:id", s.handleStream)
	r.GET("/manifest.json", s.handleManifest)
}

func registerCacheAdminRoutes(r *gin.Engine, s *Server) {
	r.DELETE("/cache/:id", s.handleDeleteCacheEntry)
	r.DELETE("/cache", s.handleDeleteAllCache)
	r.GET("/stats", s.handleStats)
}

func registerCookieAdminRoutes(r *gin.Engine, s *Server) {
	r.POST("/admin/archive-cookie", s.handleAddArchiveCookie)
	r.GET("/admin/archive-cookies", s.handleListArchiveCookies)
}

func registerHealthRoutes(r *gin.Engine, s *Server) {
	r.GET("/health", s.handleHealth)
}

// memStatsMB reports the Go runtime's allocated and total obtained memory,
// in MiB, for the health endpoint.
func memStatsMB() (allocMB, sysMB uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc / (1 << 20), m.Sys / (1 << 20)
}
