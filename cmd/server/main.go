// Command server runs the Trailer Resolution Engine: it wires the
// persistence layer, the learned-statistics tracker and circuit breaker,
// the per-source resolution strategies, the orchestrator, and the request
// gate into a single gin.Engine, then serves it until a signal arrives.
//
// Startup/shutdown sequencing follows ManuGH-xg2g's cmd/daemon/main.go and
// internal/daemon/app.go: signal.NotifyContext for interrupt handling, an
// errgroup.WithContext to run the HTTP server and the background warm-up
// job side by side, and a bounded context.WithTimeout drain on shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/trailres/resolver/internal/appletrailers"
	"github.com/trailres/resolver/internal/archive"
	"github.com/trailres/resolver/internal/breaker"
	"github.com/trailres/resolver/internal/cache"
	"github.com/trailres/resolver/internal/config"
	"github.com/trailres/resolver/internal/extractor"
	"github.com/trailres/resolver/internal/gate"
	"github.com/trailres/resolver/internal/httpapi"
	"github.com/trailres/resolver/internal/itunes"
	"github.com/trailres/resolver/internal/logging"
	"github.com/trailres/resolver/internal/metadata"
	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/resolver"
	"github.com/trailres/resolver/internal/store"
	"github.com/trailres/resolver/internal/tracker"
	"github.com/trailres/resolver/internal/validator"
	"github.com/trailres/resolver/internal/warmup"
)

const (
	shutdownGrace  = 15 * time.Second
	statTrimCap    = 5000
	statTrimPeriod = time.Hour
)

// trimmedStatTypes is every stat_type partition the tracker/store maintain;
// each gets its own bulk-trim-to-cap pass (spec.md §4.1 "Capacity caps").
var trimmedStatTypes = []model.StatType{
	model.StatSources, model.StatITunes, model.StatPiped,
	model.StatInvidious, model.StatYtdlp, model.StatArchive, model.StatProxy,
}

func main() {
	log := logging.New(logging.Config{Level: "info", Pretty: os.Getenv("LOG_PRETTY") == "1"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DBPath, logging.Component(log, "store"))
	if err != nil {
		log.Fatal().Err(err).Str("db_path", cfg.DBPath).Msg("failed to open store")
	}
	defer db.Close()

	cb := breaker.New(logging.Component(log, "breaker"))
	trk := tracker.New(db, cb)

	val := validator.New()
	resCache := cache.New(db, val, logging.Component(log, "cache"))

	// hydrate the in-memory cache and tracker from the persisted tables
	if rows, err := db.LoadRecentCache(ctx, resCache.Capacity()); err != nil {
		log.Warn().Err(err).Msg("failed to load persisted cache rows")
	} else {
		resCache.Seed(rows)
	}
	for _, st := range trimmedStatTypes {
		successes, qualities, err := db.LoadTopStatsByType(ctx, st, statTrimCap)
		if err != nil {
			log.Warn().Err(err).Str("stat_type", string(st)).Msg("failed to load persisted stats")
			continue
		}
		trk.Seed(successes, qualities)
	}

	meta := metadata.New(cfg.TMDBAPIKey, logging.Component(log, "metadata"))
	it := itunes.New(cfg.ITunesHost, logging.Component(log, "itunes"))

	endpoints := make([]extractor.Endpoint, 0, len(cfg.ProxyPool))
	for _, e := range cfg.ProxyPool {
		endpoints = append(endpoints, extractor.Endpoint{Name: e.Name, ProxyURL: e.ProxyURL, StatusURL: e.StatusURL})
	}
	pool := extractor.NewProxyPool(endpoints, trk, logging.Component(log, "proxy_pool"))
	ytdlp := extractor.New(pool, logging.Component(log, "extractor"))

	arc := archive.New(db, logging.Component(log, "archive"))
	if cfg.ArchiveMirror != "" {
		arc.BaseURL = cfg.ArchiveMirror
	}
	apple := appletrailers.New(logging.Component(log, "appletrailers"))

	res := resolver.New(resolver.Deps{
		Cache:         resCache,
		Metadata:      meta,
		ITunes:        it,
		Archive:       arc,
		Extractor:     ytdlp,
		AppleTrailers: apple,
		Tracker:       trk,
		Log:           logging.Component(log, "resolver"),
	})

	g := gate.NewWithLimit(cfg.GateMaxInFlight)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	api := httpapi.New(res, g, db, resCache, trk, logging.Component(log, "httpapi"))
	api.RegisterRoutes(engine)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	warmer := warmup.New(res, metadataWarmupSource{meta: meta}, logging.Component(log, "warmup"))

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		warmer.Run(gctx)
		return nil
	})

	grp.Go(func() error {
		resCache.RunEvictionLoop(gctx)
		return nil
	})

	grp.Go(func() error {
		runStatTrimLoop(gctx, db)
		return nil
	})

	grp.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := grp.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
		os.Exit(1)
	}
}

// runStatTrimLoop is the hourly bulk-trim-to-cap pass spec.md §4.12 pairs
// with the cache eviction sweep: each stat_type partition is capped
// independently at statTrimCap rows.
func runStatTrimLoop(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(statTrimPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range trimmedStatTypes {
				db.TrimStatsOverCap(st, statTrimCap)
			}
		}
	}
}

// metadataWarmupSource adapts the metadata resolver's popular/trending
// lookups to warmup.Source's own PopularTitle type.
type metadataWarmupSource struct {
	meta *metadata.Resolver
}

func (s metadataWarmupSource) PopularMovies(ctx context.Context, limit int) ([]warmup.PopularTitle, error) {
	titles, err := s.meta.PopularMovies(ctx, limit)
	if err != nil {
		return nil, err
	}
	return adaptPopularTitles(titles), nil
}

func (s metadataWarmupSource) PopularSeries(ctx context.Context, limit int) ([]warmup.PopularTitle, error) {
	titles, err := s.meta.PopularSeries(ctx, limit)
	if err != nil {
		return nil, err
	}
	return adaptPopularTitles(titles), nil
}

func adaptPopularTitles(titles []metadata.PopularTitle) []warmup.PopularTitle {
	out := make([]warmup.PopularTitle, len(titles))
	for i, t := range titles {
		out[i] = warmup.PopularTitle{ImdbID: t.ImdbID, Type: t.Type}
	}
	return out
}
