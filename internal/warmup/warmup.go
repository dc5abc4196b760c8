// Package warmup pre-resolves a small set of popular titles at startup and
// on a fixed interval, so the first real request for a popular title hits
// a warm cache (spec.md §4.2 benefits from pre-expiry revalidation the same
// way). The interval-ticker-driven background job follows the teacher's
// tasks.go scheduleTask: an immediate first run, then a ticker loop
// launching one run per tick.
package warmup

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/resolver"
)

const (
	interval     = 6 * time.Hour
	itemPacing   = 500 * time.Millisecond
	perListLimit = 25
)

// PopularTitle is one warm-up candidate.
type PopularTitle struct {
	ImdbID string
	Type   model.MediaType
}

// Source supplies the current popular-title lists; production code backs
// this with the metadata DB's "popular" listings, tests with a static fixture.
type Source interface {
	PopularMovies(ctx context.Context, limit int) ([]PopularTitle, error)
	PopularSeries(ctx context.Context, limit int) ([]PopularTitle, error)
}

// Warmer drives the periodic pre-resolution job.
type Warmer struct {
	resolver *resolver.Resolver
	source   Source
	log      zerolog.Logger
}

// New builds a Warmer.
func New(res *resolver.Resolver, source Source, log zerolog.Logger) *Warmer {
	return &Warmer{resolver: res, source: source, log: log}
}

// Run performs an immediate warm-up pass, then repeats every interval
// until ctx is canceled.
func (w *Warmer) Run(ctx context.Context) {
	w.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Warmer) runOnce(ctx context.Context) {
	movies, err := w.source.PopularMovies(ctx, perListLimit)
	if err != nil {
		w.log.Warn().Err(err).Msg("warmup: failed to fetch popular movies")
	} else {
		w.resolveAll(ctx, movies)
	}

	series, err := w.source.PopularSeries(ctx, perListLimit)
	if err != nil {
		w.log.Warn().Err(err).Msg("warmup: failed to fetch popular series")
	} else {
		w.resolveAll(ctx, series)
	}
}

func (w *Warmer) resolveAll(ctx context.Context, titles []PopularTitle) {
	for _, t := range titles {
		req := resolver.ParseRequest(t.ImdbID, t.Type)
		if _, ok := w.resolver.Resolve(ctx, req); !ok {
			w.log.Debug().Str("imdb_id", t.ImdbID).Msg("warmup: resolution miss")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(itemPacing):
		}
	}
}
