// Package resolver implements the Resolver Orchestrator (C10): the single
// entry point that turns an (imdb_id, type) pair into a streamable URL by
// sequencing cache lookup, metadata resolution, candidate-source ranking,
// and a quality-aware parallel race across strategies (spec.md §4.10).
//
// The fan-out shape — bounded concurrency, per-task deadline contexts,
// cancel-the-rest-on-first-good-result — follows ManuGH-xg2g's
// internal/jobs/fetch.go (errgroup.WithContext over a worker slice) and
// internal/daemon/app.go's graceful-shutdown errgroup usage, generalized
// from "fetch N playlists" to "race N trailer sources."
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/trailres/resolver/internal/appletrailers"
	"github.com/trailres/resolver/internal/archive"
	"github.com/trailres/resolver/internal/cache"
	"github.com/trailres/resolver/internal/extractor"
	"github.com/trailres/resolver/internal/itunes"
	"github.com/trailres/resolver/internal/metadata"
	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/tracker"
)

// Request is the orchestrator's input.
type Request struct {
	// ShowID is the IMDb id with any episode suffix stripped; it is used
	// for both caching and metadata lookup regardless of episode_hint.
	ShowID string
	Type   model.MediaType
	Hint   model.EpisodeHint
	HasHint bool
}

// ParseRequest splits a possibly colon-delimited id ("tt1234:1:2") into the
// show id and an episode hint (spec.md §4.10).
func ParseRequest(rawID string, mediaType model.MediaType) Request {
	parts := strings.Split(rawID, ":")
	req := Request{ShowID: parts[0], Type: mediaType}
	if len(parts) >= 3 {
		season, errS := strconv.Atoi(parts[1])
		episode, errE := strconv.Atoi(parts[2])
		if errS == nil && errE == nil {
			req.Hint = model.EpisodeHint{Season: season, Episode: episode, IsFirstEpisode: season == 1 && episode == 1}
			req.HasHint = true
		}
	}
	return req
}

// Resolver wires together C2-C9 to implement C10.
type Resolver struct {
	cache         *cache.Cache
	metadata      *metadata.Resolver
	itunes        *itunes.Strategy
	archive       *archive.Strategy
	extractor     *extractor.Extractor
	appleTrailers *appletrailers.Finder
	tracker       *tracker.Tracker
	log           zerolog.Logger
}

// Deps bundles the components a Resolver needs.
type Deps struct {
	Cache         *cache.Cache
	Metadata      *metadata.Resolver
	ITunes        *itunes.Strategy
	Archive       *archive.Strategy
	Extractor     *extractor.Extractor
	AppleTrailers *appletrailers.Finder
	Tracker       *tracker.Tracker
	Log           zerolog.Logger
}

// New builds a Resolver.
func New(d Deps) *Resolver {
	return &Resolver{
		cache:         d.Cache,
		metadata:      d.Metadata,
		itunes:        d.ITunes,
		archive:       d.Archive,
		extractor:     d.Extractor,
		appleTrailers: d.AppleTrailers,
		tracker:       d.Tracker,
		log:           d.Log,
	}
}

// Resolve implements spec.md §4.10 steps 1-7.
func (r *Resolver) Resolve(ctx context.Context, req Request) (model.ResolvedArtifact, bool) {
	if artifact, ok := r.cache.GetWithValidation(ctx, req.ShowID); ok {
		return artifact, true
	}

	ct, ok, err := r.metadata.Resolve(ctx, req.ShowID, req.Type)
	if err != nil || !ok {
		if err != nil {
			r.log.Warn().Err(err).Str("imdb_id", req.ShowID).Msg("metadata lookup failed")
		}
		return model.ResolvedArtifact{}, false
	}

	candidates := buildCandidates(ct, req.Type)
	if len(candidates) == 0 {
		return model.ResolvedArtifact{}, false
	}

	scored := r.tracker.GetSortedSources(candidates)
	names := make([]string, len(scored))
	for i, s := range scored {
		names[i] = s.Name
	}

	top := names
	var tail []string
	if len(names) > 3 {
		top, tail = names[:3], names[3:]
	}

	if artifact, source, quality, ok := r.race(ctx, top, ct, req); ok {
		r.onSuccess(req.ShowID, artifact, source, quality)
		return artifact, true
	}

	for _, name := range tail {
		deadline := deadlineFor(name, 0)
		attemptCtx, cancel := context.WithTimeout(ctx, deadline)
		res := r.attempt(attemptCtx, name, ct, req)
		cancel()
		if res.err == nil {
			r.onSuccess(req.ShowID, res.artifact, res.source, res.quality)
			return res.artifact, true
		}
		r.tracker.RecordFailure(model.StatSources, name)
	}

	return model.ResolvedArtifact{}, false
}

func (r *Resolver) onSuccess(showID string, artifact model.ResolvedArtifact, source, quality string) {
	artifact.ImdbID = showID
	r.cache.Set(showID, artifact)
	r.tracker.RecordSuccess(model.StatSources, source)
	if quality != "" {
		r.tracker.RecordQuality(model.StatSources, source, model.QualityTier(quality))
	}
}

// buildCandidates implements spec.md §4.10 step 3.
func buildCandidates(ct model.CanonicalTitle, mediaType model.MediaType) []string {
	var out []string
	if ct.HasYoutube() {
		out = append(out, "ytdlp")
	}
	if mediaType == model.MediaTV {
		out = append(out, "itunes")
	}
	if mediaType == model.MediaMovie {
		out = append(out, "appletrailers")
	}
	out = append(out, "archive")
	return out
}

// race launches the top slice concurrently with per-source deadlines and
// applies the priority short-circuit / quality-wait-window rule of
// spec.md §4.10 step 5.
func (r *Resolver) race(ctx context.Context, sources []string, ct model.CanonicalTitle, req Request) (model.ResolvedArtifact, string, string, bool) {
	if len(sources) == 0 {
		return model.ResolvedArtifact{}, "", "", false
	}

	raceCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	results := make(chan attemptResult, len(sources))
	var g errgroup.Group
	for _, name := range sources {
		name := name
		g.Go(func() error {
			var res attemptResult
			func() {
				defer func() {
					if p := recover(); p != nil {
						res = attemptResult{source: name, err: fmt.Errorf("resolver: source %s panicked: %v", name, p)}
					}
				}()
				deadline := deadlineFor(name, 0)
				attemptCtx, cancel := context.WithTimeout(raceCtx, deadline)
				defer cancel()
				res = r.attempt(attemptCtx, name, ct, req)
			}()
			select {
			case results <- res:
			case <-raceCtx.Done():
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	var pending []attemptResult

	for i := 0; i < len(sources); i++ {
		res, ok := <-results
		if !ok {
			break
		}
		if res.err != nil {
			r.tracker.RecordFailure(model.StatSources, res.source)
			continue
		}
		if isHighPriority(res.source) {
			cancelAll()
			return res.artifact, res.source, res.quality, true
		}

		// a non-priority success: wait up to 2s total for a higher-priority
		// result before committing to a composite-score pick.
		pending = append(pending, res)
		winner, ok := r.waitForBetterOrTimeout(raceCtx, results, pending, 2*time.Second)
		if ok {
			cancelAll()
			return winner.artifact, winner.source, winner.quality, true
		}
	}

	if len(pending) == 0 {
		return model.ResolvedArtifact{}, "", "", false
	}
	best := bestByComposite(pending, r.tracker)
	return best.artifact, best.source, best.quality, true
}

// waitForBetterOrTimeout drains further results for up to window, updating
// pending; returns the eventual winner once the window elapses or a
// high-priority result arrives.
func (r *Resolver) waitForBetterOrTimeout(ctx context.Context, results <-chan attemptResult, pending []attemptResult, window time.Duration) (attemptResult, bool) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				return bestByComposite(pending, r.tracker), true
			}
			if res.err != nil {
				r.tracker.RecordFailure(model.StatSources, res.source)
				continue
			}
			if isHighPriority(res.source) {
				return res, true
			}
			pending = append(pending, res)
		case <-timer.C:
			return bestByComposite(pending, r.tracker), true
		case <-ctx.Done():
			return bestByComposite(pending, r.tracker), true
		}
	}
}

// bestByComposite picks by priority_rank -> quality -> success_rate
// (spec.md §4.10 step 5).
func bestByComposite(results []attemptResult, tr *tracker.Tracker) attemptResult {
	sort.SliceStable(results, func(i, j int) bool {
		pi, pj := priorityRank(results[i].source), priorityRank(results[j].source)
		if pi != pj {
			return pi > pj
		}
		qi, qj := model.QualityTier(results[i].quality), model.QualityTier(results[j].quality)
		if qi != qj {
			return qi > qj
		}
		return tr.Rate(model.StatSources, results[i].source) > tr.Rate(model.StatSources, results[j].source)
	})
	return results[0]
}
