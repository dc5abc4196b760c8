package extractor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/tracker"
)

const healthCheckTimeout = 2 * time.Second

// Endpoint is one configured forward-proxy (spec.md §4.7: "each backed by a
// WireGuard tunnel to a distinct egress IP" — the tunnel itself is outside
// this process's concern, only the HTTP proxy URL and a status URL for the
// advisory health check are needed here).
type Endpoint struct {
	Name      string
	ProxyURL  string
	StatusURL string
}

// ProxyPool orders configured proxy endpoints by learned success rate (C3,
// type "proxy") and records outcomes back into the tracker, which in turn
// feeds the shared circuit breaker for replicated-instance types. Health
// checks are advisory only, per spec.md §4.7 ("if all fail, still attempt
// in order").
type ProxyPool struct {
	mu        sync.Mutex
	endpoints []Endpoint
	client    *http.Client
	tr        *tracker.Tracker
	log       zerolog.Logger
}

// NewProxyPool builds a pool from configured endpoints. tr must already be
// wired to the shared breaker (tracker.New(store, cb)) so that proxy
// failures/successes trip and reset the right circuits.
func NewProxyPool(endpoints []Endpoint, tr *tracker.Tracker, log zerolog.Logger) *ProxyPool {
	return &ProxyPool{
		endpoints: endpoints,
		client:    &http.Client{Timeout: healthCheckTimeout},
		tr:        tr,
		log:       log,
	}
}

// HealthCheck probes every endpoint's status URL and logs the outcome; it
// never filters the pool (advisory only).
func (p *ProxyPool) HealthCheck(ctx context.Context) {
	for _, ep := range p.endpoints {
		if ep.StatusURL == "" {
			continue
		}
		reqCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, ep.StatusURL, nil)
		if err != nil {
			cancel()
			continue
		}
		resp, err := p.client.Do(req)
		cancel()
		if err != nil {
			p.log.Warn().Str("proxy", ep.Name).Msg("proxy health check failed, continuing anyway")
			continue
		}
		if resp.StatusCode >= 400 {
			resp.Body.Close()
			p.log.Warn().Str("proxy", ep.Name).Msg("proxy health check failed, continuing anyway")
			continue
		}
		resp.Body.Close()
	}
}

// RankedEndpoints orders the pool by learned success rate (falling back to
// configuration order for ties / unseen endpoints), excluding any whose
// breaker circuit is open.
func (p *ProxyPool) RankedEndpoints() []Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]string, 0, len(p.endpoints))
	byID := make(map[string]Endpoint, len(p.endpoints))
	for _, ep := range p.endpoints {
		ids = append(ids, ep.Name)
		byID[ep.Name] = ep
	}

	ranked := p.tr.SortBySuccessRate(model.StatProxy, ids)
	out := make([]Endpoint, 0, len(ranked))
	for _, id := range ranked {
		out = append(out, byID[id])
	}
	return out
}

// RecordSuccess reports a successful extraction through proxy name.
func (p *ProxyPool) RecordSuccess(name string) {
	p.tr.RecordSuccess(model.StatProxy, name)
}

// RecordFailure reports a failed attempt through proxy name.
func (p *ProxyPool) RecordFailure(name string) {
	p.tr.RecordFailure(model.StatProxy, name)
}
