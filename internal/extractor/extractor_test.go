package extractor

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/trailres/resolver/internal/breaker"
	"github.com/trailres/resolver/internal/model"
	"github.com/trailres/resolver/internal/tracker"
)

// fakeRunner replays a scripted sequence of (stdout, stderr) pairs keyed by
// call order, one per proxy attempt.
type fakeRunner struct {
	calls int
	steps []fakeStep
}

type fakeStep struct {
	stdout string
	stderr string
}

func (f *fakeRunner) Start(ctx context.Context, proxyURL, pageURL string) (io.ReadCloser, *bytes.Buffer, func() error, func(), error) {
	i := f.calls
	f.calls++
	var step fakeStep
	if i < len(f.steps) {
		step = f.steps[i]
	}
	stdout := io.NopCloser(bytes.NewBufferString(step.stdout))
	stderr := bytes.NewBufferString(step.stderr)
	wait := func() error { return nil }
	cancel := func() {}
	return stdout, stderr, wait, cancel, nil
}

func newTestPool(names ...string) *ProxyPool {
	cb := breaker.New(zerolog.Nop())
	tr := tracker.New(noopWriter{}, cb)
	var endpoints []Endpoint
	for _, n := range names {
		endpoints = append(endpoints, Endpoint{Name: n, ProxyURL: "http://" + n + ".invalid"})
	}
	return NewProxyPool(endpoints, tr, zerolog.Nop())
}

type noopWriter struct{}

func (noopWriter) UpsertStat(statType model.StatType, id string, successDelta, totalDelta int64, qualityDelta float64, sampleDelta int64) {
}

func TestExtractReturnsFirstSuccessfulProxy(t *testing.T) {
	runner := &fakeRunner{steps: []fakeStep{
		{stderr: "HTTP Error 403: Forbidden, not a bot check failed"},
		{stdout: "https://r.googlevideo.com/videoplayback?id=1\n"},
	}}
	pool := newTestPool("proxy-a", "proxy-b")
	e := NewWithRunner(runner, pool, zerolog.Nop())

	res, err := e.Extract(context.Background(), "https://youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.URL != "https://r.googlevideo.com/videoplayback?id=1" {
		t.Fatalf("unexpected url: %q", res.URL)
	}
	if res.Quality != "best" {
		t.Fatalf("expected best quality classification, got %q", res.Quality)
	}
}

func TestExtractAgeRestrictedShortCircuits(t *testing.T) {
	runner := &fakeRunner{steps: []fakeStep{
		{stderr: "ERROR: Sign in to confirm your age"},
	}}
	pool := newTestPool("proxy-a", "proxy-b")
	e := NewWithRunner(runner, pool, zerolog.Nop())

	_, err := e.Extract(context.Background(), "https://youtube.com/watch?v=abc")
	if err != ErrAgeRestricted {
		t.Fatalf("expected ErrAgeRestricted, got %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected exactly one attempt, got %d", runner.calls)
	}
}

func TestExtractFallsBackToDirectAfterAllProxiesFail(t *testing.T) {
	runner := &fakeRunner{steps: []fakeStep{
		{stderr: "not a bot"},
		{stderr: "not a bot"},
		{stdout: "https://example.com/stream.mp4\n"},
	}}
	pool := newTestPool("proxy-a", "proxy-b")
	e := NewWithRunner(runner, pool, zerolog.Nop())

	res, err := e.Extract(context.Background(), "https://youtube.com/watch?v=abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Proxy != "direct" {
		t.Fatalf("expected direct fallback, got %q", res.Proxy)
	}
	if runner.calls != 3 {
		t.Fatalf("expected 3 attempts (2 proxies + direct), got %d", runner.calls)
	}
}

func TestClassifyQualityUnknownForOpaqueURL(t *testing.T) {
	if got := classifyQuality("https://cdn.example.com/blob/9f8a"); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
}
