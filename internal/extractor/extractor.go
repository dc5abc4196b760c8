// Package extractor implements the YouTube/Generic Extractor (C7): given a
// page URL the yt-dlp binary supports, invoke it through a rotating proxy
// pool and return a direct-streamable URL plus an observed quality tier
// (spec.md §4.7).
//
// The subprocess contract follows the teacher's youtube.go: an injectable
// Runner (generalizing its ytDlpRunner test hook) starts the command and
// hands back stdout for line-oriented parsing, so tests substitute a fake
// runner instead of mutating a package-level bool like YtDlpTestMode.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	invocationTimeout = 18 * time.Second
	outputCap         = 10 << 20 // 10MB
	formatSelector    = "best[height<=1080][ext=mp4][protocol=https]/best[height<=1080][ext=mp4]/best[height<=1080]/best"
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var botDetectionMarkers = []string{"sign in to confirm", "not a bot", "confirm you're not a bot", "bot"}
var ageRestrictedMarkers = []string{"age-restricted", "age restricted", "sign in to confirm your age"}

// Runner starts the yt-dlp subprocess and returns its stdout reader, a
// buffer collecting its stderr, a wait function that reaps the process, and
// a cancel function that stops it. Production code uses execRunner; tests
// inject a fake.
type Runner interface {
	Start(ctx context.Context, proxyURL, pageURL string) (stdout io.ReadCloser, stderr *bytes.Buffer, wait func() error, cancel func(), err error)
}

type execRunner struct{}

func (execRunner) Start(ctx context.Context, proxyURL, pageURL string) (io.ReadCloser, *bytes.Buffer, func() error, func(), error) {
	args := []string{
		"--get-url",
		"--no-playlist",
		"-f", formatSelector,
		"--user-agent", userAgent,
		"--referer", pageURL,
		"--extractor-args", "youtube:player_client=android,web",
	}
	if proxyURL != "" {
		args = append(args, "--proxy", proxyURL)
	}
	args = append(args, pageURL)

	cmdCtx, cancel := context.WithTimeout(ctx, invocationTimeout)
	cmd := exec.CommandContext(cmdCtx, "yt-dlp", args...)
	// soft grace before escalating to kill, per spec.md §5
	// ("Cancelling the yt-dlp subprocess after a soft grace (<=2s) may
	// escalate to kill"): cancellation sends an interrupt, and Wait kills
	// the process if it has not exited 2s later.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 2 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, nil, nil, nil, err
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, nil, nil, nil, err
	}

	wait := func() error { return cmd.Wait() }
	return stdout, &stderrBuf, wait, cancel, nil
}

// Quality is the observed quality tier label, used for model.QualityTier.
type Quality string

// Result is a successful extraction.
type Result struct {
	URL     string
	Quality Quality
	Proxy   string
}

var (
	// ErrAgeRestricted signals unresolvable age-gated content: no further
	// attempts should be made (spec.md §4.7).
	ErrAgeRestricted = errors.New("extractor: age-restricted content")
	// ErrBotDetected signals the current proxy/IP was challenged; callers
	// should advance to the next proxy without retrying this one.
	ErrBotDetected = errors.New("extractor: bot detection")
	// ErrNoOutput signals the subprocess produced no usable URL.
	ErrNoOutput = errors.New("extractor: no output")
)

// Extractor drives the proxy pool + subprocess invocation.
type Extractor struct {
	runner Runner
	pool   *ProxyPool
	log    zerolog.Logger
}

// New builds an Extractor using the real yt-dlp binary.
func New(pool *ProxyPool, log zerolog.Logger) *Extractor {
	return &Extractor{runner: execRunner{}, pool: pool, log: log}
}

// NewWithRunner is the test-injection constructor.
func NewWithRunner(runner Runner, pool *ProxyPool, log zerolog.Logger) *Extractor {
	return &Extractor{runner: runner, pool: pool, log: log}
}

// Extract tries each ranked proxy in turn, then one direct attempt as a
// last resort (spec.md §4.7).
func (e *Extractor) Extract(ctx context.Context, pageURL string) (Result, error) {
	ordered := e.pool.RankedEndpoints()

	for _, ep := range ordered {
		res, err := e.attempt(ctx, ep.ProxyURL, pageURL)
		if errors.Is(err, ErrAgeRestricted) {
			return Result{}, err
		}
		if err == nil {
			e.pool.RecordSuccess(ep.Name)
			res.Proxy = ep.Name
			return res, nil
		}
		e.pool.RecordFailure(ep.Name)
		if errors.Is(err, ErrBotDetected) {
			continue // advance immediately, do not retry same proxy
		}
	}

	// last resort: one direct attempt
	res, err := e.attempt(ctx, "", pageURL)
	if err != nil {
		return Result{}, err
	}
	res.Proxy = "direct"
	return res, nil
}

func (e *Extractor) attempt(ctx context.Context, proxyURL, pageURL string) (Result, error) {
	stdout, stderr, wait, cancel, err := e.runner.Start(ctx, proxyURL, pageURL)
	if err != nil {
		return Result{}, err
	}
	defer cancel()

	line, readErr := readFirstLine(stdout, outputCap)
	waitErr := wait()

	stderrText := ""
	if stderr != nil {
		stderrText = strings.ToLower(stderr.String())
	}

	if containsAny(stderrText, ageRestrictedMarkers) {
		return Result{}, ErrAgeRestricted
	}
	if containsAny(stderrText, botDetectionMarkers) {
		return Result{}, ErrBotDetected
	}
	if waitErr != nil {
		return Result{}, fmt.Errorf("extractor: subprocess failed: %w", waitErr)
	}
	if readErr != nil && line == "" {
		return Result{}, ErrNoOutput
	}
	if line == "" {
		return Result{}, ErrNoOutput
	}

	return Result{URL: line, Quality: classifyQuality(line)}, nil
}

// readFirstLine reads only the first stdout line (per spec.md §9: "parse
// only the first stdout line as the resolved URL"), bounded by cap bytes.
func readFirstLine(r io.Reader, cap int) (string, error) {
	limited := io.LimitReader(r, int64(cap))
	br := bufio.NewReaderSize(limited, 4096)
	line, err := br.ReadString('\n')
	line = strings.TrimSpace(line)
	if err != nil && err != io.EOF {
		return line, err
	}
	return line, nil
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// classifyQuality labels a streamable URL per spec.md §4.7's pattern list
// as "best"; any other URL is labeled "unknown" and is still returned (the
// downstream player decides).
func classifyQuality(streamURL string) Quality {
	lower := strings.ToLower(streamURL)
	switch {
	case strings.Contains(lower, ".m3u8"),
		strings.Contains(lower, "manifest"),
		strings.Contains(lower, "googlevideo.com/videoplayback"),
		strings.HasSuffix(lower, ".mp4"), strings.HasSuffix(lower, ".m4v"), strings.HasSuffix(lower, ".webm"),
		strings.Contains(lower, "googlevideo.com"):
		return "best"
	default:
		return "unknown"
	}
}
