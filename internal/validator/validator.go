// Package validator implements the URL Validator (C9): a ranged-HEAD probe
// that treats 200/206 as valid, 404/410 as invalid, and everything else
// (403, 429, 5xx, timeouts, network errors) as still valid — per spec.md
// §4.9, CDN-signed URLs routinely 403 unknown clients while remaining
// valid for the end user.
package validator

import (
	"context"
	"net/http"
	"time"
)

// Validator probes candidate URLs. The zero value is usable.
type Validator struct {
	Client  *http.Client
	Timeout time.Duration
}

// New builds a Validator with a sane default timeout.
func New() *Validator {
	return &Validator{
		Client:  &http.Client{},
		Timeout: 5 * time.Second,
	}
}

// Status is the validator's verdict for a candidate URL.
type Status int

const (
	// Valid: HTTP 200/206, or any other outcome treated as non-aggressive
	// (403/429/5xx/timeout/network error).
	Valid Status = iota
	// Invalid: HTTP 404/410 — the resource is gone.
	Invalid
)

// Probe performs a ranged HEAD request and classifies the response.
func (v *Validator) Probe(ctx context.Context, url string) Status {
	timeout := v.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return Valid
	}
	req.Header.Set("Range", "bytes=0-1")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		// timeout / network error: non-aggressive
		return Valid
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return Invalid
	default:
		return Valid
	}
}
