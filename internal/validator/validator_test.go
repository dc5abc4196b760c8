package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func serverWithStatus(code int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
}

func TestProbeValidStatuses(t *testing.T) {
	for _, code := range []int{200, 206, 403, 429, 500, 503} {
		srv := serverWithStatus(code)
		v := New()
		got := v.Probe(context.Background(), srv.URL)
		srv.Close()
		if got != Valid {
			t.Fatalf("status %d: expected Valid, got %v", code, got)
		}
	}
}

func TestProbeInvalidStatuses(t *testing.T) {
	for _, code := range []int{404, 410} {
		srv := serverWithStatus(code)
		v := New()
		got := v.Probe(context.Background(), srv.URL)
		srv.Close()
		if got != Invalid {
			t.Fatalf("status %d: expected Invalid, got %v", code, got)
		}
	}
}

func TestProbeNetworkErrorIsValid(t *testing.T) {
	v := New()
	got := v.Probe(context.Background(), "http://127.0.0.1:1") // nothing listening
	if got != Valid {
		t.Fatalf("expected network error treated as Valid, got %v", got)
	}
}
