package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devbridge/marketplace/internal/payments"
	"github.com/devbridge/marketplace/pkg/logger"
)

func TestRateLimiterPerActor(t *testing.T) {
	rl := NewRateLimiter(1, 1, logger.NewNop())
	handler := rl.Handler(okHandler())

	call := func(actor string) int {
		req := httptest.NewRequest("POST", "/leads/1/claim", nil)
		req = req.WithContext(WithActor(req.Context(), actor, RoleCommissioner))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := call("alice"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := call("alice"); code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", code)
	}
	if code := call("bob"); code != http.StatusOK {
		t.Fatalf("other actor must have its own budget: %d", code)
	}

	rl.Cleanup(0)
	rl.mu.Lock()
	remaining := len(rl.limiters)
	rl.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("cleanup left %d limiters", remaining)
	}
}

func TestRequestLoggerSetsID(t *testing.T) {
	var seen string
	handler := NewRequestLogger(logger.NewNop()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rec.Header().Get(RequestIDHeader))
	}

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "abc" {
		t.Fatalf("incoming request id ignored: %q", seen)
	}
}

func TestCallbackSignature(t *testing.T) {
	secret := []byte("whsec")
	var body string
	handler := CallbackSignature(secret, logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(strings.Builder)
		_, _ = io.Copy(buf, r.Body)
		body = buf.String()
	}))

	payload := `{"project_id":"p1","reference":"ref","amount":100}`
	req := httptest.NewRequest("POST", "/payments/callback", strings.NewReader(payload))
	req.Header.Set(payments.SignatureHeader, payments.Sign(secret, []byte(payload)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || body != payload {
		t.Fatalf("signed callback rejected: %d body=%q", rec.Code, body)
	}

	req = httptest.NewRequest("POST", "/payments/callback", strings.NewReader(payload))
	req.Header.Set(payments.SignatureHeader, "deadbeef")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature accepted: %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.example.com"}).Handler(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/leads/1/claim", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("origin not echoed")
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.org")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unknown origin allowed")
	}
}

func TestStartCleanupStopsWithContext(t *testing.T) {
	rl := NewRateLimiter(10, 10, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	rl.StartCleanup(ctx, time.Millisecond)
	cancel()
}
