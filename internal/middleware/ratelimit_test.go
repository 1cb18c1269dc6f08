package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/MedOrch/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orchestrate", http.NoBody)
	req.RemoteAddr = ip + ":5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(config.Rate{RequestsPerSecond: 10, Burst: 10})
	h := rl.Handler(okHandler())
	for i := range 10 {
		if rec := hit(h, "192.168.1.1"); rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(config.Rate{RequestsPerSecond: 1, Burst: 5})
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }
	h := rl.Handler(okHandler())

	for range 5 {
		hit(h, "192.168.1.1")
	}
	rec := hit(h, "192.168.1.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q, want 1", rec.Header().Get("Retry-After"))
	}

	clock = clock.Add(time.Second)
	if rec := hit(h, "192.168.1.1"); rec.Code != http.StatusOK {
		t.Errorf("after refill: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterSetsHeaders(t *testing.T) {
	rl := NewRateLimiter(config.Rate{RequestsPerSecond: 10, Burst: 10})
	rec := hit(rl.Handler(okHandler()), "192.168.1.1")
	if rec.Header().Get("X-RateLimit-Remaining") != "9" {
		t.Errorf("X-RateLimit-Remaining = %q, want 9", rec.Header().Get("X-RateLimit-Remaining"))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "10" {
		t.Errorf("X-RateLimit-Limit = %q, want 10", rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimiterPerIP(t *testing.T) {
	rl := NewRateLimiter(config.Rate{RequestsPerSecond: 1, Burst: 2})
	rl.now = func() time.Time { return time.Unix(0, 0) }
	h := rl.Handler(okHandler())

	hit(h, "10.0.0.1")
	hit(h, "10.0.0.1")
	if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("10.0.0.1: expected 429, got %d", rec.Code)
	}
	if rec := hit(h, "10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("10.0.0.2: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(config.Rate{})
	h := rl.Handler(okHandler())
	for range 50 {
		if rec := hit(h, "10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("disabled limiter rejected a request: %d", rec.Code)
		}
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(config.Rate{RequestsPerSecond: 1, Burst: 1, MaxIdleTime: time.Minute})
	clock := time.Unix(1000, 0)
	rl.now = func() time.Time { return clock }
	h := rl.Handler(okHandler())

	hit(h, "10.0.0.1")
	clock = clock.Add(30 * time.Second)
	hit(h, "10.0.0.2")
	clock = clock.Add(45 * time.Second)

	rl.cleanup()
	if rl.Len() != 1 {
		t.Errorf("Len = %d after cleanup, want 1", rl.Len())
	}
}

func TestRateLimiterRunStops(t *testing.T) {
	rl := NewRateLimiter(config.Rate{RequestsPerSecond: 1, Burst: 1, MaxIdleTime: time.Minute, CleanupInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
