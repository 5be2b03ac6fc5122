package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, perMinute int) (*Limiter, *time.Time) {
	t.Helper()
	rl := NewLimiter(Config{RequestsPerMinute: perMinute, CleanupInterval: time.Hour})
	t.Cleanup(rl.Stop)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestLimiter_Allow(t *testing.T) {
	rl, now := newTestLimiter(t, 3)

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, retry := rl.Allow("1.2.3.4")
	if ok {
		t.Fatal("fourth request should be limited")
	}
	if retry != time.Minute {
		t.Errorf("retryAfter = %v, want 1m", retry)
	}

	if ok, _ := rl.Allow("5.6.7.8"); !ok {
		t.Error("other clients are independent")
	}

	*now = now.Add(time.Minute)
	if ok, _ := rl.Allow("1.2.3.4"); !ok {
		t.Error("window should reset after a minute")
	}

	if m := rl.GetMetrics(); m.LimitedRequests != 1 || m.ClientCount != 2 {
		t.Errorf("GetMetrics() = %+v", m)
	}
}

func TestLimiter_ContinuousTrafficStillLimited(t *testing.T) {
	rl, now := newTestLimiter(t, 2)
	rl.Allow("a")
	*now = now.Add(20 * time.Second)
	rl.Allow("a")
	*now = now.Add(20 * time.Second)
	if ok, _ := rl.Allow("a"); ok {
		t.Error("requests within one window must count together")
	}
}

func TestLimiter_Cleanup(t *testing.T) {
	rl, now := newTestLimiter(t, 5)
	rl.Allow("a")
	*now = now.Add(30 * time.Second)
	rl.Allow("b")
	*now = now.Add(45 * time.Second)

	if removed := rl.cleanupStaleEntries(); removed != 1 {
		t.Errorf("cleanupStaleEntries() = %d, want 1", removed)
	}
}

func TestLimiter_Middleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 1)
	h := rl.Middleware(func(*http.Request) string { return "ip" }, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
}
