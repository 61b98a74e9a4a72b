package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/acton-service/acton-service/config"
)

func TestRouteRateLimiter_UsesPerRouteBudget(t *testing.T) {
	cfg := config.RateLimitConfig{
		PerClientRPM: 1000,
		Routes: map[string]config.RouteRateLimitConfig{
			"POST /api/v1/uploads": {RequestsPerMinute: 60, BurstSize: 1},
		},
	}
	rl := NewRouteRateLimiter(cfg, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/v1/uploads", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429 (burst=1), got %d", rec2.Code)
	}
}

func TestRouteRateLimiter_FallsBackToGlobalDefaultWhenNoRouteMatches(t *testing.T) {
	cfg := config.RateLimitConfig{PerClientRPM: 0}
	rl := NewRouteRateLimiter(cfg, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/unmatched", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when rpm<=0 disables limiting, got %d", rec.Code)
	}
}

func TestRouteRateLimiter_FallbackUsesPerUserRPMWhenAuthenticated(t *testing.T) {
	cfg := config.RateLimitConfig{PerClientRPM: 1000, PerUserRPM: 1}
	rl := NewRouteRateLimiter(cfg, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/unmatched", nil)
	req.RemoteAddr = "10.0.0.3:1234"
	ctx := WithUserID(req.Context(), "user-42")
	req = req.WithContext(ctx)

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first authenticated request expected 200, got %d", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second authenticated request expected 429 (per_user_rpm=1), got %d", rec2.Code)
	}
}

func TestRouteRateLimiter_FallbackUsesPerClientRPMWhenUnauthenticated(t *testing.T) {
	cfg := config.RateLimitConfig{PerClientRPM: 1000, PerUserRPM: 1}
	rl := NewRouteRateLimiter(cfg, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/unmatched", nil)
	req.RemoteAddr = "10.0.0.4:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("unauthenticated requests should use the 1000rpm per-client budget, not per_user_rpm=1; got %d", rec2.Code)
	}
}

func TestRouteRateLimiter_IsolatesLimitersByIdentity(t *testing.T) {
	cfg := config.RateLimitConfig{
		Routes: map[string]config.RouteRateLimitConfig{
			"/api/v1/*": {RequestsPerMinute: 60, BurstSize: 1},
		},
	}
	rl := NewRouteRateLimiter(cfg, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest("GET", "/api/v1/users", nil)
	req1.RemoteAddr = "10.0.0.1:1"
	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("client 1 expected 200, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest("GET", "/api/v1/users", nil)
	req2.RemoteAddr = "10.0.0.2:1"
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("client 2 (distinct identity) expected 200, got %d", rec2.Code)
	}
}
