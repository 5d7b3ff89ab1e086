package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"thesis-backend/internal/shared/telemetry"
)

func newLimitedRouter(limiter *RateLimiter, rules map[string]RateLimitRule) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(reviewerIDKey, "dev:reviewer")
		c.Next()
	})
	r.Use(RateLimit(RateLimitConfig{
		DefaultGroup: "DEFAULT",
		GroupFor: func(c *gin.Context) string {
			if c.Request.Method == http.MethodPost && c.FullPath() == "/api/v1/runs/:id/review" {
				return "REVIEW"
			}
			return "DEFAULT"
		},
		Limiter: limiter,
		Rules:   rules,
	}))
	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/api/v1/runs/:id", ok)
	r.POST("/api/v1/runs/:id/review", ok)
	return r
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestRateLimitReviewGroupIsStricter(t *testing.T) {
	prev := telemetry.SetOutput(io.Discard)
	defer telemetry.SetOutput(prev)

	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := newLimitedRouter(NewRateLimiter(func() time.Time { return now }), map[string]RateLimitRule{
		"DEFAULT": {Rate: 5, Burst: 10},
		"REVIEW":  {Rate: 1, Burst: 2},
	})

	for i := 0; i < 5; i++ {
		if resp := serve(r, http.MethodGet, "/api/v1/runs/run-1"); resp.Code != http.StatusOK {
			t.Fatalf("view request %d expected 200, got %d", i+1, resp.Code)
		}
	}
	for i := 0; i < 2; i++ {
		if resp := serve(r, http.MethodPost, "/api/v1/runs/run-1/review"); resp.Code != http.StatusOK {
			t.Fatalf("review request %d expected 200, got %d", i+1, resp.Code)
		}
	}
	if resp := serve(r, http.MethodPost, "/api/v1/runs/run-1/review"); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("review request 3 expected 429, got %d", resp.Code)
	}
	if resp := serve(r, http.MethodPost, "/api/v1/runs/run-2/review"); resp.Code != http.StatusOK {
		t.Fatalf("another run should have its own bucket, got %d", resp.Code)
	}
}

func TestRateLimit429IncludesRetryAfter(t *testing.T) {
	prev := telemetry.SetOutput(io.Discard)
	defer telemetry.SetOutput(prev)

	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	r := newLimitedRouter(NewRateLimiter(func() time.Time { return now }), map[string]RateLimitRule{
		"DEFAULT": {Rate: 1, Burst: 1},
	})

	if resp := serve(r, http.MethodGet, "/api/v1/runs/run-1"); resp.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", resp.Code)
	}
	resp := serve(r, http.MethodGet, "/api/v1/runs/run-1")
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
	if resp.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After=1, got %q", resp.Header().Get("Retry-After"))
	}

	var payload struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" {
		t.Fatalf("expected code rate_limited, got %q", payload.Error.Code)
	}
	if _, ok := payload.Error.Details["retryAfterMs"]; !ok {
		t.Fatalf("expected retryAfterMs in details")
	}
}

func TestRateLimiterRefills(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(func() time.Time { return now })
	rule := RateLimitRule{Rate: 2, Burst: 1}

	if ok, _ := l.Allow("k", rule); !ok {
		t.Fatalf("first take should pass")
	}
	ok, wait := l.Allow("k", rule)
	if ok || wait != 500*time.Millisecond {
		t.Fatalf("expected 500ms wait, got ok=%v wait=%s", ok, wait)
	}
	now = now.Add(500 * time.Millisecond)
	if ok, _ := l.Allow("k", rule); !ok {
		t.Fatalf("bucket should refill")
	}
	if ok, _ := l.Allow("other", RateLimitRule{}); !ok {
		t.Fatalf("zero rule is unlimited")
	}
}
