package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"judgecore/internal/common/cache"
	commonmw "judgecore/internal/common/http/middleware"
	pkgerrors "judgecore/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T) (*commonmw.RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("init cache failed: %v", err)
	}
	return commonmw.NewRateLimiter(rc, "test:rate", time.Minute, time.Second), mr
}

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()
	limiter, mr := newLimiter(t)
	ctx := context.Background()
	key := "test:rate:route:evaluate"

	for i := 0; i < 2; i++ {
		if err := limiter.Allow(ctx, key, 2, time.Minute); err != nil {
			t.Fatalf("unexpected error on attempt %d: %v", i+1, err)
		}
	}
	err := limiter.Allow(ctx, key, 2, time.Minute)
	if err == nil || pkgerrors.GetCode(err) != pkgerrors.TooManyRequests {
		t.Fatalf("expected rate limit error, got %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if err := limiter.Allow(ctx, key, 2, time.Minute); err != nil {
		t.Fatalf("expected window to reset, got %v", err)
	}
}

func TestRateLimiterZeroMaxDisables(t *testing.T) {
	t.Parallel()
	limiter, mr := newLimiter(t)
	if err := limiter.Allow(context.Background(), "k", 0, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mr.Exists("k") {
		t.Fatalf("expected no counter to be written")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	limiter, _ := newLimiter(t)
	router := gin.New()
	router.POST("/evaluate", commonmw.RateLimitMiddleware(limiter, "evaluate", commonmw.RateLimitPolicy{IPMax: 1}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	send := func() int {
		req := httptest.NewRequest(http.MethodPost, "/evaluate", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := send(); code != http.StatusOK {
		t.Fatalf("expected %d, got %d", http.StatusOK, code)
	}
	if code := send(); code != http.StatusTooManyRequests {
		t.Fatalf("expected %d, got %d", http.StatusTooManyRequests, code)
	}
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)
	limiter, mr := newLimiter(t)
	mr.Close()
	router := gin.New()
	router.GET("/stats", commonmw.RateLimitMiddleware(limiter, "stats", commonmw.RateLimitPolicy{RouteMax: 1}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected %d, got %d", http.StatusOK, rec.Code)
		}
	}
}
