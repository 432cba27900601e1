package middleware

import (
	"context"
	"fmt"
	"time"

	"judgecore/internal/common/cache"
	pkgerrors "judgecore/pkg/errors"
	"judgecore/pkg/utils/logger"
	"judgecore/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultRateWindow  = time.Minute
	defaultRateTimeout = 200 * time.Millisecond
)

// RateLimitPolicy bounds requests per client IP and per route within one window.
// A zero max disables that dimension.
type RateLimitPolicy struct {
	Window   time.Duration `yaml:"window"`
	IPMax    int           `yaml:"ipMax"`
	RouteMax int           `yaml:"routeMax"`
}

// RateLimiter enforces fixed-window limits using Redis counters.
type RateLimiter struct {
	cache        cache.BasicOps
	prefix       string
	window       time.Duration
	redisTimeout time.Duration
}

func NewRateLimiter(cacheClient cache.BasicOps, prefix string, window, redisTimeout time.Duration) *RateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	if redisTimeout <= 0 {
		redisTimeout = defaultRateTimeout
	}
	if prefix == "" {
		prefix = "judge:rate"
	}
	return &RateLimiter{cache: cacheClient, prefix: prefix, window: window, redisTimeout: redisTimeout}
}

// Allow counts one hit against key and fails with TooManyRequests once max is exceeded.
func (l *RateLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if l.cache == nil {
		return pkgerrors.New(pkgerrors.ServiceUnavailable).WithMessage("rate limit cache is unavailable")
	}
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = l.window
	}

	ctxCache, cancel := context.WithTimeout(ctx, l.redisTimeout)
	defer cancel()

	acquired, err := l.cache.SetNX(ctxCache, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	var count int64
	if acquired {
		count = 1
	} else {
		count, err = l.cache.Incr(ctxCache, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		// A key that lost its TTL would otherwise block forever.
		ttl, ttlErr := l.cache.TTL(ctxCache, key)
		if ttlErr == nil && ttl < 0 {
			_ = l.cache.Expire(ctxCache, key, window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithMessage(fmt.Sprintf("rate limit exceeded for %s", key))
	}
	return nil
}

// RateLimitMiddleware enforces policy on the routes it is attached to.
// Cache failures let the request through; only exceeded limits are rejected.
func RateLimitMiddleware(limiter *RateLimiter, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if policy.IPMax > 0 {
			key := fmt.Sprintf("%s:ip:%s:%s", limiter.prefix, c.ClientIP(), routeKey)
			if rejectRate(c, limiter.Allow(c.Request.Context(), key, policy.IPMax, policy.Window)) {
				return
			}
		}
		if policy.RouteMax > 0 {
			key := fmt.Sprintf("%s:route:%s", limiter.prefix, routeKey)
			if rejectRate(c, limiter.Allow(c.Request.Context(), key, policy.RouteMax, policy.Window)) {
				return
			}
		}
		c.Next()
	}
}

func rejectRate(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	if pkgerrors.GetCode(err) != pkgerrors.TooManyRequests {
		logger.Warn(c.Request.Context(), "rate limit check skipped", zap.Error(err))
		return false
	}
	response.AbortWithError(c, err)
	return true
}
