package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vocalq-backend/internal/database"
	"vocalq-backend/pkg/constants"
	"vocalq-backend/pkg/logger"
	"vocalq-backend/pkg/response"
	"vocalq-backend/pkg/sanitize"
)

// KeyFunc picks the identity a request is counted against. An empty key skips the limit.
type KeyFunc func(c *gin.Context) string

// RateLimitObserver counts blocked requests. *metrics.Metrics implements it.
type RateLimitObserver interface {
	RecordRateLimitBlocked(endpoint string)
}

// RateLimiter is a fixed-window limiter over Redis. While Redis is degraded it
// counts in process memory, so each instance enforces the limit on its own.
type RateLimiter struct {
	redis    *database.RedisClient
	fallback *InMemoryRateLimiter
	requests int
	window   time.Duration
	prefix   string
	observer RateLimitObserver
}

// NewRateLimiter creates a limiter of requests per window. redis and observer may be nil.
func NewRateLimiter(redis *database.RedisClient, name string, requests int, window time.Duration, observer RateLimitObserver) *RateLimiter {
	return &RateLimiter{
		redis:    redis,
		fallback: NewInMemoryRateLimiter(),
		requests: requests,
		window:   window,
		prefix:   constants.RateLimitKeyPrefix + name + ":",
		observer: observer,
	}
}

// Allow counts one request for key and reports whether it is within the limit
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int) {
	var count int64
	var err error
	if rl.redis != nil {
		count, err = rl.redis.SafeIncrWithExpiry(ctx, rl.prefix+key, rl.window)
	} else {
		err = database.ErrDegraded
	}
	if err != nil {
		if !errors.Is(err, database.ErrDegraded) {
			logger.Warn("Rate limit counter failed, counting locally", zap.Error(err))
		}
		count = rl.fallback.Incr(key, rl.window)
	}

	remaining := rl.requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.requests), remaining
}

// Middleware limits requests by key. onLimited writes the rejection; nil answers 429.
func (rl *RateLimiter) Middleware(key KeyFunc, onLimited gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := key(c)
		if id == "" {
			c.Next()
			return
		}

		allowed, remaining := rl.Allow(c.Request.Context(), id)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			if rl.observer != nil {
				rl.observer.RecordRateLimitBlocked(c.FullPath())
			}
			logger.FromContext(c.Request.Context()).Warn("Rate limit exceeded",
				zap.String("key", logger.MaskPhone(id)),
				zap.String("path", c.FullPath()))
			if onLimited != nil {
				onLimited(c)
			} else {
				response.TooManyRequests(c, "Rate limit exceeded")
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

// ClientIPKey counts requests per client address
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// CallerKey counts webhook requests per caller number, so formatting
// variants of one number share a counter
func CallerKey(c *gin.Context) string {
	if number := sanitize.PhoneNumber(c.PostForm("From")); number != "" {
		return "caller:" + number
	}
	return ClientIPKey(c)
}

// InMemoryRateLimiter provides fixed-window counters when Redis is degraded
type InMemoryRateLimiter struct {
	mu     sync.Mutex
	limits map[string]*windowCount
}

type windowCount struct {
	count   int64
	resetAt time.Time
}

// NewInMemoryRateLimiter creates a new in-memory rate limiter
func NewInMemoryRateLimiter() *InMemoryRateLimiter {
	return &InMemoryRateLimiter{
		limits: make(map[string]*windowCount),
	}
}

// Incr counts one request for key in the current window and returns the count
func (im *InMemoryRateLimiter) Incr(key string, window time.Duration) int64 {
	im.mu.Lock()
	defer im.mu.Unlock()

	now := time.Now()
	w, ok := im.limits[key]
	if !ok || now.After(w.resetAt) {
		w = &windowCount{resetAt: now.Add(window)}
		im.limits[key] = w
	}
	w.count++

	if len(im.limits) > 10000 {
		for k, v := range im.limits {
			if now.After(v.resetAt) {
				delete(im.limits, k)
			}
		}
	}
	return w.count
}
