package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const limiterSweepInterval = time.Minute

// RateLimiter keeps one token bucket per caller key. Buckets that have refilled are
// forgotten on the next sweep.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	limit     rate.Limit
	burst     int
	logger    *zap.Logger
	now       func() time.Time
	lastSweep time.Time
}

// NewRateLimiter allows requestsPerSecond per key with the given burst.
func NewRateLimiter(requestsPerSecond float64, burst int, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters:  make(map[string]*rate.Limiter),
		limit:     rate.Limit(requestsPerSecond),
		burst:     burst,
		logger:    logger,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

// Allow consumes one token for key.
func (limiter *RateLimiter) Allow(key string) bool {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	now := limiter.now()
	if now.Sub(limiter.lastSweep) >= limiterSweepInterval {
		limiter.evictRefilled(now)
		limiter.lastSweep = now
	}
	bucket, ok := limiter.limiters[key]
	if !ok {
		bucket = rate.NewLimiter(limiter.limit, limiter.burst)
		limiter.limiters[key] = bucket
	}
	return bucket.AllowN(now, 1)
}

// evictRefilled drops full buckets; a full bucket behaves exactly like a new one.
func (limiter *RateLimiter) evictRefilled(now time.Time) {
	for key, bucket := range limiter.limiters {
		if bucket.TokensAt(now) >= float64(limiter.burst) {
			delete(limiter.limiters, key)
		}
	}
}

func (limiter *RateLimiter) tracked() int {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	return len(limiter.limiters)
}

// Middleware keys on the authenticated user, falling back to the client IP.
func (limiter *RateLimiter) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key, _ := caller(ctx)
		if key == "" {
			key = "ip:" + ctx.ClientIP()
		}
		if !limiter.Allow(key) {
			limiter.logger.Warn("rate limit exceeded",
				zap.String("key", key),
				zap.String("method", ctx.Request.Method),
				zap.String("path", ctx.FullPath()),
			)
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse("rate_limited", "too many requests"))
			return
		}
		ctx.Next()
	}
}
