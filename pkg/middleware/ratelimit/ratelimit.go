// Package ratelimit throttles requests per client key.
package ratelimit

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
	"github.com/noah-isme/lumina-attendance-api/pkg/response"
)

// Limiter decides whether a key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// KeyFunc extracts the throttling key from a request.
type KeyFunc func(c *gin.Context) string

// TokenBucket is an in-memory limiter refilling perMinute tokens per minute
// up to capacity. A bucket idle for a full refill period is back at capacity,
// so it is forgotten.
type TokenBucket struct {
	capacity float64
	rate     float64
	idle     time.Duration
	now      func() time.Time

	mu        sync.Mutex
	state     map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates the limiter. capacity <= 0 defaults to perMinute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if perMinute <= 0 {
		perMinute = 60
	}
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: float64(capacity),
		rate:     float64(perMinute) / float64(time.Minute),
		idle:     time.Minute * time.Duration(capacity) / time.Duration(perMinute),
		now:      time.Now,
		state:    make(map[string]*bucket),
	}
}

// Allow takes a token for key.
func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)
	b, ok := l.state[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.state[key] = b
	}
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+float64(elapsed)*l.rate)
		b.last = now
	}
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

// sweep runs at most once per idle period.
func (l *TokenBucket) sweep(now time.Time) {
	if l.lastSweep.IsZero() {
		l.lastSweep = now
		return
	}
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	for key, b := range l.state {
		if now.Sub(b.last) >= l.idle {
			delete(l.state, key)
		}
	}
	l.lastSweep = now
}

// RedisWindow counts requests per key in fixed one-minute windows so that
// all API replicas share the budget.
type RedisWindow struct {
	client *redis.Client
	limit  int64
	prefix string
	now    func() time.Time
}

// NewRedisWindow returns nil when client is nil.
func NewRedisWindow(client *redis.Client, perMinute int) *RedisWindow {
	if client == nil {
		return nil
	}
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RedisWindow{client: client, limit: int64(perMinute), prefix: "lumina:ratelimit:", now: time.Now}
}

// Allow increments the key's counter for the current window.
func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().Unix() / 60
	redisKey := l.prefix + key + ":" + strconv.FormatInt(window, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.limit, nil
}

// Middleware rejects requests over budget with RATE_LIMITED. Errors from
// primary fall back to the in-memory fallback limiter.
func Middleware(primary Limiter, fallback *TokenBucket, keyFn KeyFunc, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyFn == nil {
		keyFn = ClientIP
	}
	return func(c *gin.Context) {
		key := keyFn(c)
		allowed := true
		var err error
		if primary != nil {
			allowed, err = primary.Allow(c.Request.Context(), key)
			if err != nil {
				logger.Warn("rate limiter unavailable, using local buckets", zap.Error(err))
			}
		}
		if (primary == nil || err != nil) && fallback != nil {
			allowed, _ = fallback.Allow(c.Request.Context(), key)
		}
		if !allowed {
			c.Header("Retry-After", "60")
			response.Error(c, appErrors.ErrRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}

// ClientIP keys requests by remote address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return "ip:" + ip
	}
	return "ip:unknown"
}
