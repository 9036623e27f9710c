package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter is a shared, expiring counter keyed by caller identity. The Redis
// implementation keeps limits consistent across instances and restarts.
type Limiter interface {
	// Allow increments the counter for key inside a fixed window and
	// reports whether the request is under the limit, plus how long to wait
	// when it is not.
	Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, time.Duration, error)
}

// RedisLimiter implements fixed-window counting with INCR + EXPIRE.
type RedisLimiter struct {
	client *redis.Client
}

func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, time.Duration, error) {
	redisKey := "ratelimit:" + key

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			return false, 0, err
		}
	}
	if count > int64(limit) {
		ttl, err := l.client.TTL(ctx, redisKey).Result()
		if err != nil || ttl < 0 {
			ttl = window
		}
		return false, ttl, nil
	}
	return true, 0, nil
}

// LocalLimiter is the in-process fallback used when Redis is not configured.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *LocalLimiter) Allow(_ context.Context, key string, window time.Duration, limit int) (bool, time.Duration, error) {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.limiters[key] = lim
	}
	l.mu.Unlock()

	if !lim.Allow() {
		return false, window, nil
	}
	return true, 0, nil
}

// RateLimit enforces a fixed-window limit per (client IP, user id) pair.
// A limiter error fails open; dropping a legitimate payment callback is
// worse than letting a burst through.
func RateLimit(limiter Limiter, name string, window time.Duration, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := c.Get(UserContextKey)
		uid, _ := userID.(string)
		key := fmt.Sprintf("%s:%s:%s", name, c.ClientIP(), uid)

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key, window, limit)
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
