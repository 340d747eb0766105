package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	gocache "github.com/patrickmn/go-cache"
	"github.com/suPer8Hu/nl2sql-platform/internal/apperr"
	"github.com/suPer8Hu/nl2sql-platform/internal/common"
	"github.com/suPer8Hu/nl2sql-platform/internal/store/redisstore"
)

// Limiter counts hits for key in a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type RedisLimiter struct {
	store  *redisstore.Store
	limit  int
	window time.Duration
}

func NewRedisLimiter(store *redisstore.Store, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{store: store, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := l.store.IncrWindow(ctx, "nl2sql:rl:"+key, l.window)
	if err != nil {
		return true, err
	}
	return n <= int64(l.limit), nil
}

type MemoryLimiter struct {
	c     *gocache.Cache
	limit int
	// window is fixed at the first hit; IncrementInt keeps the original expiry
	window time.Duration
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{c: gocache.New(window, 2*window), limit: limit, window: window}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if err := l.c.Add(key, 1, l.window); err == nil {
		return l.limit >= 1, nil
	}
	n, err := l.c.IncrementInt(key, 1)
	if err != nil {
		// expired between Add and Increment
		return true, nil
	}
	return n <= l.limit, nil
}

// RateLimit keys by authenticated user, falling back to client IP.
// Limiter errors fail open.
func RateLimit(l Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if uid, ok := UserID(c); ok {
			key = "u:" + strconv.FormatUint(uid, 10)
		}

		allowed, err := l.Allow(c.Request.Context(), key)
		if err != nil {
			logger.WarnContext(c.Request.Context(), "rate limiter unavailable", slog.Any("err", err))
		}
		if !allowed {
			common.Fail(c, http.StatusTooManyRequests, apperr.RateLimited, "too many requests, slow down")
			c.Abort()
			return
		}
		c.Next()
	}
}
