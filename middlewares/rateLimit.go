package middlewares

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimiter is a fixed-window counter per client key kept in redis. The key expires
// with its window so counters never accumulate.
type RateLimiter struct {
	client func() *redis.Client
	limit  int64
	window time.Duration
	keyFn  func(c *gin.Context) string
}

func NewRateLimiter(client func() *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
		keyFn:  func(c *gin.Context) string { return c.ClientIP() },
	}
}

// RateLimiterFromEnv returns nil unless RATE_LIMIT_ENABLED=true.
//
// Set via env:
// - RATE_LIMIT_ENABLED=true
// - RATE_LIMIT_WINDOW_SECONDS=60
// - RATE_LIMIT_MAX_REQUESTS=600
func RateLimiterFromEnv() *RateLimiter {
	if !config.BoolFromEnv("RATE_LIMIT_ENABLED", false) {
		return nil
	}
	limit := config.IntFromEnv("RATE_LIMIT_MAX_REQUESTS", 600)
	if limit < 1 {
		limit = 600
	}
	windowSec := config.IntFromEnv("RATE_LIMIT_WINDOW_SECONDS", 60)
	if windowSec < 1 {
		windowSec = 60
	}
	return NewRateLimiter(config.GetRedisDB, int64(limit), time.Duration(windowSec)*time.Second)
}

func (rl *RateLimiter) windowKey(key string, now time.Time) string {
	bucket := now.Unix() / int64(rl.window.Seconds())
	return fmt.Sprintf("ratelimit:%s:%d", key, bucket)
}

// Middleware lets traffic through when redis is unavailable.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl == nil || rl.client == nil {
			c.Next()
			return
		}
		client := rl.client()
		if client == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := rl.windowKey(rl.keyFn(c), time.Now())
		count, err := client.Incr(ctx, key).Result()
		if err != nil {
			config.GetLogger().WithFields(logrus.Fields{
				"field": "RateLimiter",
			}).Warn("rate limit check failed; allowing request: " + err.Error())
			c.Next()
			return
		}
		if count == 1 {
			client.Expire(ctx, key, rl.window)
		}
		if count > rl.limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
			})
			return
		}
		c.Next()
	}
}
