// Package ratelimit is a naive fixed-window request counter backed by redis.
package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Middleware caps requests per client IP per minute. Counters use INCR with
// an EXPIRE set on the first hit of each window. Redis being down fails open:
// payment gating, not rate limiting, is what protects the paid resource.
func Middleware(rdb *redis.Client, perMinute int, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		key := windowKey(c.ClientIP(), time.Now().UTC())

		n, err := rdb.Incr(ctx, key).Result()
		if err != nil {
			log.Warn("rate limit counter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if n == 1 {
			rdb.Expire(ctx, key, 2*time.Minute) //nolint:errcheck
		}
		if n > int64(perMinute) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func windowKey(clientIP string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s", clientIP, now.Format("200601021504"))
}
