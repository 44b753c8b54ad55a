package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimiterConfig tunes the sliding window.
type RateLimiterConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

// DefaultRateLimiterConfig matches the teacher's 100-requests-a-minute default.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerWindow: 100,
		Window:            time.Minute,
	}
}

// RateLimiter is a Redis-backed sliding-window limiter, generalizing the
// teacher's in-process token bucket so every contractsd replica enforces
// the same per-agent budget instead of one bucket per process.
type RateLimiter struct {
	client *redis.Client
	config RateLimiterConfig
}

// NewRateLimiter builds a RateLimiter against a shared Redis client.
func NewRateLimiter(client *redis.Client, config RateLimiterConfig) *RateLimiter {
	return &RateLimiter{client: client, config: config}
}

// Allow records one request from clientID and reports whether it fits
// within the sliding window, implemented as a sorted set of request
// timestamps trimmed to the window on every call.
func (rl *RateLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	key := rateLimitKeyPrefix + clientID
	now := time.Now()
	windowStart := now.Add(-rl.config.Window)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	pipe.Expire(ctx, key, rl.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}

	return card.Val() < int64(rl.config.RequestsPerWindow), nil
}

// Middleware returns a gin handler enforcing the sliding window per agent
// API key (falling back to client IP for unauthenticated callers such as
// health checks).
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetHeader(APIKeyHeaderKey)
		if clientID == "" {
			clientID = c.ClientIP()
		}

		allowed, err := rl.Allow(c.Request.Context(), clientID)
		if err != nil {
			// Fail open: a Redis hiccup must not take the API down.
			c.Next()
			return
		}

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": rl.config.Window.String(),
			})
			return
		}

		c.Next()
	}
}
