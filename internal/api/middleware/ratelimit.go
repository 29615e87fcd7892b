package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rl-arena/code-arena-backend/pkg/ratelimit"
)

// RateLimitConfig holds rate limit configuration
type RateLimitConfig struct {
	PerMinute int                       // Requests allowed per key per minute
	KeyFunc   func(*gin.Context) string // Function to extract rate limit key
}

// DefaultKeyFunc uses user ID if authenticated, otherwise IP address
func DefaultKeyFunc(c *gin.Context) string {
	// Try to get user ID from context (set by auth middleware)
	if userID := UserID(c); userID != "" {
		return fmt.Sprintf("user:%s", userID)
	}

	// Fall back to IP address
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// IPKeyFunc uses only IP address (for public endpoints)
func IPKeyFunc(c *gin.Context) string {
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// UserKeyFunc uses only user ID (requires authentication)
func UserKeyFunc(c *gin.Context) string {
	if userID := UserID(c); userID != "" {
		return fmt.Sprintf("user:%s", userID)
	}
	return ""
}

// RateLimitMiddleware creates a rate limiting middleware.
// The returned stop function ends the limiter's cleanup goroutine.
func RateLimitMiddleware(config RateLimitConfig) (gin.HandlerFunc, func()) {
	limiter := ratelimit.PerMinute(config.PerMinute)
	limit := strconv.Itoa(config.PerMinute)

	if config.KeyFunc == nil {
		config.KeyFunc = DefaultKeyFunc
	}

	handler := func(c *gin.Context) {
		key := config.KeyFunc(c)

		if key == "" {
			// No key available (e.g., user not authenticated for UserKeyFunc)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Authentication required for rate limiting",
			})
			return
		}

		c.Header("X-RateLimit-Limit", limit)

		if !limiter.Allow(key) {
			retryAfter := int(time.Minute.Seconds()) / max(config.PerMinute, 1)
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", strconv.Itoa(retryAfter))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": fmt.Sprintf("Too many requests. Limit: %d requests per minute", config.PerMinute),
			})
			return
		}

		c.Next()
	}
	return handler, limiter.Stop
}
