package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"latchkey/internal/config"
)

// RateLimiter keeps one token bucket per client IP in an expiring LRU so
// idle clients age out instead of growing the map forever.
type RateLimiter struct {
	ips *expirable.LRU[string, *rate.Limiter]
	r   rate.Limit
	b   int
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	size := cfg.CacheSize
	if size <= 0 {
		size = 5000
	}

	return &RateLimiter{
		ips: expirable.NewLRU[string, *rate.Limiter](size, nil, cfg.CacheTTL),
		r:   rate.Limit(cfg.RequestsPerSecond),
		b:   cfg.Burst,
	}
}

func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	if limiter, ok := rl.ips.Get(ip); ok {
		return limiter
	}

	limiter := rate.NewLimiter(rl.r, rl.b)
	rl.ips.Add(ip, limiter)
	return limiter
}

func RateLimitMiddleware(cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	rl := NewRateLimiter(cfg)

	return func(c *gin.Context) {
		if !rl.GetLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
