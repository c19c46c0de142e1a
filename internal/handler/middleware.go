package handler

import (
	"net/http"

	"coach-backend/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit 进程级令牌桶
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(perSecond, burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "请求过于频繁，请稍后再试。"})
			return
		}
		c.Next()
	}
}
