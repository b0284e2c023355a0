package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RateLimit 对认证类接口限流，allow 返回 false 时响应 429。
//
// allow 通常闭包一个 ratelimit.RateLimiter，以客户端 IP 作为桶 key。
func RateLimit(allow func(c *gin.Context) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if allow != nil && !allow(c) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}
		c.Next()
	}
}
