package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/titleforge/server/internal/utils/metrics"
)

// Rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// KeyFunc extracts the caller identity from the request.
type KeyFunc func(*gin.Context) string

// Middleware returns a gin middleware enforcing the given operation's
// rate limit. keyFn falls back to the client IP when it returns "".
func Middleware(limiter *Limiter, op Operation, keyFn KeyFunc, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := ""
		if keyFn != nil {
			caller = keyFn(c)
		}
		if caller == "" {
			caller = "ip:" + c.ClientIP()
		}

		res := limiter.Check(c.Request.Context(), caller, op)

		if res.Limit > 0 {
			c.Header(HeaderLimit, strconv.Itoa(res.Limit))
			c.Header(HeaderRemaining, strconv.Itoa(res.Remaining))
			c.Header(HeaderReset, strconv.FormatInt(res.Reset, 10))
		}

		if !res.Allowed {
			if m != nil {
				m.RateLimitRejections.WithLabelValues(string(op)).Inc()
			}
			retryAfter := int(res.RetryAfter.Seconds())
			c.Header(HeaderRetryAfter, strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "Rate limit exceeded",
				},
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}
