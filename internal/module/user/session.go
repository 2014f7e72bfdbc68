package user

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// EmailKey is the gin context key for the caller's email.
	EmailKey = "email"
	// NameKey is the gin context key for the caller's display name.
	NameKey = "user_name"
)

// EmailFromContext returns the authenticated caller's email, or "".
func EmailFromContext(c *gin.Context) string {
	return c.GetString(EmailKey)
}

// NameFromContext returns the authenticated caller's display name, or "".
func NameFromContext(c *gin.Context) string {
	return c.GetString(NameKey)
}

// SessionAuth returns a middleware that authenticates requests via the
// session cookie or an Authorization bearer token.
func SessionAuth(jwtManager *JWTManager, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractToken(c, cookieName)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "UNAUTHENTICATED",
					"message": "Please sign in to continue",
				},
			})
			return
		}

		claims, err := jwtManager.ValidateSessionToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"code":    "INVALID_SESSION",
					"message": "Please sign in to continue",
				},
			})
			return
		}

		c.Set(EmailKey, claims.Email)
		c.Set(NameKey, claims.Name)
		c.Next()
	}
}

func extractToken(c *gin.Context, cookieName string) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := c.Cookie(cookieName); err == nil {
		return cookie
	}
	return ""
}
