package auth

import (
	"crypto/subtle"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeySession is the key for storing the session key in gin context
	ContextKeySession = "sessionKey"
	// ContextKeyMemberID is the key for storing the authenticated member ID
	ContextKeyMemberID = "authMemberID"
)

// Middleware extracts and validates a session key from the request
// Sets sessionKey and authMemberID in context if valid
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			raw = c.GetHeader("X-Session-Key")
		}

		if raw != "" {
			key, err := m.ValidateKey(c.Request.Context(), raw)
			if err == nil {
				c.Set(ContextKeySession, key)
				c.Set(ContextKeyMemberID, key.MemberID)
			}
		}

		c.Next()
	}
}

// RequireAuth middleware rejects requests without valid auth
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeySession); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Session key required. Include 'Authorization: Bearer sk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireOwnership middleware requires auth AND that the session belongs to
// the member named by the URL param
func RequireOwnership(m *Manager, paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, exists := c.Get(ContextKeySession)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Session key required.",
			})
			return
		}

		targetID := c.Param(paramName)

		session, ok := key.(*SessionKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Invalid authentication state",
			})
			return
		}
		if session.MemberID != targetID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "This session does not belong to that member.",
			})
			return
		}

		c.Next()
	}
}

// RequireAdmin gates operator endpoints (webhook management, tier changes).
// With ADMIN_SECRET set, the X-Admin-Secret header must match. Without it
// (demo mode), any authenticated session passes.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := os.Getenv("ADMIN_SECRET")

		if secret == "" {
			if !IsAuthenticated(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Authentication required.",
				})
				return
			}
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid admin secret.",
			})
			return
		}

		c.Next()
	}
}

// GetSessionKey returns the session key from context (if authenticated)
func GetSessionKey(c *gin.Context) (*SessionKey, bool) {
	key, exists := c.Get(ContextKeySession)
	if !exists {
		return nil, false
	}
	return key.(*SessionKey), true
}

// GetAuthenticatedMember returns the authenticated member's ID
func GetAuthenticatedMember(c *gin.Context) string {
	id, exists := c.Get(ContextKeyMemberID)
	if !exists {
		return ""
	}
	return id.(string)
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeySession)
	return exists
}
