package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	pkgjwt "github.com/dongzzi101/chat-sevice/pkg/jwt"
	"github.com/dongzzi101/chat-sevice/pkg/response"
)

const (
	UserIDKey     = "user_id"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// RequireAuth returns a Gin middleware that validates bearer tokens and
// stores the authenticated user id in the request context.
func RequireAuth(manager *pkgjwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" || !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		claims, err := manager.Verify(strings.TrimPrefix(authHeader, BearerPrefix))
		if err != nil {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		userID, err := claims.UserID()
		if err != nil {
			response.Unauthorized(c, "invalid token subject")
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// CurrentUser reads the authenticated user id set by RequireAuth.
func CurrentUser(c *gin.Context) (int64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
