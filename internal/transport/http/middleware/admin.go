package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/infra/security"
)

// RequireAdminKey guards administrative routes with a static bearer key. With an empty
// key every request is refused unless allowOpen is set.
func RequireAdminKey(key string, allowOpen bool) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	return func(c *gin.Context) {
		if key == "" {
			if allowOpen {
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, newErrorResponse(c, "admin api key not configured"))
			return
		}

		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <key>'"))
			return
		}

		presented := strings.TrimSpace(parts[1])
		if !security.TokensEqual(presented, key) {
			c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "invalid admin key"))
			return
		}

		c.Next()
	}
}
