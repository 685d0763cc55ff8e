package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/transport/http/cookie"
)

const (
	corsAllowMethods = "GET,POST,PUT,DELETE,OPTIONS"
	corsAllowHeaders = "Origin,Content-Type,Accept,Authorization,X-Request-ID,X-Trace-ID"
)

// CORS lets the listed origins call the session API with cookies. "*" echoes any
// origin back, since credentialed responses cannot carry the wildcard.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	allowed := originMatcher(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method != http.MethodOptions {
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Methods", corsAllowMethods)
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Max-Age", "86400")
		cookie.SetRelevantHeadersForOptionsAPI(c)
		c.AbortWithStatus(http.StatusNoContent)
	}
}

func originMatcher(origins []string) func(string) bool {
	set := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			return func(string) bool { return true }
		}
		if origin != "" {
			set[origin] = struct{}{}
		}
	}
	return func(origin string) bool {
		_, ok := set[origin]
		return ok
	}
}
