package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appLogger "github.com/arklim/session-service/internal/infra/logger"
)

// Logger emits access logs for every HTTP request. Session handles are masked and token
// cookies or headers are never logged.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		reqCtx := GetRequestContext(c)
		fields := []zap.Field{
			zap.String("trace_id", reqCtx.TraceID),
			zap.String("request_id", reqCtx.RequestID),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
		}

		if reqCtx.SessionHandle != "" {
			fields = append(fields,
				zap.String("session_handle", appLogger.MaskString(reqCtx.SessionHandle)),
				zap.String("user_id", reqCtx.UserID),
			)
		}

		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}

		switch {
		case len(c.Errors) > 0:
			log.Error("request failed", append(fields, zap.String("errors", c.Errors.String()))...)
		case status >= http.StatusInternalServerError:
			log.Error("request failed", fields...)
		case status == http.StatusUnauthorized:
			log.Info("request rejected", fields...)
		default:
			log.Info("request completed", fields...)
		}
	}
}
