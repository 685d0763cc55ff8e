package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/arklim/session-service/internal/infra/logger"
)

const (
	TraceIDHeader   = "X-Trace-ID"
	RequestIDHeader = "X-Request-ID"

	// SessionKey holds the *usecase.Session set by RequireSession.
	SessionKey = "session"

	requestContextKey = "request_context"
)

// RequestContext is what the access log knows about a request. RequireSession fills
// in the session fields once the access token is verified.
type RequestContext struct {
	TraceID       string
	RequestID     string
	SessionHandle string
	UserID        string
}

// EnrichContext assigns the trace and request identifiers, echoes them in response
// headers and puts them on the request context for logger.FromContext.
func EnrichContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx := &RequestContext{
			TraceID:   traceID(c),
			RequestID: headerOrNew(c, RequestIDHeader),
		}
		c.Header(TraceIDHeader, reqCtx.TraceID)
		c.Header(RequestIDHeader, reqCtx.RequestID)

		ctx := context.WithValue(c.Request.Context(), logger.TraceIDKey{}, reqCtx.TraceID)
		ctx = context.WithValue(ctx, logger.RequestIDKey{}, reqCtx.RequestID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(requestContextKey, reqCtx)

		c.Next()
	}
}

// traceID prefers the caller's header, then an active OpenTelemetry span.
func traceID(c *gin.Context) string {
	if id := c.GetHeader(TraceIDHeader); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return uuid.NewString()
}

func headerOrNew(c *gin.Context, header string) string {
	if v := c.GetHeader(header); v != "" {
		return v
	}
	return uuid.NewString()
}

func GetTraceID(c *gin.Context) string {
	return GetRequestContext(c).TraceID
}

// GetRequestContext never returns nil; outside EnrichContext the result is empty.
func GetRequestContext(c *gin.Context) *RequestContext {
	if v, ok := c.Get(requestContextKey); ok {
		if reqCtx, ok := v.(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{}
}
