package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/transport/http/cookie"
	"github.com/arklim/session-service/internal/usecase"
)

// Error bodies written for session failures.
const (
	MessageUnauthorised    = "unauthorised"
	MessageTryRefreshToken = "try refresh token"
	MessageTokenTheft      = "token theft detected"
	MessageGeneralError    = "internal server error"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireSession verifies the access token cookie and stores the session facade in the gin
// context. Unsafe methods must also carry a matching anti-csrf header.
func RequireSession(flow *usecase.SessionFlow, expiredStatus int) gin.HandlerFunc {
	return func(c *gin.Context) {
		doAntiCsrfCheck := !isSafeMethod(c.Request.Method)

		session, err := flow.GetSession(c.Request.Context(), cookie.NewRequest(c), cookie.NewResponse(c), doAntiCsrfCheck)
		if err != nil {
			AbortWithSessionError(c, err, expiredStatus)
			return
		}

		c.Set(SessionKey, session)
		reqCtx := GetRequestContext(c)
		reqCtx.SessionHandle = session.Handle()
		reqCtx.UserID = session.UserID()

		c.Next()
	}
}

// GetSession returns the facade stored by RequireSession.
func GetSession(c *gin.Context) (*usecase.Session, bool) {
	value, exists := c.Get(SessionKey)
	if !exists {
		return nil, false
	}
	session, ok := value.(*usecase.Session)
	return session, ok && session != nil
}

// SessionErrorStatus maps a session error to its HTTP status and body message.
// expiredStatus applies to TRY_REFRESH_TOKEN; zero means 401.
func SessionErrorStatus(err error, expiredStatus int) (int, string) {
	if expiredStatus == 0 {
		expiredStatus = http.StatusUnauthorized
	}
	switch usecase.KindOf(err) {
	case usecase.KindUnauthorised:
		return http.StatusUnauthorized, MessageUnauthorised
	case usecase.KindTryRefreshToken:
		return expiredStatus, MessageTryRefreshToken
	case usecase.KindTokenTheftDetected:
		return http.StatusUnauthorized, MessageTokenTheft
	default:
		return http.StatusInternalServerError, MessageGeneralError
	}
}

// AbortWithSessionError writes the mapped error response and stops the handler chain.
func AbortWithSessionError(c *gin.Context, err error, expiredStatus int) {
	status, message := SessionErrorStatus(err, expiredStatus)
	kind := usecase.KindOf(err)
	c.Set(sessionRejectionKey, string(kind))
	if kind == usecase.KindGeneral {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, newErrorResponse(c, message))
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
