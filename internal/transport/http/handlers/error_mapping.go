package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/transport/http/middleware"
	"github.com/arklim/session-service/internal/usecase"
)

// kindResponse is the HTTP rendering of one session error kind.
type kindResponse struct {
	Status  int
	Message string
}

// kindResponses overrides how an admin endpoint renders particular session error kinds.
type kindResponses map[usecase.SessionErrorKind]kindResponse

// sessionNotFound renders a missing handle as 404 rather than a sign-in prompt.
var sessionNotFound = kindResponses{
	usecase.KindUnauthorised: {Status: http.StatusNotFound, Message: "session not found"},
}

// respondAdminError writes the override for err's kind, or 500 with failure.
// Unmapped errors are recorded on the context for the request logger.
func respondAdminError(c *gin.Context, err error, overrides kindResponses, failure string) {
	if resp, ok := overrides[usecase.KindOf(err)]; ok {
		c.JSON(resp.Status, NewErrorResponse(c, resp.Message))
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, NewErrorResponse(c, failure))
}

// respondSessionError writes the status and body for a session error kind.
func respondSessionError(c *gin.Context, err error, expiredStatus int) {
	middleware.AbortWithSessionError(c, err, expiredStatus)
}
