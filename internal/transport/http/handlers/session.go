package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/transport/http/cookie"
	"github.com/arklim/session-service/internal/transport/http/middleware"
	"github.com/arklim/session-service/internal/usecase"
)

// SessionHandler exposes the cookie-based session lifecycle endpoints.
type SessionHandler struct {
	flow          *usecase.SessionFlow
	expiredStatus int
}

// NewSessionHandler constructs a session handler. expiredStatus is the status written when
// the client should refresh its access token.
func NewSessionHandler(flow *usecase.SessionFlow, expiredStatus int) *SessionHandler {
	if expiredStatus == 0 {
		expiredStatus = http.StatusUnauthorized
	}
	return &SessionHandler{flow: flow, expiredStatus: expiredStatus}
}

// CreateSession godoc
// @Summary Create a session
// @Description Starts a session for an authenticated user and sets the session cookies.
// @Tags Sessions
// @Security AdminKey
// @Accept json
// @Produce json
// @Param request body CreateSessionRequest true "Session owner and payloads"
// @Success 201 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/session [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user_id is required"))
		return
	}

	session, err := h.flow.CreateNewSession(c.Request.Context(), cookie.NewResponse(c), req.UserID, req.JWTPayload, req.SessionData)
	if err != nil {
		respondSessionError(c, err, h.expiredStatus)
		return
	}

	c.JSON(http.StatusCreated, newSessionResponse(session))
}

// VerifySession godoc
// @Summary Verify the current session
// @Description Validates the access token cookie and returns the session identity.
// @Tags Sessions
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/session [get]
func (h *SessionHandler) VerifySession(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.MessageUnauthorised))
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(session))
}

// RefreshSession godoc
// @Summary Refresh the session
// @Description Rotates the refresh token cookie and issues a new access token. Replaying a
// @Description rotated refresh token revokes the session.
// @Tags Sessions
// @Produce json
// @Success 200 {object} SessionResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/session/refresh [post]
func (h *SessionHandler) RefreshSession(c *gin.Context) {
	session, err := h.flow.RefreshSession(c.Request.Context(), cookie.NewRequest(c), cookie.NewResponse(c))
	if err != nil {
		respondSessionError(c, err, h.expiredStatus)
		return
	}

	c.JSON(http.StatusOK, newSessionResponse(session))
}

// SignOut godoc
// @Summary Sign out
// @Description Revokes the current session and clears the session cookies.
// @Tags Sessions
// @Produce json
// @Param anti-csrf header string false "Anti-CSRF token"
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/session/signout [post]
func (h *SessionHandler) SignOut(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.MessageUnauthorised))
		return
	}

	if err := session.RevokeSession(c.Request.Context()); err != nil {
		respondSessionError(c, err, h.expiredStatus)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "signed out"})
}

// GetSessionData godoc
// @Summary Read session data
// @Tags Sessions
// @Produce json
// @Success 200 {object} SessionDataResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/session/data [get]
func (h *SessionHandler) GetSessionData(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.MessageUnauthorised))
		return
	}

	data, err := session.GetSessionData(c.Request.Context())
	if err != nil {
		respondSessionError(c, err, h.expiredStatus)
		return
	}

	c.JSON(http.StatusOK, SessionDataResponse{Handle: session.Handle(), Data: data})
}

// UpdateSessionData godoc
// @Summary Replace session data
// @Tags Sessions
// @Accept json
// @Produce json
// @Param anti-csrf header string false "Anti-CSRF token"
// @Param request body SessionDataRequest true "New session data"
// @Success 200 {object} SessionDataResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/session/data [put]
func (h *SessionHandler) UpdateSessionData(c *gin.Context) {
	session, ok := middleware.GetSession(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, middleware.MessageUnauthorised))
		return
	}

	var req SessionDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "data is required"))
		return
	}

	if err := session.UpdateSessionData(c.Request.Context(), req.Data); err != nil {
		respondSessionError(c, err, h.expiredStatus)
		return
	}

	c.JSON(http.StatusOK, SessionDataResponse{Handle: session.Handle(), Data: req.Data})
}
