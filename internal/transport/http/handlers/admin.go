package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/usecase"
)

// AdminHandler exposes session administration for trusted backends.
type AdminHandler struct {
	sessions  *usecase.SessionService
	handshake *usecase.HandshakeCache
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(sessions *usecase.SessionService, handshake *usecase.HandshakeCache) *AdminHandler {
	return &AdminHandler{sessions: sessions, handshake: handshake}
}

// RegisterRoutes binds the admin routes to the provided group.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/users/:user_id/sessions", h.ListUserSessions)
	r.DELETE("/users/:user_id/sessions", h.RevokeUserSessions)
	r.DELETE("/sessions/:handle", h.RevokeSession)
	r.GET("/sessions/:handle/data", h.GetSessionData)
	r.PUT("/sessions/:handle/data", h.UpdateSessionData)
	r.GET("/handshake", h.GetHandshake)
	r.POST("/handshake/invalidate", h.InvalidateHandshake)
}

// ListUserSessions godoc
// @Summary List session handles of a user
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Param user_id path string true "User identifier"
// @Success 200 {object} SessionHandlesResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/users/{user_id}/sessions [get]
func (h *AdminHandler) ListUserSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user_id is required"))
		return
	}

	handles, err := h.sessions.GetAllSessionHandlesForUser(c.Request.Context(), userID)
	if err != nil {
		respondAdminError(c, err, nil, "failed to list sessions")
		return
	}

	c.JSON(http.StatusOK, SessionHandlesResponse{UserID: userID, Handles: handles, Total: len(handles)})
}

// RevokeUserSessions godoc
// @Summary Revoke every session of a user
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Param user_id path string true "User identifier"
// @Success 200 {object} RevokeUserSessionsResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/users/{user_id}/sessions [delete]
func (h *AdminHandler) RevokeUserSessions(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "user_id is required"))
		return
	}

	count, err := h.sessions.RevokeAllSessionsForUser(c.Request.Context(), userID)
	if err != nil {
		respondAdminError(c, err, nil, "failed to revoke sessions")
		return
	}

	c.JSON(http.StatusOK, RevokeUserSessionsResponse{Revoked: count})
}

// RevokeSession godoc
// @Summary Revoke a session by handle
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Param handle path string true "Session handle"
// @Success 200 {object} RevokeSessionResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/{handle} [delete]
func (h *AdminHandler) RevokeSession(c *gin.Context) {
	revoked, err := h.sessions.RevokeSessionUsingSessionHandle(c.Request.Context(), c.Param("handle"))
	if err != nil {
		respondAdminError(c, err, nil, "failed to revoke session")
		return
	}

	c.JSON(http.StatusOK, RevokeSessionResponse{Revoked: revoked})
}

// GetSessionData godoc
// @Summary Read the data of a session by handle
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Param handle path string true "Session handle"
// @Success 200 {object} SessionDataResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/{handle}/data [get]
func (h *AdminHandler) GetSessionData(c *gin.Context) {
	handle := c.Param("handle")
	data, err := h.sessions.GetSessionData(c.Request.Context(), handle)
	if err != nil {
		respondAdminError(c, err, sessionNotFound, "failed to read session data")
		return
	}

	c.JSON(http.StatusOK, SessionDataResponse{Handle: handle, Data: data})
}

// UpdateSessionData godoc
// @Summary Replace the data of a session by handle
// @Tags Admin
// @Security AdminKey
// @Accept json
// @Produce json
// @Param handle path string true "Session handle"
// @Param request body SessionDataRequest true "New session data"
// @Success 200 {object} SessionDataResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions/{handle}/data [put]
func (h *AdminHandler) UpdateSessionData(c *gin.Context) {
	var req SessionDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "data is required"))
		return
	}

	handle := c.Param("handle")
	if err := h.sessions.UpdateSessionData(c.Request.Context(), handle, req.Data); err != nil {
		respondAdminError(c, err, sessionNotFound, "failed to update session data")
		return
	}

	c.JSON(http.StatusOK, SessionDataResponse{Handle: handle, Data: req.Data})
}

// GetHandshake godoc
// @Summary Show the cached handshake
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Success 200 {object} HandshakeResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/handshake [get]
func (h *AdminHandler) GetHandshake(c *gin.Context) {
	info, err := h.handshake.Get(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "handshake unavailable"))
		return
	}
	c.JSON(http.StatusOK, newHandshakeResponse(info))
}

// InvalidateHandshake godoc
// @Summary Reload the handshake
// @Description Drops the cached handshake and fetches it again from its source.
// @Tags Admin
// @Security AdminKey
// @Produce json
// @Success 200 {object} HandshakeResponse
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/handshake/invalidate [post]
func (h *AdminHandler) InvalidateHandshake(c *gin.Context) {
	h.handshake.Invalidate()
	h.GetHandshake(c)
}

func newHandshakeResponse(info domain.HandshakeInfo) HandshakeResponse {
	return HandshakeResponse{
		CookieDomain:         info.CookieDomain,
		CookieSecure:         info.CookieSecure,
		AccessTokenPath:      info.AccessTokenPath,
		RefreshTokenPath:     info.RefreshTokenPath,
		AntiCsrfEnabled:      info.AntiCsrfEnabled,
		AccessTokenValidity:  info.AccessTokenValidity.String(),
		RefreshTokenValidity: info.RefreshTokenValidity.String(),
	}
}
