package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/infra/security"
)

const jwksCacheControl = "public, max-age=3600"

// KeySet renders the published verification keys.
type KeySet interface {
	JWKS() ([]byte, error)
}

// JWKSHandler publishes the keys access tokens are signed with, so resource servers can
// verify them without calling this service.
type JWKSHandler struct {
	keys KeySet
}

// NewJWKSHandler constructs a JWKS handler backed by the supplied key set.
func NewJWKSHandler(keys KeySet) *JWKSHandler {
	return &JWKSHandler{keys: keys}
}

// Keys godoc
// @Summary Retrieve JSON Web Key Set
// @Description Exposes the public keys used to verify session access tokens.
// @Tags Public
// @Produce json
// @Success 200 {object} JWKSResponse
// @Success 304 "Not modified"
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /.well-known/jwks.json [get]
func (h *JWKSHandler) Keys(c *gin.Context) {
	if h == nil || h.keys == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "jwks not available"))
		return
	}

	payload, err := h.keys.JWKS()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to render jwks"))
		return
	}

	etag := `"` + security.HashToken(string(payload))[:32] + `"`
	c.Header("Cache-Control", jwksCacheControl)
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}
