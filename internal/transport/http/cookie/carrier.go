// Package cookie carries session tokens between gin requests/responses and the session core.
package cookie

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-service/internal/core/port"
)

const (
	AccessTokenCookie    = "sAccessToken"
	RefreshTokenCookie   = "sRefreshToken"
	IDRefreshTokenCookie = "sIdRefreshToken"

	AntiCsrfHeader       = "anti-csrf"
	IDRefreshTokenHeader = "id-refresh-token"

	exposeHeadersHeader = "Access-Control-Expose-Headers"
	removedTokenValue   = "remove"
)

// Request reads session tokens from cookies and headers of a gin request.
type Request struct {
	c *gin.Context
}

// NewRequest wraps c.
func NewRequest(c *gin.Context) Request {
	return Request{c: c}
}

func (r Request) AccessToken() (string, bool) {
	return r.cookie(AccessTokenCookie)
}

func (r Request) RefreshToken() (string, bool) {
	return r.cookie(RefreshTokenCookie)
}

func (r Request) AntiCsrfToken() (string, bool) {
	value := strings.TrimSpace(r.c.GetHeader(AntiCsrfHeader))
	return value, value != ""
}

func (r Request) cookie(name string) (string, bool) {
	value, err := r.c.Cookie(name)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}

// Response writes session tokens as cookies and headers on a gin response.
type Response struct {
	c        *gin.Context
	sameSite http.SameSite
}

// NewResponse wraps c. Cookies are written with SameSite=Lax.
func NewResponse(c *gin.Context) *Response {
	return &Response{c: c, sameSite: http.SameSiteLaxMode}
}

// WithSameSite overrides the SameSite attribute of written cookies.
func (r *Response) WithSameSite(mode http.SameSite) *Response {
	r.sameSite = mode
	return r
}

func (r *Response) AttachAccessToken(token string, expiry time.Time, domain, path string, secure bool) {
	r.setCookie(AccessTokenCookie, token, expiry, domain, path, secure, true)
}

func (r *Response) AttachRefreshToken(token string, expiry time.Time, domain, path string, secure bool) {
	r.setCookie(RefreshTokenCookie, token, expiry, domain, path, secure, true)
}

// SetIDRefreshToken sends the id-refresh token as a header and as a script-readable cookie.
func (r *Response) SetIDRefreshToken(token string, expiry time.Time) {
	r.c.Header(IDRefreshTokenHeader, token)
	r.exposeHeader(IDRefreshTokenHeader)
	r.setCookie(IDRefreshTokenCookie, token, expiry, "", "/", false, false)
}

func (r *Response) SetAntiCsrfToken(token string) {
	r.c.Header(AntiCsrfHeader, token)
	r.exposeHeader(AntiCsrfHeader)
}

// ClearSessionTokens expires every session cookie and tells the client the id-refresh token is gone.
func (r *Response) ClearSessionTokens(domain string, secure bool, accessPath, refreshPath string) {
	epoch := time.Unix(0, 0).UTC()
	r.setCookie(AccessTokenCookie, "", epoch, domain, accessPath, secure, true)
	r.setCookie(RefreshTokenCookie, "", epoch, domain, refreshPath, secure, true)
	r.setCookie(IDRefreshTokenCookie, "", epoch, "", "/", false, false)
	r.c.Header(IDRefreshTokenHeader, removedTokenValue)
	r.exposeHeader(IDRefreshTokenHeader)
}

func (r *Response) setCookie(name, value string, expiry time.Time, domain, path string, secure, httpOnly bool) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   domain,
		Expires:  expiry,
		Secure:   secure,
		HttpOnly: httpOnly,
		SameSite: r.sameSite,
	}
	if value == "" {
		cookie.MaxAge = -1
	}
	http.SetCookie(r.c.Writer, cookie)
}

func (r *Response) exposeHeader(name string) {
	headers := r.c.Writer.Header()
	for _, existing := range headers.Values(exposeHeadersHeader) {
		for _, part := range strings.Split(existing, ",") {
			if strings.EqualFold(strings.TrimSpace(part), name) {
				return
			}
		}
	}
	headers.Add(exposeHeadersHeader, name)
}

// SetRelevantHeadersForOptionsAPI lets cross-origin clients send and read the session headers.
func SetRelevantHeadersForOptionsAPI(c *gin.Context) {
	headers := c.Writer.Header()
	headers.Add("Access-Control-Allow-Headers", AntiCsrfHeader)
	headers.Add("Access-Control-Allow-Headers", IDRefreshTokenHeader)
	headers.Set("Access-Control-Allow-Credentials", "true")
}

var (
	_ port.RequestCarrier  = Request{}
	_ port.ResponseCarrier = (*Response)(nil)
)
