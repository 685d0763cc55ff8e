package cookie

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestContext(req *http.Request) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rr := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rr)
	c.Request = req
	return c, rr
}

func findCookie(t *testing.T, rr *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func TestRequestReadsTokens(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: "access"})
	req.AddCookie(&http.Cookie{Name: RefreshTokenCookie, Value: "refresh"})
	req.Header.Set(AntiCsrfHeader, " csrf ")
	c, _ := newTestContext(req)

	carrier := NewRequest(c)
	if token, ok := carrier.AccessToken(); !ok || token != "access" {
		t.Fatalf("unexpected access token %q %v", token, ok)
	}
	if token, ok := carrier.RefreshToken(); !ok || token != "refresh" {
		t.Fatalf("unexpected refresh token %q %v", token, ok)
	}
	if token, ok := carrier.AntiCsrfToken(); !ok || token != "csrf" {
		t.Fatalf("unexpected anti-csrf token %q %v", token, ok)
	}
}

func TestRequestMissingTokens(t *testing.T) {
	c, _ := newTestContext(httptest.NewRequest(http.MethodGet, "/", nil))
	carrier := NewRequest(c)

	if _, ok := carrier.AccessToken(); ok {
		t.Fatalf("expected no access token")
	}
	if _, ok := carrier.RefreshToken(); ok {
		t.Fatalf("expected no refresh token")
	}
	if _, ok := carrier.AntiCsrfToken(); ok {
		t.Fatalf("expected no anti-csrf token")
	}
}

func TestResponseAttachesTokens(t *testing.T) {
	c, rr := newTestContext(httptest.NewRequest(http.MethodPost, "/", nil))
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	res := NewResponse(c)
	res.AttachAccessToken("access", expiry, "example.com", "/", true)
	res.AttachRefreshToken("refresh", expiry, "example.com", "/auth/session/refresh", true)
	res.SetIDRefreshToken("id-refresh", expiry)
	res.SetAntiCsrfToken("csrf")

	access := findCookie(t, rr, AccessTokenCookie)
	if access.Value != "access" || !access.HttpOnly || !access.Secure || access.Path != "/" || access.Domain != "example.com" {
		t.Fatalf("unexpected access cookie %+v", access)
	}
	if !access.Expires.Equal(expiry) {
		t.Fatalf("expected expiry %v, got %v", expiry, access.Expires)
	}

	refresh := findCookie(t, rr, RefreshTokenCookie)
	if refresh.Value != "refresh" || refresh.Path != "/auth/session/refresh" {
		t.Fatalf("unexpected refresh cookie %+v", refresh)
	}

	idRefresh := findCookie(t, rr, IDRefreshTokenCookie)
	if idRefresh.Value != "id-refresh" || idRefresh.HttpOnly {
		t.Fatalf("id refresh cookie must be readable by scripts, got %+v", idRefresh)
	}

	if got := rr.Header().Get(IDRefreshTokenHeader); got != "id-refresh" {
		t.Fatalf("unexpected id-refresh header %q", got)
	}
	if got := rr.Header().Get(AntiCsrfHeader); got != "csrf" {
		t.Fatalf("unexpected anti-csrf header %q", got)
	}

	exposed := strings.Join(rr.Header().Values("Access-Control-Expose-Headers"), ",")
	if !strings.Contains(exposed, AntiCsrfHeader) || !strings.Contains(exposed, IDRefreshTokenHeader) {
		t.Fatalf("expected session headers to be exposed, got %q", exposed)
	}
}

func TestResponseClearsTokens(t *testing.T) {
	c, rr := newTestContext(httptest.NewRequest(http.MethodPost, "/", nil))

	NewResponse(c).ClearSessionTokens("example.com", true, "/", "/auth/session/refresh")

	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, IDRefreshTokenCookie} {
		cookie := findCookie(t, rr, name)
		if cookie.Value != "" || cookie.MaxAge >= 0 {
			t.Fatalf("expected %s to be expired, got %+v", name, cookie)
		}
	}
	if got := rr.Header().Get(IDRefreshTokenHeader); got != "remove" {
		t.Fatalf("expected id-refresh header to be removed, got %q", got)
	}
}

func TestSetRelevantHeadersForOptionsAPI(t *testing.T) {
	c, rr := newTestContext(httptest.NewRequest(http.MethodOptions, "/", nil))

	SetRelevantHeadersForOptionsAPI(c)

	allowed := strings.Join(rr.Header().Values("Access-Control-Allow-Headers"), ",")
	if !strings.Contains(allowed, AntiCsrfHeader) || !strings.Contains(allowed, IDRefreshTokenHeader) {
		t.Fatalf("unexpected allowed headers %q", allowed)
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be allowed")
	}
}
