package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-service/internal/core/domain"
	"github.com/arklim/session-service/internal/infra/security"
	"github.com/arklim/session-service/internal/repository/memory"
	"github.com/arklim/session-service/internal/transport/http/cookie"
	"github.com/arklim/session-service/internal/usecase"
)

var (
	signingKeyOnce sync.Once
	signingKey     *rsa.PrivateKey
)

func newTestFlow(t *testing.T) *usecase.SessionFlow {
	t.Helper()
	signingKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		signingKey = key
	})

	provider, err := security.NewStaticKeyProvider("test", signingKey)
	if err != nil {
		t.Fatalf("NewStaticKeyProvider returned error: %v", err)
	}
	codec, err := security.NewJWTCodec(provider, "session-service")
	if err != nil {
		t.Fatalf("NewJWTCodec returned error: %v", err)
	}

	logger := zaptest.NewLogger(t)
	handshake := usecase.NewHandshakeCache(usecase.NewStaticHandshakeSource(domain.HandshakeInfo{
		AccessTokenPath:      "/",
		RefreshTokenPath:     "/refresh",
		AntiCsrfEnabled:      true,
		AccessTokenValidity:  time.Hour,
		RefreshTokenValidity: 24 * time.Hour,
	}), logger)
	service := usecase.NewSessionService(memory.NewSessionStore(), codec, handshake, nil, logger)
	return usecase.NewSessionFlow(service, logger)
}

type issuedTokens struct {
	access   string
	antiCsrf string
}

func issueSession(t *testing.T, flow *usecase.SessionFlow) issuedTokens {
	t.Helper()
	bundle, err := flow.Service().CreateNewSession(context.Background(), "user-1", json.RawMessage(`{"plan":"pro"}`), nil)
	if err != nil {
		t.Fatalf("CreateNewSession returned error: %v", err)
	}
	return issuedTokens{access: bundle.AccessToken.Token, antiCsrf: bundle.AntiCsrfToken}
}

func newSessionRouter(flow *usecase.SessionFlow, metrics *HTTPMetrics) *gin.Engine {
	router := gin.New()
	router.Use(EnrichContext(), metrics.Handler())
	protected := RequireSession(flow, 440)
	handler := func(c *gin.Context) {
		session, ok := GetSession(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": session.UserID()})
	}
	router.GET("/me", protected, handler)
	router.POST("/me", protected, handler)
	return router
}

func TestRequireSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	flow := newTestFlow(t)
	tokens := issueSession(t, flow)
	router := newSessionRouter(flow, nil)

	cases := []struct {
		name       string
		method     string
		access     string
		antiCsrf   string
		wantStatus int
		wantError  string
	}{
		{name: "valid get", method: http.MethodGet, access: tokens.access, wantStatus: http.StatusOK},
		{name: "post with anti-csrf", method: http.MethodPost, access: tokens.access, antiCsrf: tokens.antiCsrf, wantStatus: http.StatusOK},
		{name: "post without anti-csrf", method: http.MethodPost, access: tokens.access, wantStatus: http.StatusUnauthorized, wantError: MessageUnauthorised},
		{name: "missing cookie", method: http.MethodGet, wantStatus: 440, wantError: MessageTryRefreshToken},
		{name: "garbage cookie", method: http.MethodGet, access: "garbage", wantStatus: http.StatusUnauthorized, wantError: MessageUnauthorised},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/me", nil)
			if tc.access != "" {
				req.AddCookie(&http.Cookie{Name: cookie.AccessTokenCookie, Value: tc.access})
			}
			if tc.antiCsrf != "" {
				req.Header.Set(cookie.AntiCsrfHeader, tc.antiCsrf)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rr.Code, rr.Body.String())
			}
			if tc.wantError == "" {
				return
			}
			var body ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Error != tc.wantError || body.TraceID == "" {
				t.Fatalf("unexpected error body %+v", body)
			}
		})
	}
}

func TestRequireSessionClearsCookiesWhenUnauthorised(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newSessionRouter(newTestFlow(t), nil)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: cookie.AccessTokenCookie, Value: "garbage"})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Header().Get(cookie.IDRefreshTokenHeader); got != "remove" {
		t.Fatalf("expected id-refresh-token removal header, got %q", got)
	}
}

func TestRequireSessionRecordsRejections(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics, err := NewHTTPMetrics(HTTPMetricsOptions{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("NewHTTPMetrics returned error: %v", err)
	}
	router := newSessionRouter(newTestFlow(t), metrics)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))

	if got := testutil.ToFloat64(metrics.Rejections.WithLabelValues("/me", string(usecase.KindTryRefreshToken))); got != 1 {
		t.Fatalf("expected one try-refresh rejection, got %f", got)
	}
}

func TestSessionErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{err: usecase.ErrUnauthorised, status: http.StatusUnauthorized},
		{err: usecase.ErrTryRefreshToken, status: http.StatusUnauthorized},
		{err: usecase.ErrTokenTheftDetected, status: http.StatusUnauthorized},
		{err: usecase.ErrGeneral, status: http.StatusInternalServerError},
		{err: context.Canceled, status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if status, _ := SessionErrorStatus(tc.err, 0); status != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, status)
		}
	}
}
