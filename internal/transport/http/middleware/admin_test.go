package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequireAdminKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name      string
		key       string
		allowOpen bool
		header    string
		want      int
	}{
		{name: "no key refuses", key: "", header: "", want: http.StatusServiceUnavailable},
		{name: "no key refuses any bearer", key: "", header: "Bearer anything", want: http.StatusServiceUnavailable},
		{name: "no key explicitly open", key: "", allowOpen: true, header: "", want: http.StatusOK},
		{name: "key ignores open flag", key: "s3cret", allowOpen: true, header: "", want: http.StatusUnauthorized},
		{name: "valid key", key: "s3cret", header: "Bearer s3cret", want: http.StatusOK},
		{name: "case insensitive scheme", key: "s3cret", header: "bearer s3cret", want: http.StatusOK},
		{name: "missing header", key: "s3cret", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", key: "s3cret", header: "Basic s3cret", want: http.StatusUnauthorized},
		{name: "wrong key", key: "s3cret", header: "Bearer nope", want: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/admin", RequireAdminKey(tc.key, tc.allowOpen), func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
		})
	}
}
