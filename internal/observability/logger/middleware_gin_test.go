package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestRequestLevel(t *testing.T) {
	cases := []struct {
		name  string
		route string
		code  int
		err   string
		want  zapcore.Level
	}{
		{"probe", "/health", 200, "", zapcore.DebugLevel},
		{"server fault", "/v1/subscriptions", 500, "internal_error", zapcore.ErrorLevel},
		{"missing token", "/v1/plans", 401, "unauthorized", zapcore.WarnLevel},
		{"admin denied", "/admin/plans", 403, "forbidden", zapcore.WarnLevel},
		{"quota", "/v1/usage/ai-calls", 403, "limit_exceeded", zapcore.InfoLevel},
		{"forged webhook", "/webhooks/:provider", 400, "invalid_signature", zapcore.WarnLevel},
		{"conflict", "/v1/subscriptions", 409, "already_subscribed", zapcore.InfoLevel},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, requestLevel(tc.route, tc.code, tc.err))
		})
	}
}

func TestGinMiddlewareRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{}))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(headerRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(headerRequestID); got != "req-1" {
		t.Fatalf("expected propagated request id, got %q", got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("expected generated request id")
	}
}
