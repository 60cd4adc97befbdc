package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/finrag/pkg/utils/errors"
	"github.com/kart-io/finrag/pkg/utils/json"
	"github.com/kart-io/finrag/pkg/utils/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	return r
}

func TestRequestID_GeneratesID(t *testing.T) {
	r := newEngine(RequestID())
	var fromCtx, fromGin string
	r.GET("/test", func(c *gin.Context) {
		fromCtx = GetRequestID(c.Request.Context())
		fromGin = c.GetString(response.ContextKeyRequestID)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	requestID := w.Header().Get(HeaderXRequestID)
	assert.Len(t, requestID, 26)
	assert.Equal(t, requestID, fromCtx)
	assert.Equal(t, requestID, fromGin)
}

func TestRequestID_PreservesExistingID(t *testing.T) {
	r := newEngine(RequestID())
	r.GET("/test", func(_ *gin.Context) {})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderXRequestID, "existing-request-id-12345")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "existing-request-id-12345", w.Header().Get(HeaderXRequestID))
}

func TestRequestIDWithConfig_CustomHeader(t *testing.T) {
	r := newEngine(RequestIDWithConfig(RequestIDConfig{
		Header:    "X-Trace",
		Generator: func() string { return "fixed" },
	}))
	r.GET("/test", func(_ *gin.Context) {})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, "fixed", w.Header().Get("X-Trace"))
	assert.Empty(t, w.Header().Get(HeaderXRequestID))
}

func TestRecovery(t *testing.T) {
	var recovered any
	r := newEngine(RequestID(), RecoveryWithConfig(RecoveryConfig{
		OnPanic: func(_ *gin.Context, err any, _ []byte) { recovered = err },
	}))
	r.GET("/boom", func(_ *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "kaboom", recovered)

	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, errors.ErrPanic.Code, body.Code)
	assert.Contains(t, body.Message, "kaboom")
	assert.NotEmpty(t, body.RequestID)
}

func TestLogger_PassesThrough(t *testing.T) {
	r := newEngine(LoggerWithConfig(LoggerConfig{SkipPaths: []string{"/health"}}))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for path, code := range map[string]int{"/health": http.StatusOK, "/missing": http.StatusNotFound} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, code, w.Code, path)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		config     CORSConfig
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{
			name:       "wildcard simple request",
			config:     DefaultCORSConfig,
			method:     http.MethodPost,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:       "wildcard preflight",
			config:     DefaultCORSConfig,
			method:     http.MethodOptions,
			origin:     "http://localhost:3000",
			wantStatus: http.StatusNoContent,
			wantOrigin: "*",
		},
		{
			name:       "origin not allowed",
			config:     CORSConfig{AllowOrigins: []string{"https://app.example.com"}},
			method:     http.MethodPost,
			origin:     "https://evil.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "",
		},
		{
			name:       "explicit origin",
			config:     CORSConfig{AllowOrigins: []string{"https://app.example.com"}, AllowCredentials: true},
			method:     http.MethodPost,
			origin:     "https://app.example.com",
			wantStatus: http.StatusOK,
			wantOrigin: "https://app.example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newEngine(CORSWithConfig(tt.config))
			r.POST("/ask", func(c *gin.Context) { c.Status(http.StatusOK) })
			r.OPTIONS("/ask", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/ask", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.method == http.MethodOptions {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
				assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}
