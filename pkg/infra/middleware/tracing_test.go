package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTracingEngine(sr *tracetest.SpanRecorder) *gin.Engine {
	return newEngine(RequestID(), TracingWithConfig(TracingConfig{
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)),
		Propagator:     propagation.TraceContext{},
	}))
}

func TestTracing_ServerSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	r := newTracingEngine(sr)
	var inHandler trace.SpanContext
	r.POST("/ask", func(c *gin.Context) {
		inHandler = trace.SpanContextFromContext(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ask", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /ask", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Contains(t, span.Attributes(), attribute.Int("http.response.status_code", http.StatusOK))
	assert.Contains(t, span.Attributes(), attribute.String("request.id", w.Header().Get(HeaderXRequestID)))
	assert.Equal(t, span.SpanContext().TraceID().String(), w.Header().Get(HeaderXTraceID))
	assert.Equal(t, span.SpanContext().SpanID(), inHandler.SpanID())
}

func TestTracing_ContinuesIncomingTrace(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	r := newTracingEngine(sr)
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	r.ServeHTTP(httptest.NewRecorder(), req)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}

func TestTracing_ServerErrorStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	r := newTracingEngine(sr)
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestTracing_NoopProviderPassesThrough(t *testing.T) {
	r := newEngine(Tracing())
	r.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}
