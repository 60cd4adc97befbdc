package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// setupTracer 设置测试用的 OpenTelemetry Tracer。
func setupTracer() (trace.Tracer, *sdktrace.TracerProvider) {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Tracer("test"), tp
}

func TestInjectTraceContext_WithSpan(t *testing.T) {
	tracer, tp := setupTracer()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	client := NewClient(10 * time.Second)

	ctx, span := tracer.Start(context.Background(), "embed")
	defer span.End()

	req := httptest.NewRequest(http.MethodPost, "http://example.com/embed", nil).WithContext(ctx)
	client.injectTraceContext(req)

	// version-trace_id-parent_id-trace_flags
	traceparent := req.Header.Get("traceparent")
	assert.GreaterOrEqual(t, len(traceparent), 55)
}

func TestInjectTraceContext_WithoutSpan(t *testing.T) {
	_, tp := setupTracer()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	client := NewClient(10 * time.Second)
	req := httptest.NewRequest(http.MethodGet, "http://example.com/health", nil)
	client.injectTraceContext(req)

	assert.Empty(t, req.Header.Get("traceparent"))
}

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	var out struct {
		Text string `json:"text"`
	}
	err := NewClient(5*time.Second).PostJSON(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer k"}, map[string]string{"q": "x"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
}

func TestPostJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("model loading"))
	}))
	defer srv.Close()

	err := NewClient(5*time.Second).PostJSON(context.Background(), srv.URL, nil, map[string]string{}, nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "model loading", se.Body)
	assert.True(t, se.Temporary())
	assert.False(t, (&StatusError{StatusCode: http.StatusUnauthorized}).Temporary())
}
