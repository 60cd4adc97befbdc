package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/finrag/pkg/infra/tracing"
)

// HeaderXTraceID carries the trace id of the request span.
const HeaderXTraceID = "X-Trace-ID"

// TracingConfig defines the config for Tracing middleware.
type TracingConfig struct {
	// TracerProvider defaults to the global provider at request time.
	TracerProvider trace.TracerProvider

	// Propagator defaults to the global propagator at request time.
	Propagator propagation.TextMapPropagator
}

// Tracing returns a middleware that starts a server span per request.
func Tracing() gin.HandlerFunc {
	return TracingWithConfig(TracingConfig{})
}

// TracingWithConfig continues an incoming trace context, starts a server span
// named after the matched route and exposes the trace id in a response header.
// With the global no-op provider it only propagates context.
func TracingWithConfig(config TracingConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		tp := config.TracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		prop := config.Propagator
		if prop == nil {
			prop = otel.GetTextMapPropagator()
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx := prop.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tp.Tracer(tracing.TracerName).Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
				attribute.String("url.path", c.Request.URL.Path),
			),
		)
		defer span.End()

		if rid := GetRequestID(ctx); rid != "" {
			span.SetAttributes(attribute.String("request.id", rid))
		}
		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header(HeaderXTraceID, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		}
	}
}
