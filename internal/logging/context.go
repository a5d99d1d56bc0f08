// internal/logging/context.go
package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	if emailID := EmailIDFromContext(ctx); emailID != "" {
		fields = append(fields, zap.String("email.id", emailID))
	}

	if cycle := CycleFromContext(ctx); cycle > 0 {
		fields = append(fields, zap.Uint64("sync.cycle", cycle))
	}

	return fields
}

// Context key types
type requestCtxKey struct{}
type emailCtxKey struct{}
type cycleCtxKey struct{}

// WithRequestID stores the HTTP request id in the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithEmailID stores the email under processing in the context so every
// log line in the pipeline carries it.
func WithEmailID(ctx context.Context, emailID string) context.Context {
	return context.WithValue(ctx, emailCtxKey{}, emailID)
}

// EmailIDFromContext returns the email id or "".
func EmailIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(emailCtxKey{}).(string); ok {
		return v
	}
	return ""
}

// WithCycle stores the sync cycle counter in the context.
func WithCycle(ctx context.Context, cycle uint64) context.Context {
	return context.WithValue(ctx, cycleCtxKey{}, cycle)
}

// CycleFromContext returns the sync cycle or 0.
func CycleFromContext(ctx context.Context) uint64 {
	if v, ok := ctx.Value(cycleCtxKey{}).(uint64); ok {
		return v
	}
	return 0
}
