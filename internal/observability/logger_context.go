package observability

import (
	"context"
	"log/slog"
)

// loggerContextKey is the private context key used to store a *slog.Logger.
type loggerContextKey struct{}

// traceIDContextKey is the private context key used to store the sync trace id
// so that every stage and deeper layer can correlate its logs with the
// originating sync.
type traceIDContextKey struct{}

// ContextWithLogger attaches a non-nil logger to the context.
func ContextWithLogger(ctx context.Context, lg *slog.Logger) context.Context {
	if ctx == nil || lg == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey{}, lg)
}

// LoggerFromContext returns the logger stored in the context or the default
// slog logger when none is present.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}
	if v := ctx.Value(loggerContextKey{}); v != nil {
		if lg, ok := v.(*slog.Logger); ok && lg != nil {
			return lg
		}
	}
	return slog.Default()
}

// ContextWithTraceID stores a non-empty trace id in the context and returns a
// context whose logger carries it as a structured attribute.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if ctx == nil || traceID == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, traceIDContextKey{}, traceID)
	return ContextWithLogger(ctx, LoggerFromContext(ctx).With(slog.String("trace_id", traceID)))
}

// TraceIDFromContext retrieves the trace id from the context, or an empty
// string when none is present.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(traceIDContextKey{}); v != nil {
		if tid, ok := v.(string); ok {
			return tid
		}
	}
	return ""
}
