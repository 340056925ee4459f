package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// StreamIDKey is the context key for the stream the work belongs to
	StreamIDKey ContextKey = "stream_id"
	// QueryIDKey is the context key for the per-query correlation ID
	QueryIDKey ContextKey = "query_id"
)

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithStreamID adds a stream ID to the context
func WithStreamID(ctx context.Context, streamID string) context.Context {
	return context.WithValue(ctx, StreamIDKey, streamID)
}

// WithQueryID adds a query correlation ID to the context
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, QueryIDKey, queryID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetStreamID retrieves the stream ID from the context
func GetStreamID(ctx context.Context) string {
	if streamID, ok := ctx.Value(StreamIDKey).(string); ok {
		return streamID
	}
	return ""
}

// GetQueryID retrieves the query correlation ID from the context
func GetQueryID(ctx context.Context) string {
	if queryID, ok := ctx.Value(QueryIDKey).(string); ok {
		return queryID
	}
	return ""
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext returns a child logger with whatever tracing fields are
// present on the context attached.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	lc := baseLogger.With()
	if traceID := GetTraceID(ctx); traceID != "" {
		lc = lc.Str("trace_id", traceID)
	}
	if streamID := GetStreamID(ctx); streamID != "" {
		lc = lc.Str("stream_id", streamID)
	}
	if queryID := GetQueryID(ctx); queryID != "" {
		lc = lc.Str("query_id", queryID)
	}
	return lc.Logger()
}
