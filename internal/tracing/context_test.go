package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIDs_RoundTrip(t *testing.T) {
	ctx := context.Background()

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithStreamID(ctx, "stream-1")
	ctx = WithQueryID(ctx, "query-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "stream-1", GetStreamID(ctx))
	assert.Equal(t, "query-1", GetQueryID(ctx))
}

func TestContextIDs_EmptyWhenUnset(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetStreamID(ctx))
	assert.Empty(t, GetQueryID(ctx))
}

func TestNewRequestContext_AssignsTraceID(t *testing.T) {
	ctx := NewRequestContext(context.Background())

	assert.NotEmpty(t, GetTraceID(ctx))

	other := NewRequestContext(context.Background())
	assert.NotEqual(t, GetTraceID(ctx), GetTraceID(other))
}

func TestLoggerFromContext_AttachesFields(t *testing.T) {
	ctx := WithStreamID(WithTraceID(context.Background(), "trace-1"), "stream-1")

	var buf bytes.Buffer
	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"stream_id":"stream-1"`)
	assert.NotContains(t, out, "query_id")
}

func TestStartSpan_PropagatesTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("corvid-test"))

	ctx, span := StartSpan(context.Background(), "corvid.test", "op")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestStartSpan_KeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "preset")

	ctx, span := StartSpan(ctx, "corvid.test", "op")
	defer span.End()

	assert.Equal(t, "preset", GetTraceID(ctx))
}
