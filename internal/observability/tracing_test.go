package observability

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTraceIDRatio(t *testing.T) {
	assert.InDelta(t, 0.25, parseTraceIDRatio("0.25"), 1e-9)
	assert.InDelta(t, 1.0, parseTraceIDRatio(""), 1e-9)
	assert.InDelta(t, 1.0, parseTraceIDRatio("1.5"), 1e-9)
	assert.InDelta(t, 1.0, parseTraceIDRatio("abc"), 1e-9)
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), "", "svc")
	require.NoError(t, err)
	assert.Nil(t, provider)
	assert.NoError(t, ShutdownTracerProvider(context.Background(), nil))
}

func TestNewTracerProvider_Stdout(t *testing.T) {
	t.Setenv(envTracesSampler, "always_off")

	provider, err := NewTracerProvider(context.Background(), TracesExporterStdout, "svc")
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.NoError(t, ShutdownTracerProvider(context.Background(), provider))
}

func TestStartJobSpan(t *testing.T) {
	ctx, end := StartJobSpan(context.Background(), uuid.New(), uuid.New(), "embedding")
	assert.NotNil(t, ctx)
	end("job failed")
}
