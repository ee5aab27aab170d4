package trace

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRequestScopesID(t *testing.T) {
	var buf bytes.Buffer
	Setup("debug", &buf)

	ctx := WithRequest(context.Background(), "req-123")
	Logger(ctx).Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-123"`)
	assert.Contains(t, out, `"hello"`)
}

func TestWithRequestGeneratesID(t *testing.T) {
	ctx := WithRequest(context.Background(), "")
	require.NotNil(t, Logger(ctx))
	assert.NotEqual(t, NewRequestID(), NewRequestID())
}

func TestLoggerWithoutRequestFallsBack(t *testing.T) {
	assert.NotNil(t, Logger(context.Background()))
}
