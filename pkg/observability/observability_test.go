package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectorTracer_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.ServiceName = "recordbridge-test"
	cfg.Writer = &buf
	require.NoError(t, Initialize(context.Background(), cfg))

	tracer := NewConnectorTracer("file", "orders")
	err := tracer.TraceBatch(context.Background(), 100, "write", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("upload failed")
	err = tracer.TraceBatch(context.Background(), 5, "flush", func(ctx context.Context) error {
		return boom
	})
	assert.Same(t, boom, err)

	require.NoError(t, Shutdown(context.Background()))
	out := buf.String()
	assert.Contains(t, out, `"Name":"file.write"`)
	assert.Contains(t, out, `"Name":"file.flush"`)
	assert.Contains(t, out, "upload failed")
	assert.Contains(t, out, "batch.size")

	assert.NoError(t, Shutdown(context.Background()), "shutdown without a provider is a no-op")
}

func TestTracer_NoopWithoutInitialize(t *testing.T) {
	ctx, span := NewConnectorTracer("kafka", "events").StartSpan(context.Background(), "produce")
	assert.NotNil(t, ctx)
	End(span, nil)
	assert.False(t, span.IsRecording())
}
