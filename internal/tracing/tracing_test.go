package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "chanrelay/pkg/logx"
)

func TestStdoutExporterFlushesOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	m := New(Config{Enabled: true, SampleRate: 1, Writer: &buf}, logx.Nop())
	ctx := context.Background()
	require.NoError(t, m.Init(ctx))

	_, span := m.Tracer("test").Start(ctx, "relay.entry")
	span.End()

	require.NoError(t, m.Shutdown(ctx))
	assert.Contains(t, buf.String(), "relay.entry")
	assert.Contains(t, buf.String(), "chanrelay")
	require.NoError(t, m.Shutdown(ctx))
}

func TestDisabledIsNoop(t *testing.T) {
	m := New(Config{}, logx.Nop())
	require.NoError(t, m.Init(context.Background()))
	_, span := m.Tracer("test").Start(context.Background(), "noop")
	assert.False(t, span.IsRecording())
	span.End()
	require.NoError(t, m.Shutdown(context.Background()))
}
