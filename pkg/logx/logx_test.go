package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZeroLoggerDiscards(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	assert.NotPanics(t, func() { l.Error("dropped", String("k", "v")) })
	assert.False(t, Nop().IsZero())
}

func TestWriterFieldsAndWith(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, "debug").With(String("comp", "relay"))
	l.Info("delivered", Int64("message_id", 42), Duration("latency", 1500*time.Millisecond), Err(errors.New("boom")), Err(nil))
	l.Trace("below level")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	m := lines[0]
	assert.Equal(t, "delivered", m["message"])
	assert.Equal(t, "info", m["level"])
	assert.Equal(t, "relay", m["comp"])
	assert.EqualValues(t, 42, m["message_id"])
	assert.Equal(t, "1.5s", m["latency"])
	assert.Equal(t, "boom", m["err"])
	assert.Contains(t, m["caller"], "logx_test.go:")
}

func TestWithDoesNotAlias(t *testing.T) {
	var buf bytes.Buffer
	base := NewWriter(&buf, "info").With(String("a", "1"))
	left := base.With(String("b", "left"))
	_ = base.With(String("b", "right"))
	left.Info("x")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "left", lines[0]["b"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLevel("WARNING", LevelInfo))
	assert.Equal(t, LevelDebug, ParseLevel(" debug ", LevelInfo))
	assert.Equal(t, LevelInfo, ParseLevel("loud", LevelInfo))
}

func TestServiceApplyChangesLevelLive(t *testing.T) {
	var buf bytes.Buffer
	old := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = old })

	svc, l := New(Config{Level: "warn", Console: true}, nil)
	defer svc.Close()
	child := l.With(String("comp", "x"))

	child.Info("hidden")
	assert.NotContains(t, buf.String(), "hidden")

	svc.Apply(Config{Level: "debug", Console: true})
	child.Info("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.True(t, child.Enabled(LevelDebug))
}

type recordingSender struct {
	mu    sync.Mutex
	chats []int64
	texts []string
}

func (r *recordingSender) SendText(_ context.Context, chatID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, chatID)
	r.texts = append(r.texts, text)
	return nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestChatSinkMirrorsWarnings(t *testing.T) {
	old := stdout
	stdout = &bytes.Buffer{}
	t.Cleanup(func() { stdout = old })

	rec := &recordingSender{}
	svc, l := New(Config{Level: "debug", Chat: ChatConfig{Enabled: true, ChatID: -77, RatePerSec: 10}}, rec)

	l.Info("routine")
	l.Warn("relay failed", Int64("message_id", 9), String("reason", "transport"))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Close())

	got := rec.snapshot()[0]
	assert.True(t, strings.HasPrefix(got, "[WARN] relay failed"), got)
	assert.Contains(t, got, "- message_id=9\n- reason=transport")
	assert.NotContains(t, got, "caller=")
	assert.Equal(t, []int64{-77}, rec.chats)
}

func TestRenderChatLine(t *testing.T) {
	assert.Equal(t, "not json", renderChatLine([]byte("not json\n")))
	long := `{"level":"error","message":"` + strings.Repeat("x", 5000) + `"}`
	assert.Len(t, renderChatLine([]byte(long)), chatMaxMessage)
}
