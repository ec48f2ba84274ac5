package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanrelay/internal/config"
	"chanrelay/internal/storage"
	"chanrelay/internal/transport"
	logx "chanrelay/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	out     chan<- transport.Update
	copied  []int64
	replies []string
	stopped bool

	// entered and release hold CopyItem in flight when set.
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) push(up transport.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- up
}

func (f *fakeAdapter) CopyItem(_ context.Context, _, _, id int64) (int64, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copied = append(f.copied, id)
	return id + 100, nil
}

func (f *fakeAdapter) ForwardItem(ctx context.Context, target, source, id int64) (int64, error) {
	return f.CopyItem(ctx, target, source, id)
}

func (f *fakeAdapter) SendText(context.Context, int64, string) error { return nil }

func (f *fakeAdapter) Reply(_ context.Context, _ transport.Message, text string) error {
	f.mu.Lock()
	f.replies = append(f.replies, text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) snapshot() ([]int64, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.copied...), append([]string(nil), f.replies...)
}

const testConfig = `
telegram:
  token: "123:abc"
relay:
  source_channel: -1001
  target_channel: -1002
  delay: "0s"
  poll_interval: "20ms"
  warmup: "0s"
storage:
  driver: memory
logging:
  level: error
  console: false
`

func newTestManager(t *testing.T, body string) *config.ConfigManager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	m := config.NewConfigManager(path)
	m.SetEnvLookup(func(string) (string, bool) { return "", false })
	return m
}

func TestAppRelaysChannelPostsAndGreets(t *testing.T) {
	fa := &fakeAdapter{}
	a, err := NewApp(newTestManager(t, testConfig), WithAdapter(fa))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	fa.push(transport.Update{Kind: transport.UpdateChannelPost, Post: &transport.Post{MessageID: 7, ChatID: -1001}})
	fa.push(transport.Update{Kind: transport.UpdateChannelPost, Post: &transport.Post{MessageID: 8, ChatID: -5}})
	fa.push(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ID: 1, ChatID: 42, Text: "/start@relay_bot"}})
	fa.push(transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ID: 2, ChatID: 42, Text: "hello"}})

	require.Eventually(t, func() bool {
		copied, replies := fa.snapshot()
		return len(copied) == 1 && len(replies) == 1
	}, 2*time.Second, 10*time.Millisecond)

	copied, replies := fa.snapshot()
	assert.Equal(t, []int64{7}, copied)
	assert.Equal(t, []string{Greeting}, replies)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopAppStop))
	assert.True(t, fa.stopped)
	assert.NoError(t, a.Err())
}

func TestStopWaitsForInFlightRelayBeforeClosingQueue(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "messages.db")
	body := strings.Replace(testConfig, "  driver: memory", "  driver: sqlite\n  path: \""+dbPath+"\"", 1)
	fa := &fakeAdapter{entered: make(chan struct{}), release: make(chan struct{})}
	a, err := NewApp(newTestManager(t, body), WithAdapter(fa))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	fa.push(transport.Update{Kind: transport.UpdateChannelPost, Post: &transport.Post{MessageID: 77, ChatID: -1001}})
	select {
	case <-fa.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("relay never started")
	}

	// The caller's deadline expires long before Telegram answers.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stopCancel()
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	time.Sleep(400 * time.Millisecond)
	select {
	case <-stopped:
		t.Fatal("Stop returned while a relay was in flight")
	default:
	}
	close(fa.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the relay finished")
	}
	copied, _ := fa.snapshot()
	assert.Equal(t, []int64{77}, copied)

	q, err := storage.Open(storage.Config{Driver: "sqlite", Path: dbPath}, logx.Nop())
	require.NoError(t, err)
	defer q.Close()
	_, ok, err := q.Get(context.Background(), 77)
	require.NoError(t, err)
	assert.False(t, ok, "a relayed entry must not be queued again after restart")
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	body := `
telegram:
  token: "123:abc"
relay:
  source_channel: -1001
  target_channel: -1001
storage:
  driver: memory
`
	_, err := NewApp(newTestManager(t, body), WithAdapter(&fakeAdapter{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}

func TestIsStartCommand(t *testing.T) {
	cases := map[string]bool{
		"/start":          true,
		"/START":          true,
		"/start@bot":      true,
		"/start deeplink": true,
		"  /start  ":      true,
		"/stats":          false,
		"start":           false,
		"":                false,
	}
	for in, want := range cases {
		assert.Equal(t, want, isStartCommand(in), "input %q", in)
	}
}
