package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Sender delivers a plain text line to a chat. The Telegram adapter implements it.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// ChatConfig mirrors log lines at or above MinLevel into a chat.
type ChatConfig struct {
	Enabled    bool
	ChatID     int64
	MinLevel   string // default "warn"
	RatePerSec int    // default 1
}

const (
	chatQueueSize   = 256
	chatMaxMessage  = 3500
	chatMaxValue    = 600
	chatSendTimeout = 10 * time.Second
)

// chatSink is a zerolog.LevelWriter that never blocks the caller: lines over
// the rate limit or beyond the queue are dropped.
type chatSink struct {
	sender Sender
	queue  chan string

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func newChatSink(sender Sender) *chatSink {
	return &chatSink{sender: sender, queue: make(chan string, chatQueueSize)}
}

func (c *chatSink) configure(cfg ChatConfig) {
	rps := max(1, cfg.RatePerSec)
	c.mu.Lock()
	c.chatID = cfg.ChatID
	c.minLevel = ParseLevel(cfg.MinLevel, zerolog.WarnLevel)
	c.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	c.mu.Unlock()

	if cfg.Enabled && c.sender != nil {
		c.startOnce.Do(c.start)
	}
}

func (c *chatSink) start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.queue:
				c.mu.Lock()
				chatID := c.chatID
				c.mu.Unlock()
				if chatID == 0 {
					continue
				}
				sctx, scancel := context.WithTimeout(ctx, chatSendTimeout)
				_ = c.sender.SendText(sctx, chatID, msg)
				scancel()
			}
		}
	}()
}

func (c *chatSink) close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

func (c *chatSink) Write(p []byte) (int, error) { return c.WriteLevel(zerolog.InfoLevel, p) }

func (c *chatSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	c.mu.Lock()
	chatID, minLevel, lim := c.chatID, c.minLevel, c.limiter
	c.mu.Unlock()

	if c.sender == nil || chatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	if msg := renderChatLine(p); msg != "" {
		select {
		case c.queue <- msg:
		default:
		}
	}
	return len(p), nil
}

// renderChatLine turns a JSON log line into "[LEVEL] message" plus sorted key=value lines.
func renderChatLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, chatMaxMessage)
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), chatMaxValue))
	}
	return clip(b.String(), chatMaxMessage)
}

func clip(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n < 10 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
