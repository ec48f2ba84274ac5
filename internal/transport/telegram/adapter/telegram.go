// Package adapter binds the transport interfaces to the Telegram Bot API via telebot.
package adapter

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "chanrelay/internal/runtime/supervisor"
	kit "chanrelay/internal/transport"
	logx "chanrelay/pkg/logx"
)

const (
	defaultPollTimeout    = 10 * time.Second
	defaultRequestTimeout = time.Minute
	dropReportEvery       = 5 * time.Second
	stopGrace             = 2 * time.Second
)

// Config configures the Telegram adapter.
type Config struct {
	Token       string
	PollTimeout time.Duration
	// RequestTimeout bounds each Bot API round trip.
	RequestTimeout time.Duration
}

// Adapter long-polls for updates and performs copy/forward calls.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	// sink is the consumer channel; nil while stopped. Handlers drop updates then.
	sink    atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	mu  sync.Mutex
	sup *rtsup.Supervisor // non-nil while running
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	// getUpdates holds the connection for PollTimeout, so the client must outlast it.
	if floor := cfg.PollTimeout + 5*time.Second; cfg.RequestTimeout < floor {
		cfg.RequestTimeout = floor
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client: &http.Client{Timeout: cfg.RequestTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{log: log, bot: bot}
	bot.Handle(tele.OnText, a.onText)
	bot.Handle(tele.OnChannelPost, a.onChannelPost)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	if msg := toMessage(c.Message()); msg != nil {
		a.emit(kit.Update{Kind: kit.UpdateMessage, Message: msg})
	}
	return nil
}

func (a *Adapter) onChannelPost(c tele.Context) error {
	if post := toPost(c.Update().ChannelPost); post != nil {
		a.emit(kit.Update{Kind: kit.UpdateChannelPost, Post: post})
	}
	return nil
}

func toMessage(m *tele.Message) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{ID: m.ID, ChatID: m.Chat.ID, Text: m.Text}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
	}
	return msg
}

func toPost(m *tele.Message) *kit.Post {
	if m == nil || m.Chat == nil {
		return nil
	}
	return &kit.Post{MessageID: int64(m.ID), ChatID: m.Chat.ID}
}

// emit never blocks the poller; a full sink counts as a drop.
func (a *Adapter) emit(up kit.Update) {
	p := a.sink.Load()
	if p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling and sends updates to out. A second Start is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.sink.Store(&out)
	// Poller failures restart in place; they never cancel the app.
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))))

	a.sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		defer a.reportDrops(cap(out))
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				a.reportDrops(cap(out))
			}
		}
	})
	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until bot.Stop; any other return is restarted.
	a.sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDrops(capacity int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

// Stop ends polling. A pending long poll is abandoned after a short grace.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.sink.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	grace := stopGrace
	if dl, ok := ctx.Deadline(); ok {
		grace = max(0, min(grace, time.Until(dl)))
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	switch err := sup.Stop(wctx); {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.log.Warn("telegram stop timed out", logx.Err(err))
	default:
		a.log.Debug("telegram stopped with poll error", logx.Err(err))
	}
	return nil
}

// CopyItem re-posts source/messageID into target without attribution.
func (a *Adapter) CopyItem(ctx context.Context, target, source, messageID int64) (int64, error) {
	return a.relay(ctx, func(to tele.Recipient, msg tele.Editable) (*tele.Message, error) {
		return a.bot.Copy(to, msg)
	}, target, source, messageID)
}

// ForwardItem forwards source/messageID into target.
func (a *Adapter) ForwardItem(ctx context.Context, target, source, messageID int64) (int64, error) {
	return a.relay(ctx, func(to tele.Recipient, msg tele.Editable) (*tele.Message, error) {
		return a.bot.Forward(to, msg)
	}, target, source, messageID)
}

type relayCall func(to tele.Recipient, msg tele.Editable) (*tele.Message, error)

func (a *Adapter) relay(ctx context.Context, call relayCall, target, source, messageID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m, err := call(&tele.Chat{ID: target}, storedMessage(source, messageID))
	if err != nil {
		return 0, classify(err)
	}
	return int64(m.ID), nil
}

func storedMessage(chatID, messageID int64) tele.StoredMessage {
	return tele.StoredMessage{ChatID: chatID, MessageID: strconv.FormatInt(messageID, 10)}
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}

func (a *Adapter) Reply(ctx context.Context, to kit.Message, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, text, &tele.SendOptions{ReplyTo: &tele.Message{ID: to.ID}})
	return err
}
