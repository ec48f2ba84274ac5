package relay

import (
	"context"
	"errors"
	"fmt"

	"chanrelay/internal/eventbus"
	"chanrelay/internal/storage"
	"chanrelay/internal/transport"
	logx "chanrelay/pkg/logx"
)

// Listener turns new source-channel posts into pending queue entries.
type Listener struct {
	settings Settings
	deps     Deps
	log      logx.Logger
}

func NewListener(settings Settings, deps Deps) *Listener {
	deps = deps.withDefaults()
	return &Listener{
		settings: settings,
		deps:     deps,
		log:      deps.Log.With(logx.String("comp", "relay.ingest")),
	}
}

// HandlePost schedules p for relay at now+delay. Posts from other chats are
// ignored. A duplicate id is logged and swallowed; only store failures are
// returned.
func (l *Listener) HandlePost(ctx context.Context, p transport.Post) error {
	if p.ChatID != l.settings.Source {
		l.log.Debug("post from foreign chat ignored", logx.Int64("chat_id", p.ChatID), logx.Int64("message_id", p.MessageID))
		return nil
	}
	at := l.deps.Now().Add(l.settings.Delay)
	err := l.deps.Store.Insert(ctx, p.MessageID, at)
	if errors.Is(err, storage.ErrDuplicateKey) {
		l.log.Error("post already queued", logx.Int64("message_id", p.MessageID), logx.Err(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue post %d: %w", p.MessageID, err)
	}
	l.log.Info("post queued", logx.Int64("message_id", p.MessageID), logx.Time("scheduled_at", at))
	l.deps.Bus.Publish(eventbus.Event{
		Type: eventbus.TypeEnqueued,
		Data: eventbus.Relay{MessageID: p.MessageID, Mode: string(l.settings.Mode)},
	})
	return nil
}
