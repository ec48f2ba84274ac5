package transport

import (
	"context"
	"errors"
)

// ErrSourceMissing means the source post no longer exists (deleted before the
// delay elapsed, or the id was never valid). Relaying it again can never succeed.
var ErrSourceMissing = errors.New("transport: source message not found")

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateChannelPost UpdateKind = "channel_post"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
	Post    *Post
}

// Message is a direct/group message (commands).
type Message struct {
	ID     int
	ChatID int64
	FromID int64
	Text   string
}

// Post is a new post in a broadcast channel.
type Post struct {
	MessageID int64
	ChatID    int64
}

// RelayMode selects how an item is relayed to the target channel.
type RelayMode string

const (
	// ModeCopy re-posts the content without the "forwarded from" header.
	ModeCopy RelayMode = "copy"
	// ModeForward keeps the original attribution.
	ModeForward RelayMode = "forward"
)

// Relayer is the outbound side used by the relay executor.
// Both calls return the id the target channel assigned to the new post.
type Relayer interface {
	CopyItem(ctx context.Context, target, source, messageID int64) (int64, error)
	ForwardItem(ctx context.Context, target, source, messageID int64) (int64, error)
}

// Adapter is the full bot transport.
type Adapter interface {
	Relayer
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
	SendText(ctx context.Context, chatID int64, text string) error
	Reply(ctx context.Context, to Message, text string) error
}
