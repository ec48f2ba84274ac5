package adapter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"

	kit "chanrelay/internal/transport"
)

func TestClassifySourceMissing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		missing bool
	}{
		{name: "copy not found", err: errors.New("telegram: Bad Request: message to copy not found (400)"), missing: true},
		{name: "forward not found", err: errors.New("telegram: Bad Request: message to forward not found (400)"), missing: true},
		{name: "invalid id", err: errors.New("telegram: Bad Request: MESSAGE_ID_INVALID (400)"), missing: true},
		{name: "flood", err: errors.New("telegram: retry after 5 (429)"), missing: false},
		{name: "forbidden", err: errors.New("telegram: Forbidden: bot is not a member of the channel chat (403)"), missing: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			assert.Equal(t, tt.missing, errors.Is(got, kit.ErrSourceMissing))
			assert.Contains(t, got.Error(), tt.err.Error())
		})
	}
	assert.NoError(t, classify(nil))
}

func TestStoredMessageSig(t *testing.T) {
	id, chat := storedMessage(-1001, 42).MessageSig()
	assert.Equal(t, "42", id)
	assert.Equal(t, int64(-1001), chat)
}

func TestConvertUpdates(t *testing.T) {
	assert.Nil(t, toPost(nil))
	assert.Nil(t, toPost(&tele.Message{ID: 1}))
	assert.Equal(t, &kit.Post{MessageID: 5, ChatID: -100}, toPost(&tele.Message{ID: 5, Chat: &tele.Chat{ID: -100}}))

	assert.Nil(t, toMessage(&tele.Message{ID: 1}))
	got := toMessage(&tele.Message{ID: 3, Chat: &tele.Chat{ID: 9}, Sender: &tele.User{ID: 77}, Text: "/start"})
	assert.Equal(t, &kit.Message{ID: 3, ChatID: 9, FromID: 77, Text: "/start"}, got)
}

func TestEmitDropsWhenStoppedOrFull(t *testing.T) {
	a := &Adapter{}
	a.emit(kit.Update{Kind: kit.UpdateChannelPost})
	assert.Zero(t, a.dropped.Load(), "no sink means nothing to count")

	out := make(chan kit.Update, 1)
	var sink chan<- kit.Update = out
	a.sink.Store(&sink)
	a.emit(kit.Update{Kind: kit.UpdateChannelPost})
	a.emit(kit.Update{Kind: kit.UpdateChannelPost})
	assert.Len(t, out, 1)
	assert.Equal(t, uint64(1), a.dropped.Load())
}
