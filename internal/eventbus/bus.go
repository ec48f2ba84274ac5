package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the relay pipeline.
const (
	TypeEnqueued    = "relay.enqueued"
	TypeDelivered   = "relay.delivered"
	TypeFailed      = "relay.failed"
	TypeTickSkipped = "relay.tick_skipped"
	TypePurged      = "retention.purged"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Relay is the payload of relay.enqueued, relay.delivered and relay.failed.
type Relay struct {
	MessageID       int64
	TargetMessageID int64
	Mode            string
	// Reason is set on relay.failed: "source_missing", "transport" or "panic".
	Reason  string
	Latency time.Duration
}

// Purge is the payload of retention.purged.
type Purge struct {
	Removed int64
	Cutoff  time.Time
}

// DropCounter is implemented by buses that count events lost to slow subscribers.
type DropCounter interface {
	Dropped() uint64
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: make(map[*subscriber]struct{})}
}

// Nop returns a bus that drops everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

type subscriber struct {
	ch chan Event
}

type memBus struct {
	// Publish holds the read lock while sending so unsubscribe never closes a channel mid-send.
	mu   sync.RWMutex
	subs map[*subscriber]struct{}

	// dropped is bus-wide so it never decreases when a subscriber leaves.
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, max(buffer, 1))}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Dropped counts events lost to full subscriber buffers since the bus was created.
func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
