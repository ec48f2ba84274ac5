package storage

import (
	"errors"
	"time"
)

var (
	// ErrDuplicateKey is returned by Insert when the message id is already queued.
	ErrDuplicateKey = errors.New("storage: duplicate message id")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process queue, lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Now stamps created_at on insert. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) clock() func() time.Time {
	if c.Now != nil {
		return c.Now
	}
	return time.Now
}

// Status is the lifecycle state of a queued entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusForwarded Status = "forwarded"
)

// Entry is one queued relay.
type Entry struct {
	MessageID       int64
	Status          Status
	ScheduledAt     time.Time
	CreatedAt       time.Time
	TargetMessageID *int64
}

// Stats is a point-in-time summary of the queue.
type Stats struct {
	Pending   int64
	Forwarded int64

	// Zero when the queue holds no matching entry.
	OldestCreatedAt time.Time
	NextDueAt       time.Time
}
