package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "chanrelay/pkg/logx"
)

// Queue is the persistence API used by the relay pipeline.
//
// Every method is atomic on its own; no method spans more than one statement
// and callers never hold a transaction across calls.
type Queue interface {
	// Insert queues messageID as pending. Returns ErrDuplicateKey on collision
	// and leaves the existing entry untouched.
	Insert(ctx context.Context, messageID int64, scheduledAt time.Time) error
	// SelectDue returns up to limit pending entries with ScheduledAt <= now,
	// ordered by (ScheduledAt, MessageID). Entries are not claimed.
	SelectDue(ctx context.Context, now time.Time, limit int) ([]Entry, error)
	// MarkForwarded records the target id. Missing entries are ignored.
	MarkForwarded(ctx context.Context, messageID, targetMessageID int64) error
	// Remove deletes the entry and reports whether it existed.
	Remove(ctx context.Context, messageID int64) (bool, error)
	// PurgeOlderThan deletes all entries with CreatedAt <= cutoff, regardless of status.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Get(ctx context.Context, messageID int64) (Entry, bool, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Open initializes the configured queue.
func Open(cfg Config, log logx.Logger) (Queue, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return openMemory(cfg), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
