package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "chanrelay/pkg/logx"

	"modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Extended sqlite result codes carry the primary code in the low byte.
const sqliteConstraint = 19

type sqliteStore struct {
	// db is never reassigned after open; closed gates new calls.
	db     *sql.DB
	closed atomic.Bool
	log    logx.Logger
	now    func() time.Time
}

// sqliteDSN sets pragmas in the DSN so every pooled connection gets them.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Queue, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also serializes statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: cfg.clock()}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	log.Debug("sqlite queue opened", logx.String("path", path), logx.Duration("busy_timeout", busy))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, messageID int64, scheduledAt time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue(message_id, status, scheduled_at, created_at) VALUES(?,?,?,?)`,
		messageID, string(StatusPending), scheduledAt.UnixMilli(), s.now().UnixMilli(),
	)
	if isConstraintError(err) {
		return fmt.Errorf("insert %d: %w", messageID, ErrDuplicateKey)
	}
	return err
}

func (s *sqliteStore) SelectDue(ctx context.Context, now time.Time, limit int) ([]Entry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, status, scheduled_at, created_at, target_message_id
		 FROM queue
		 WHERE status = ? AND scheduled_at <= ?
		 ORDER BY scheduled_at, message_id
		 LIMIT ?`,
		string(StatusPending), now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkForwarded(ctx context.Context, messageID, targetMessageID int64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue SET status = ?, target_message_id = ? WHERE message_id = ?`,
		string(StatusForwarded), targetMessageID, messageID,
	)
	return err
}

func (s *sqliteStore) Remove(ctx context.Context, messageID int64) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE message_id = ?`, messageID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM queue WHERE created_at <= ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) Get(ctx context.Context, messageID int64) (Entry, bool, error) {
	if s.closed.Load() {
		return Entry{}, false, ErrClosed
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT message_id, status, scheduled_at, created_at, target_message_id
		 FROM queue WHERE message_id = ?`, messageID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (Stats, error) {
	if s.closed.Load() {
		return Stats{}, ErrClosed
	}
	var (
		st        Stats
		oldest    sql.NullInt64
		nextDueMs sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT
		   COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		   COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		   MIN(created_at),
		   MIN(CASE WHEN status = ? THEN scheduled_at END)
		 FROM queue`,
		string(StatusPending), string(StatusForwarded), string(StatusPending),
	).Scan(&st.Pending, &st.Forwarded, &oldest, &nextDueMs)
	if err != nil {
		return Stats{}, err
	}
	if oldest.Valid {
		st.OldestCreatedAt = time.UnixMilli(oldest.Int64)
	}
	if nextDueMs.Valid {
		st.NextDueAt = time.UnixMilli(nextDueMs.Int64)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e         Entry
		status    string
		scheduled int64
		created   int64
		target    sql.NullInt64
	)
	if err := r.Scan(&e.MessageID, &status, &scheduled, &created, &target); err != nil {
		return Entry{}, err
	}
	e.Status = Status(status)
	e.ScheduledAt = time.UnixMilli(scheduled)
	e.CreatedAt = time.UnixMilli(created)
	if target.Valid {
		v := target.Int64
		e.TargetMessageID = &v
	}
	return e, nil
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqliteConstraint
}
