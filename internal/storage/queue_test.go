package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logx "chanrelay/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for created_at stamping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func forEachDriver(t *testing.T, fn func(t *testing.T, q Queue, clk *fakeClock)) {
	t.Helper()
	for _, driver := range []string{"sqlite", "memory"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			clk := &fakeClock{t: t0}
			cfg := Config{Driver: driver, Now: clk.Now}
			if driver == "sqlite" {
				cfg.Path = filepath.Join(t.TempDir(), "queue.db")
			}
			q, err := Open(cfg, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = q.Close() })
			fn(t, q, clk)
		})
	}
}

func ids(entries []Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.MessageID)
	}
	return out
}

func TestInsertDuplicateKeepsOriginal(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, clk *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Insert(ctx, 1, t0.Add(10*time.Second)))

		clk.Set(t0.Add(time.Hour))
		err := q.Insert(ctx, 1, t0.Add(time.Hour))
		require.ErrorIs(t, err, ErrDuplicateKey)

		e, ok, err := q.Get(ctx, 1)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, StatusPending, e.Status)
		assert.True(t, e.ScheduledAt.Equal(t0.Add(10*time.Second)))
		assert.True(t, e.CreatedAt.Equal(t0))
		assert.Nil(t, e.TargetMessageID)
	})
}

func TestSelectDueNeverReturnsFutureEntries(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Insert(ctx, 42, t0.Add(10*time.Second)))

		got, err := q.SelectDue(ctx, t0.Add(5*time.Second), 10)
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = q.SelectDue(ctx, t0.Add(11*time.Second), 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{42}, ids(got))
	})
}

func TestSelectDueBoundaryIsInclusive(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		due := t0.Add(10 * time.Second)
		require.NoError(t, q.Insert(ctx, 7, due))

		got, err := q.SelectDue(ctx, due, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, ids(got))
	})
}

func TestSelectDueHonorsLimitAndOrder(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		// Three due (two share a timestamp), one in the future.
		require.NoError(t, q.Insert(ctx, 30, t0.Add(2*time.Second)))
		require.NoError(t, q.Insert(ctx, 20, t0.Add(1*time.Second)))
		require.NoError(t, q.Insert(ctx, 10, t0.Add(2*time.Second)))
		require.NoError(t, q.Insert(ctx, 99, t0.Add(time.Hour)))

		now := t0.Add(5 * time.Second)
		got, err := q.SelectDue(ctx, now, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{20, 10, 30}, ids(got))

		got, err = q.SelectDue(ctx, now, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{20, 10}, ids(got))

		// Selecting does not claim.
		again, err := q.SelectDue(ctx, now, 2)
		require.NoError(t, err)
		assert.Equal(t, ids(got), ids(again))

		none, err := q.SelectDue(ctx, now, 0)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestMarkForwardedHidesFromSelection(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Insert(ctx, 5, t0))
		require.NoError(t, q.MarkForwarded(ctx, 5, 500))

		e, ok, err := q.Get(ctx, 5)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, StatusForwarded, e.Status)
		require.NotNil(t, e.TargetMessageID)
		assert.Equal(t, int64(500), *e.TargetMessageID)

		got, err := q.SelectDue(ctx, t0.Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, got)

		// Missing entry is not an error.
		require.NoError(t, q.MarkForwarded(ctx, 404, 1))
	})
}

func TestRemoveIsIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		require.NoError(t, q.Insert(ctx, 3, t0))

		removed, err := q.Remove(ctx, 3)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = q.Remove(ctx, 3)
		require.NoError(t, err)
		assert.False(t, removed)

		_, ok, err := q.Get(ctx, 3)
		require.NoError(t, err)
		assert.False(t, ok)

		// The id can be queued again once gone.
		require.NoError(t, q.Insert(ctx, 3, t0))
	})
}

func TestPurgeOlderThanIsExactAndIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, clk *fakeClock) {
		ctx := context.Background()

		clk.Set(t0.Add(-8 * 24 * time.Hour))
		require.NoError(t, q.Insert(ctx, 1, t0.Add(-8*24*time.Hour+10*time.Second)))
		clk.Set(t0.Add(-7 * 24 * time.Hour))
		require.NoError(t, q.Insert(ctx, 2, t0))
		require.NoError(t, q.MarkForwarded(ctx, 2, 20))
		clk.Set(t0.Add(-time.Hour))
		require.NoError(t, q.Insert(ctx, 3, t0))

		cutoff := t0.Add(-7 * 24 * time.Hour)
		n, err := q.PurgeOlderThan(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n, "entries created at or before the cutoff go, whatever their status")

		_, ok, err := q.Get(ctx, 3)
		require.NoError(t, err)
		assert.True(t, ok)

		n, err = q.PurgeOlderThan(ctx, cutoff)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestStats(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, clk *fakeClock) {
		ctx := context.Background()

		st, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, st.Pending)
		assert.True(t, st.OldestCreatedAt.IsZero())
		assert.True(t, st.NextDueAt.IsZero())

		require.NoError(t, q.Insert(ctx, 1, t0.Add(time.Minute)))
		clk.Set(t0.Add(time.Second))
		require.NoError(t, q.Insert(ctx, 2, t0.Add(30*time.Second)))
		require.NoError(t, q.Insert(ctx, 3, t0.Add(10*time.Second)))
		require.NoError(t, q.MarkForwarded(ctx, 3, 33))

		st, err = q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), st.Pending)
		assert.Equal(t, int64(1), st.Forwarded)
		assert.True(t, st.OldestCreatedAt.Equal(t0))
		assert.True(t, st.NextDueAt.Equal(t0.Add(30*time.Second)))
	})
}

func TestClosedQueueRejectsOperations(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, _ *fakeClock) {
		require.NoError(t, q.Close())
		err := q.Insert(context.Background(), 1, t0)
		assert.ErrorIs(t, err, ErrClosed)
		_, err = q.SelectDue(context.Background(), t0, 1)
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	ctx := context.Background()

	q, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, q.Insert(ctx, 11, t0))
	require.NoError(t, q.Close())

	q, err = Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer q.Close()

	got, err := q.SelectDue(ctx, t0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, ids(got))
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err, "sqlite requires a path")
}

func TestSQLitePragmasApplyToEveryConnection(t *testing.T) {
	q, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "queue.db"), BusyTimeout: 1500 * time.Millisecond}, logx.Nop())
	require.NoError(t, err)
	defer q.Close()
	db := q.(*sqliteStore).db

	for i := 0; i < 2; i++ {
		var busy int64
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busy))
		assert.Equal(t, int64(1500), busy)
		var mode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)

		// Drop the pooled connection so the next query opens a fresh one.
		db.SetMaxIdleConns(0)
		db.SetMaxIdleConns(1)
	}
}

func TestCloseRacesInFlightCalls(t *testing.T) {
	forEachDriver(t, func(t *testing.T, q Queue, _ *fakeClock) {
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(id int64) {
				defer wg.Done()
				for j := int64(0); j < 20; j++ {
					_ = q.Insert(ctx, id*100+j, t0)
					_, _ = q.Remove(ctx, id*100+j)
				}
			}(int64(i))
		}
		require.NoError(t, q.Close())
		require.NoError(t, q.Close())
		wg.Wait()
		assert.ErrorIs(t, q.Insert(ctx, 1, t0), ErrClosed)
	})
}
