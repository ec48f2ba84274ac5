package metrics

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chanrelay/internal/eventbus"
	"chanrelay/internal/storage"
	logx "chanrelay/pkg/logx"
)

func TestObserveCountsEvents(t *testing.T) {
	c := New(logx.Nop())
	c.Observe(eventbus.Event{Type: eventbus.TypeEnqueued})
	c.Observe(eventbus.Event{Type: eventbus.TypeEnqueued})
	c.Observe(eventbus.Event{Type: eventbus.TypeDelivered, Data: eventbus.Relay{Mode: "copy", Latency: time.Millisecond}})
	c.Observe(eventbus.Event{Type: eventbus.TypeFailed, Data: eventbus.Relay{Reason: "source_missing"}})
	c.Observe(eventbus.Event{Type: eventbus.TypeTickSkipped})
	c.Observe(eventbus.Event{Type: eventbus.TypePurged, Data: eventbus.Purge{Removed: 4}})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Enqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Delivered.WithLabelValues("copy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Failed.WithLabelValues("source_missing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TickSkipped))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.Purged))
}

func TestRefreshSamplesQueue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q, err := storage.Open(storage.Config{Driver: "memory", Now: func() time.Time { return now.Add(-time.Minute) }}, logx.Nop())
	require.NoError(t, err)
	defer q.Close()
	ctx := context.Background()
	require.NoError(t, q.Insert(ctx, 1, now.Add(10*time.Second)))
	require.NoError(t, q.Insert(ctx, 2, now.Add(20*time.Second)))

	c := New(logx.Nop())
	require.NoError(t, c.Refresh(ctx, q, now))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.QueueDepth.WithLabelValues("pending")))
	assert.Equal(t, 60.0, testutil.ToFloat64(c.OldestAge))
	assert.Equal(t, 10.0, testutil.ToFloat64(c.NextDueIn))

	require.NoError(t, q.Close())
	require.Error(t, c.Refresh(ctx, q, now))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LastRefreshFail))
}

func TestHandlerServesRegistry(t *testing.T) {
	c := New(logx.Nop())
	c.Enqueued.Inc()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "chanrelay_enqueued_total 1")
}

type fixedDrops uint64

func (f fixedDrops) Dropped() uint64 { return uint64(f) }

func TestTrackDrops(t *testing.T) {
	c := New(logx.Nop())
	require.NoError(t, c.TrackDrops(fixedDrops(3)))
	require.Error(t, c.TrackDrops(fixedDrops(4)), "second registration collides")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "chanrelay_eventbus_dropped_total 3")
}
