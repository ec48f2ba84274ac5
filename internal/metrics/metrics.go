// Package metrics exposes relay pipeline counters and queue gauges to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chanrelay/internal/eventbus"
	"chanrelay/internal/storage"
	logx "chanrelay/pkg/logx"
)

type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	Enqueued    prometheus.Counter
	Delivered   *prometheus.CounterVec
	Failed      *prometheus.CounterVec
	TickSkipped prometheus.Counter
	Purged      prometheus.Counter
	Latency     prometheus.Histogram

	QueueDepth      *prometheus.GaugeVec
	OldestAge       prometheus.Gauge
	NextDueIn       prometheus.Gauge
	LastRefreshFail prometheus.Gauge
}

func New(log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		reg: prometheus.NewRegistry(),
		log: log,
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chanrelay_enqueued_total",
			Help: "Source posts queued for delayed relay",
		}),
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chanrelay_delivered_total",
			Help: "Posts relayed to the target channel",
		}, []string{"mode"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chanrelay_failed_total",
			Help: "Relay attempts that failed and were dropped",
		}, []string{"reason"}),
		TickSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chanrelay_tick_skipped_total",
			Help: "Delivery ticks skipped because the previous tick was still running",
		}),
		Purged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chanrelay_retention_purged_total",
			Help: "Queue entries removed by the retention sweep",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chanrelay_relay_duration_seconds",
			Help:    "Duration of a single relay attempt",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chanrelay_queue_entries",
			Help: "Queue entries by status",
		}, []string{"status"}),
		OldestAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chanrelay_queue_oldest_age_seconds",
			Help: "Age of the oldest queue entry (0 when empty)",
		}),
		NextDueIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chanrelay_queue_next_due_seconds",
			Help: "Seconds until the next pending entry is due; negative when overdue",
		}),
		LastRefreshFail: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chanrelay_queue_stats_error",
			Help: "1 if the last queue stats refresh failed",
		}),
	}
	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Enqueued, c.Delivered, c.Failed, c.TickSkipped, c.Purged, c.Latency,
		c.QueueDepth, c.OldestAge, c.NextDueIn, c.LastRefreshFail,
	)
	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// TrackDrops exports the bus drop count as chanrelay_eventbus_dropped_total.
func (c *Collector) TrackDrops(d eventbus.DropCounter) error {
	return c.reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "chanrelay_eventbus_dropped_total",
		Help: "Pipeline events dropped because a subscriber was slow",
	}, func() float64 { return float64(d.Dropped()) }))
}

// Observe updates counters from a relay pipeline event.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeEnqueued:
		c.Enqueued.Inc()
	case eventbus.TypeDelivered:
		r, _ := e.Data.(eventbus.Relay)
		c.Delivered.WithLabelValues(r.Mode).Inc()
		c.Latency.Observe(r.Latency.Seconds())
	case eventbus.TypeFailed:
		r, _ := e.Data.(eventbus.Relay)
		c.Failed.WithLabelValues(r.Reason).Inc()
		c.Latency.Observe(r.Latency.Seconds())
	case eventbus.TypeTickSkipped:
		c.TickSkipped.Inc()
	case eventbus.TypePurged:
		p, _ := e.Data.(eventbus.Purge)
		c.Purged.Add(float64(p.Removed))
	}
}

// Refresh samples queue gauges from the store.
func (c *Collector) Refresh(ctx context.Context, q storage.Queue, now time.Time) error {
	st, err := q.Stats(ctx)
	if err != nil {
		c.LastRefreshFail.Set(1)
		return err
	}
	c.LastRefreshFail.Set(0)
	c.QueueDepth.WithLabelValues(string(storage.StatusPending)).Set(float64(st.Pending))
	c.QueueDepth.WithLabelValues(string(storage.StatusForwarded)).Set(float64(st.Forwarded))
	if st.OldestCreatedAt.IsZero() {
		c.OldestAge.Set(0)
	} else {
		c.OldestAge.Set(now.Sub(st.OldestCreatedAt).Seconds())
	}
	if st.NextDueAt.IsZero() {
		c.NextDueIn.Set(0)
	} else {
		c.NextDueIn.Set(st.NextDueAt.Sub(now).Seconds())
	}
	return nil
}

// Run consumes bus events and refreshes queue gauges every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus, q storage.Queue, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	events, unsub := bus.Subscribe(256)
	defer unsub()

	refresh := func() {
		if q == nil {
			return
		}
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.Refresh(rctx, q, time.Now()); err != nil && ctx.Err() == nil {
			c.log.Warn("queue stats refresh failed", logx.Err(err))
		}
	}
	refresh()

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			c.Observe(e)
		case <-t.C:
			refresh()
		}
	}
}
