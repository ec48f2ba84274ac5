package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chanrelay/internal/eventbus"
	logx "chanrelay/pkg/logx"
)

const sweepTimeout = time.Minute

// Retention purges queue entries older than the retention period once a day.
type Retention struct {
	settings Settings
	deps     Deps
	log      logx.Logger
	spec     string

	mu sync.Mutex
	c  *cron.Cron
}

func NewRetention(settings Settings, deps Deps) (*Retention, error) {
	h, m, err := parseHHMM(settings.RetentionAt)
	if err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &Retention{
		settings: settings,
		deps:     deps,
		log:      deps.Log.With(logx.String("comp", "relay.retention")),
		spec:     fmt.Sprintf("%d %d * * *", m, h),
	}, nil
}

// Start registers the daily sweep. Sweeps run with a context derived from ctx.
func (r *Retention) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	loc := r.settings.location()
	c := cron.New(cron.WithLocation(loc))
	id, err := c.AddFunc(r.spec, func() {
		sctx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := r.Sweep(sctx); err != nil {
			r.log.Error("retention sweep failed", logx.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register retention job: %w", err)
	}
	c.Start()
	r.c = c
	r.log.Info("retention scheduled",
		logx.String("at", r.settings.RetentionAt),
		logx.String("tz", loc.String()),
		logx.Duration("period", r.settings.RetentionPeriod),
		logx.Time("next", c.Entry(id).Next),
	)
	return nil
}

// Stop unregisters the job and waits for a running sweep, bounded by ctx.
func (r *Retention) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep deletes every entry created at or before now-RetentionPeriod.
func (r *Retention) Sweep(ctx context.Context) (int64, error) {
	cutoff := r.deps.Now().Add(-r.settings.RetentionPeriod)
	n, err := r.deps.Store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	r.log.Info("retention sweep done", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	r.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypePurged, Data: eventbus.Purge{Removed: n, Cutoff: cutoff}})
	return n, nil
}
