package relay

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chanrelay/internal/eventbus"
	logx "chanrelay/pkg/logx"
)

// Scheduler periodically moves due entries from the queue to the Executor.
type Scheduler struct {
	settings Settings
	deps     Deps
	exec     *Executor
	log      logx.Logger

	inflight atomic.Bool
	skipped  atomic.Uint64
	ticks    atomic.Uint64
}

func NewScheduler(settings Settings, exec *Executor, deps Deps) *Scheduler {
	deps = deps.withDefaults()
	return &Scheduler{
		settings: settings,
		deps:     deps,
		exec:     exec,
		log:      deps.Log.With(logx.String("comp", "relay.scheduler")),
	}
}

// Run waits for the warm-up delay and then ticks every poll interval until
// ctx is done. Ticks run on this goroutine, so they never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("delivery loop starting",
		logx.Duration("warmup", s.settings.Warmup),
		logx.Duration("interval", s.settings.PollInterval),
		logx.Int("batch_size", s.settings.BatchSize),
	)
	if s.settings.Warmup > 0 {
		t := time.NewTimer(s.settings.Warmup)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}

	ticker := time.NewTicker(s.settings.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			s.log.Error("delivery tick failed", logx.Err(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("delivery loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick selects up to BatchSize due entries and relays them in order. It
// returns the number of entries handed to the Executor. A Tick that starts
// while another is running returns (0, nil) without selecting.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	if !s.inflight.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("delivery tick skipped, previous tick still running")
		s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeTickSkipped})
		return 0, nil
	}
	defer s.inflight.Store(false)
	s.ticks.Add(1)

	entries, err := s.deps.Store.SelectDue(ctx, s.deps.Now(), s.settings.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("select due entries: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	log := s.log.With(logx.String("tick_id", uuid.NewString()))
	log.Debug("dispatching batch", logx.Int("size", len(entries)))
	n := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			log.Info("batch interrupted by shutdown", logx.Int("dispatched", n), logx.Int("left", len(entries)-n))
			break
		}
		s.exec.Relay(ctx, entry)
		n++
	}
	return n, nil
}

// Skipped reports how many ticks were dropped because one was in flight.
func (s *Scheduler) Skipped() uint64 { return s.skipped.Load() }

// Ticks reports how many ticks ran a selection.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }
