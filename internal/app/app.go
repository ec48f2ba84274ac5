package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chanrelay/internal/config"
	"chanrelay/internal/eventbus"
	"chanrelay/internal/metrics"
	"chanrelay/internal/observability"
	"chanrelay/internal/relay"
	"chanrelay/internal/runtime/supervisor"
	"chanrelay/internal/storage"
	"chanrelay/internal/tracing"
	"chanrelay/internal/transport"
	telegram "chanrelay/internal/transport/telegram/adapter"
	logx "chanrelay/pkg/logx"
	"chanrelay/pkg/systemd"
)

// Greeting is the reply to /start.
const Greeting = "Bot started successfully!"

// drainSlack is added to the request timeout when waiting for an in-flight relay.
const drainSlack = 5 * time.Second

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Queue

	adapter   transport.Adapter
	listener  *relay.Listener
	sched     *relay.Scheduler
	retention *relay.Retention

	metrics *metrics.Collector
	obs     *observability.Server
	tracing *tracing.Manager
	sd      *systemd.Notifier

	updates chan transport.Update

	// delivered is closed when the delivery loop returns; nil until Start launches it.
	delivered    chan struct{}
	drainTimeout time.Duration
}

type options struct {
	adapter transport.Adapter
	version string
}

type Option func(*options)

// WithAdapter replaces the Telegram adapter (tests, dry runs).
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

func WithVersion(v string) Option { return func(o *options) { o.version = v } }

func NewApp(cfgm *config.ConfigManager, opts ...Option) (*App, error) {
	o := options{version: "dev"}
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	settings, err := mapRelaySettings(cfg)
	if err != nil {
		return nil, err
	}
	storeCfg, err := MapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	obsCfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		return nil, err
	}

	requestTimeout, err := config.ParseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, time.Minute)
	if err != nil {
		return nil, err
	}

	ad := o.adapter
	if ad == nil {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{
			Token:          cfg.Telegram.Token,
			PollTimeout:    pollTimeout,
			RequestTimeout: requestTimeout,
		}, bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), ad)
	appLog := log.With(logx.String("comp", "app"))

	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}

	trc := tracing.New(mapTracingConfig(cfg, o.version), log.With(logx.String("comp", "tracing")))
	bus := eventbus.New()
	deps := relay.Deps{
		Store:  store,
		Bus:    bus,
		Log:    log,
		Tracer: trc.Tracer("chanrelay/relay"),
	}
	exec := relay.NewExecutor(settings, ad, deps)
	retention, err := relay.NewRetention(settings, deps)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	mc := metrics.New(log.With(logx.String("comp", "metrics")))
	if dc, ok := bus.(eventbus.DropCounter); ok {
		if err := mc.TrackDrops(dc); err != nil {
			appLog.Warn("eventbus drop metric not registered", logx.Err(err))
		}
	}
	obs := observability.New(obsCfg, mc.Handler(), log.With(logx.String("comp", "observability")))
	obs.AddCheck("store", func(ctx context.Context) error {
		_, err := store.Stats(ctx)
		return err
	})

	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		store:     store,
		adapter:   ad,
		listener:  relay.NewListener(settings, deps),
		sched:     relay.NewScheduler(settings, exec, deps),
		retention: retention,
		metrics:   mc,
		obs:       obs,
		tracing:   trc,
		sd:        systemd.New(log.With(logx.String("comp", "systemd"))),
		updates:   make(chan transport.Update, 256),

		drainTimeout: requestTimeout + drainSlack,
	}
	obs.AddCheck("supervisor", func(context.Context) error { return a.Err() })

	appLog.Info("relay configured",
		logx.Int64("source", settings.Source),
		logx.Int64("target", settings.Target),
		logx.Duration("delay", settings.Delay),
		logx.Duration("poll_interval", settings.PollInterval),
		logx.Int("batch_size", settings.BatchSize),
		logx.String("mode", string(settings.Mode)),
		logx.Bool("keep_forwarded", settings.KeepForwarded),
		logx.Duration("retention", settings.RetentionPeriod),
		logx.String("storage", storeCfg.Driver),
		logx.String("config", cfgm.Path()),
		logx.Bool("observability", obs.Enabled()),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	if err := a.tracing.Init(runCtx); err != nil {
		a.log.Warn("tracing init failed; continuing without spans", logx.Err(err))
	}

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapRelaySettings(cfg)
		return err
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		return err
	}
	a.sup.Go("updates.dispatch", a.dispatchLoop)
	a.delivered = make(chan struct{})
	a.sup.Go("relay.delivery", func(c context.Context) error {
		defer close(a.delivered)
		return a.sched.Run(c)
	})
	if err := a.retention.Start(runCtx); err != nil {
		return err
	}
	a.sup.Go0("metrics.collect", func(c context.Context) {
		a.metrics.Run(c, a.bus, a.store, 15*time.Second)
	})
	a.obs.Start(runCtx)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				if !a.log.Enabled(logx.LevelTrace) {
					continue
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.sup.Go0("systemd.watchdog", a.sd.Watchdog)
	a.sd.Ready()
	a.log.Info("app started")
	return nil
}

func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up := <-a.updates:
			a.handleUpdate(ctx, up)
		}
	}
}

func (a *App) handleUpdate(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateChannelPost:
		if up.Post == nil {
			return
		}
		if err := a.listener.HandlePost(ctx, *up.Post); err != nil {
			a.log.Error("enqueue failed", logx.Int64("message_id", up.Post.MessageID), logx.Err(err))
		}
	case transport.UpdateMessage:
		if up.Message == nil || !isStartCommand(up.Message.Text) {
			return
		}
		if err := a.adapter.Reply(ctx, *up.Message, Greeting); err != nil {
			a.log.Warn("greeting reply failed", logx.Int64("chat_id", up.Message.ChatID), logx.Err(err))
		}
	}
}

// isStartCommand matches "/start", "/start@bot" and "/start payload".
func isStartCommand(text string) bool {
	f := strings.Fields(text)
	if len(f) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(f[0], "@")
	return strings.EqualFold(cmd, "/start")
}

func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			if restart := config.RestartRequired(sections); len(restart) > 0 {
				a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(restart, ",")))
			}
			a.logs.Apply(mapLoggingConfig(newCfg))
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.Stopping()

	// Cancel the run context first so loops start unwinding; the delivery loop
	// finishes the entry it is relaying.
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.runStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	// A relay already handed to Telegram must reach its queue cleanup, so the
	// drain is bounded by the request timeout rather than the caller's deadline.
	if err := a.runStep(context.WithoutCancel(ctx), "relay.drain", a.drainTimeout, a.waitDelivery); err != nil {
		errs = append(errs, fmt.Errorf("relay.drain: %w", err))
	}

	step("retention", 2*time.Second, a.retention.Stop)
	step("adapter", 3*time.Second, a.adapter.Stop)
	step("observability", time.Second, a.obs.Stop)
	step("supervisor", 5*time.Second, a.sup.Wait)
	step("tracing", 5*time.Second, a.tracing.Shutdown)
	if a.deliveryFinished() {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	} else {
		a.log.Error("delivery still in flight, leaving queue open")
		errs = append(errs, errors.New("storage: delivery still in flight, queue left open"))
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return errors.Join(errs...)
}

func (a *App) waitDelivery(ctx context.Context) error {
	if a.delivered == nil {
		return nil
	}
	select {
	case <-a.delivered:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) deliveryFinished() bool {
	if a.delivered == nil {
		return true
	}
	select {
	case <-a.delivered:
		return true
	default:
		return false
	}
}

// runStep runs one shutdown step bounded by max so one component can't stall the whole stop.
func (a *App) runStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return context.DeadlineExceeded
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return err
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		return stepCtx.Err()
	}
}
