package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"chanrelay/internal/eventbus"
	"chanrelay/internal/storage"
	"chanrelay/internal/transport"
	logx "chanrelay/pkg/logx"
)

// Outcome is the result of one relay attempt.
type Outcome string

const (
	OutcomeDelivered     Outcome = "delivered"
	OutcomeSourceMissing Outcome = "source_missing"
	OutcomeFailed        Outcome = "transport"
	OutcomePanic         Outcome = "panic"
	// OutcomeSkipped means no attempt was made (shutdown before the call);
	// the entry stays pending.
	OutcomeSkipped Outcome = "skipped"
)

// Executor performs exactly one relay attempt per entry and then removes it.
type Executor struct {
	settings Settings
	deps     Deps
	relayer  transport.Relayer
	limiter  *rate.Limiter
	log      logx.Logger
}

func NewExecutor(settings Settings, relayer transport.Relayer, deps Deps) *Executor {
	deps = deps.withDefaults()
	e := &Executor{
		settings: settings,
		deps:     deps,
		relayer:  relayer,
		log:      deps.Log.With(logx.String("comp", "relay.executor")),
	}
	if settings.RatePerSec > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(settings.RatePerSec), 1)
	}
	return e
}

// Relay copies or forwards entry to the target channel. Relay errors are
// logged here and never returned. Once the transport has been called the
// entry is removed on every exit path, panics included, unless the relay
// succeeded and KeepForwarded is set.
func (e *Executor) Relay(ctx context.Context, entry storage.Entry) (out Outcome) {
	id := entry.MessageID
	log := e.log.With(logx.Int64("message_id", id), logx.String("mode", string(e.settings.Mode)))
	ctx, span := e.deps.Tracer.Start(ctx, "relay.entry", trace.WithAttributes(
		attribute.Int64("relay.message_id", id),
		attribute.String("relay.mode", string(e.settings.Mode)),
	))
	// Cleanup must finish even while the caller is shutting down.
	cleanupCtx := context.WithoutCancel(ctx)
	start := e.deps.Now()
	remove := false

	defer func() {
		if r := recover(); r != nil {
			out = OutcomePanic
			remove = true
			log.Error("relay panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			e.publishFailed(id, OutcomePanic, start)
		}
		if remove {
			if _, err := e.deps.Store.Remove(cleanupCtx, id); err != nil {
				log.Error("remove queue entry failed", logx.Err(err))
				span.RecordError(err)
			}
		}
		span.SetAttributes(attribute.String("relay.outcome", string(out)))
		span.End()
	}()

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			log.Debug("relay deferred", logx.Err(err))
			return OutcomeSkipped
		}
	}
	if err := ctx.Err(); err != nil {
		return OutcomeSkipped
	}

	remove = true
	targetID, err := e.send(ctx, id)
	switch {
	case err == nil:
		if mErr := e.deps.Store.MarkForwarded(cleanupCtx, id, targetID); mErr != nil {
			log.Error("mark forwarded failed", logx.Int64("target_message_id", targetID), logx.Err(mErr))
		} else if e.settings.KeepForwarded {
			remove = false
		}
		log.Info("post relayed", logx.Int64("target_message_id", targetID), logx.Duration("lag", e.deps.Now().Sub(entry.ScheduledAt)))
		e.deps.Bus.Publish(eventbus.Event{
			Type: eventbus.TypeDelivered,
			Data: eventbus.Relay{MessageID: id, TargetMessageID: targetID, Mode: string(e.settings.Mode), Latency: e.deps.Now().Sub(start)},
		})
		return OutcomeDelivered
	case errors.Is(err, transport.ErrSourceMissing):
		log.Error("source post missing, dropping", logx.Err(err))
		span.RecordError(err)
		e.publishFailed(id, OutcomeSourceMissing, start)
		return OutcomeSourceMissing
	default:
		log.Error("relay failed, dropping", logx.Err(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.publishFailed(id, OutcomeFailed, start)
		return OutcomeFailed
	}
}

func (e *Executor) send(ctx context.Context, id int64) (int64, error) {
	if e.settings.Mode == transport.ModeForward {
		return e.relayer.ForwardItem(ctx, e.settings.Target, e.settings.Source, id)
	}
	return e.relayer.CopyItem(ctx, e.settings.Target, e.settings.Source, id)
}

func (e *Executor) publishFailed(id int64, reason Outcome, start time.Time) {
	e.deps.Bus.Publish(eventbus.Event{
		Type: eventbus.TypeFailed,
		Data: eventbus.Relay{MessageID: id, Mode: string(e.settings.Mode), Reason: string(reason), Latency: e.deps.Now().Sub(start)},
	})
}
