package relay

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"chanrelay/internal/eventbus"
	"chanrelay/internal/storage"
	logx "chanrelay/pkg/logx"
)

// Deps are the collaborators shared by the relay components.
// Zero-valued optional fields fall back to no-op or wall-clock defaults.
type Deps struct {
	Store  storage.Queue
	Bus    eventbus.Bus
	Log    logx.Logger
	Tracer trace.Tracer
	Now    func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Tracer == nil {
		d.Tracer = otel.Tracer("chanrelay/relay")
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}
