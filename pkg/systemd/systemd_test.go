package systemd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	logx "chanrelay/pkg/logx"
)

func TestNotifierOutsideSystemdIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	t.Setenv("WATCHDOG_USEC", "")
	n := New(logx.Nop())

	assert.NotPanics(t, func() {
		n.Ready()
		n.Status("relaying")
		n.Stopping()
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("Watchdog should return at once without WATCHDOG_USEC")
	}
}
