package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "chanrelay/pkg/logx"
)

const (
	watchDebounce   = 250 * time.Millisecond
	watchRetryMin   = 250 * time.Millisecond
	watchRetryMax   = 5 * time.Second
	validateTimeout = 5 * time.Second
)

const watchedOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config when its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file by rename
// are seen. A broken watcher is recreated with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}
	retry := watchRetryMin
	for ctx.Err() == nil {
		err := m.watchOnce(ctx)
		if ctx.Err() != nil {
			break
		}
		m.log.Warn("config watcher stopped; restarting", logx.String("path", m.path), logx.Duration("backoff", retry), logx.Err(err))
		select {
		case <-ctx.Done():
		case <-time.After(retry):
		}
		retry = min(retry*2, watchRetryMax)
	}
	return nil
}

// watchOnce runs one fsnotify watcher until ctx ends or the watcher breaks.
func (m *ConfigManager) watchOnce(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if ev.Op&watchedOps != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				debounce.Reset(watchDebounce)
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				// Events were lost; re-read to be safe.
				debounce.Reset(watchDebounce)
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(werr))
		case <-debounce.C:
			vctx, cancel := context.WithTimeout(ctx, validateTimeout)
			m.reload(vctx)
			cancel()
		}
	}
}
