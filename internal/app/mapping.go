package app

import (
	"fmt"
	"strings"
	"time"

	"chanrelay/internal/config"
	"chanrelay/internal/observability"
	"chanrelay/internal/relay"
	"chanrelay/internal/storage"
	"chanrelay/internal/tracing"
	"chanrelay/internal/transport"
	logx "chanrelay/pkg/logx"
)

// MapStorageConfig converts the storage section to storage.Config.
func MapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	case "", "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapRelaySettings(cfg *config.Config) (relay.Settings, error) {
	s := relay.DefaultSettings()
	rc := cfg.Relay
	var err error
	if s.Delay, err = durationOr("relay.delay", rc.Delay, s.Delay); err != nil {
		return relay.Settings{}, err
	}
	if s.PollInterval, err = durationOr("relay.poll_interval", rc.PollInterval, s.PollInterval); err != nil {
		return relay.Settings{}, err
	}
	if s.Warmup, err = durationOr("relay.warmup", rc.Warmup, s.Warmup); err != nil {
		return relay.Settings{}, err
	}
	s.Source = rc.SourceChannel
	s.Target = rc.TargetChannel
	if rc.BatchSize != 0 {
		s.BatchSize = rc.BatchSize
	}
	if m := strings.ToLower(strings.TrimSpace(rc.Mode)); m != "" {
		s.Mode = transport.RelayMode(m)
	}
	s.KeepForwarded = rc.KeepForwarded
	s.RatePerSec = rc.RatePerSec
	s.RetentionPeriod = time.Duration(cfg.Retention.PeriodDays) * 24 * time.Hour
	if at := strings.TrimSpace(cfg.Retention.At); at != "" {
		s.RetentionAt = at
	}
	s.Timezone = strings.TrimSpace(cfg.Retention.Timezone)
	return s, s.Validate()
}

// durationOr keeps an explicit "0s" (a zero delay is valid) and falls back to def only when raw is empty.
func durationOr(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return config.ParseDurationField(path, raw)
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	oc := cfg.Observability
	read, err := config.ParseDurationOrDefault("observability.read_timeout", oc.ReadTimeout, 10*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	// WriteTimeout stays 0 unless set so /debug/pprof/profile (30s+) works.
	write, err := config.ParseDurationField("observability.write_timeout", oc.WriteTimeout)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", oc.IdleTimeout, time.Minute)
	if err != nil {
		return observability.Config{}, err
	}
	return observability.Config{
		Enabled:       oc.Enabled,
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapTracingConfig(cfg *config.Config, version string) tracing.Config {
	tc := cfg.Tracing
	return tracing.Config{
		Enabled:     tc.Enabled,
		Exporter:    tc.Exporter,
		Endpoint:    tc.Endpoint,
		Insecure:    tc.Insecure,
		SampleRate:  tc.SampleRate,
		ServiceName: tc.ServiceName,
		Version:     version,
	}
}
