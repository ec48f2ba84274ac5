package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks fields that do not need the relay package to interpret.
// Cross-field relay rules are checked by relay.Settings.Validate.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required (or set BOT_TOKEN)"))
	}
	for path, raw := range map[string]string{
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"telegram.request_timeout":    cfg.Telegram.RequestTimeout,
		"relay.delay":                 cfg.Relay.Delay,
		"relay.poll_interval":         cfg.Relay.PollInterval,
		"relay.warmup":                cfg.Relay.Warmup,
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"observability.read_timeout":  cfg.Observability.ReadTimeout,
		"observability.write_timeout": cfg.Observability.WriteTimeout,
		"observability.idle_timeout":  cfg.Observability.IdleTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path is required when storage.driver=sqlite"))
		}
	case "memory":
	default:
		add(fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver))
	}
	if cfg.Retention.PeriodDays <= 0 {
		add(fmt.Errorf("retention.period_days must be > 0 (got %d)", cfg.Retention.PeriodDays))
	}
	if tz := strings.TrimSpace(cfg.Retention.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("retention.timezone: invalid %q: %w", tz, err))
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Tracing.Exporter)) {
	case "", "stdout", "otlp":
	default:
		add(fmt.Errorf("unknown tracing.exporter: %s", cfg.Tracing.Exporter))
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		add(fmt.Errorf("tracing.sample_rate must be within [0,1] (got %v)", cfg.Tracing.SampleRate))
	}
	return errors.Join(errs...)
}
