package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chanrelay/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging. Secrets (bot token, observability token)
// are only reported as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		strings.TrimSpace(oldCfg.Telegram.RequestTimeout) != strings.TrimSpace(newCfg.Telegram.RequestTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.String("telegram.request_timeout", strings.TrimSpace(newCfg.Telegram.RequestTimeout)),
		)
	}

	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		r := newCfg.Relay
		attrs = append(attrs,
			logx.Int64("relay.source_channel", r.SourceChannel),
			logx.Int64("relay.target_channel", r.TargetChannel),
			logx.String("relay.delay", r.Delay),
			logx.String("relay.poll_interval", r.PollInterval),
			logx.Int("relay.batch_size", r.BatchSize),
			logx.String("relay.mode", r.Mode),
			logx.Bool("relay.keep_forwarded", r.KeepForwarded),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	if oldCfg.Retention != newCfg.Retention {
		changed = append(changed, "retention")
		attrs = append(attrs,
			logx.Int("retention.period_days", newCfg.Retention.PeriodDays),
			logx.String("retention.at", newCfg.Retention.At),
			logx.String("retention.timezone", newCfg.Retention.Timezone),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	o, n := oldCfg.Observability, newCfg.Observability
	if o != n {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", n.Enabled),
			logx.String("observability.addr", strings.TrimSpace(n.Addr)),
			logx.Bool("observability.pprof", n.Pprof),
			logx.Bool("observability.token_set", strings.TrimSpace(n.Token) != ""),
		)
	}

	if oldCfg.Tracing != newCfg.Tracing {
		changed = append(changed, "tracing")
		attrs = append(attrs,
			logx.Bool("tracing.enabled", newCfg.Tracing.Enabled),
			logx.String("tracing.exporter", newCfg.Tracing.Exporter),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// HotSections are the sections applied without a restart.
var HotSections = map[string]bool{"logging": true}

// RestartRequired lists the changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !HotSections[s] {
			out = append(out, s)
		}
	}
	return out
}
