package config

// Config is the on-disk configuration (JSON or YAML). Every field can be
// omitted; Default fills the gaps and environment variables override the file.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Relay         RelayConfig         `json:"relay"`
	Storage       StorageConfig       `json:"storage"`
	Retention     RetentionConfig     `json:"retention"`
	Logging       LoggingConfig       `json:"logging"`
	Observability ObservabilityConfig `json:"observability,omitempty"`
	Tracing       TracingConfig       `json:"tracing,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// RequestTimeout bounds every Bot API call. Shutdown waits this long for an in-flight relay.
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// RelayConfig controls the delayed relay pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - delay: "10s"
//   - poll_interval: "5s"
//   - warmup: "10s"
//   - batch_size: 10
//   - mode: "copy"
type RelayConfig struct {
	SourceChannel int64  `json:"source_channel"`
	TargetChannel int64  `json:"target_channel"`
	Delay         string `json:"delay,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	Warmup        string `json:"warmup,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	// Mode is "copy" (no attribution) or "forward".
	Mode string `json:"mode,omitempty"`
	// KeepForwarded leaves delivered entries in the queue until retention purges them.
	KeepForwarded bool    `json:"keep_forwarded,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
}

// StorageConfig selects the queue backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "/data/messages.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RetentionConfig controls the daily purge of stale queue entries.
type RetentionConfig struct {
	PeriodDays int `json:"period_days"`
	// At is the daily sweep time as "HH:MM".
	At string `json:"at,omitempty"`
	// Timezone is an IANA name for At; empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ObservabilityConfig controls the debug HTTP server (/metrics, /healthz, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool `json:"enabled"`
	// Exporter is "stdout" or "otlp".
	Exporter    string  `json:"exporter,omitempty"`
	Endpoint    string  `json:"endpoint,omitempty"` // otlp http endpoint, host:port
	Insecure    bool    `json:"insecure,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
}

// Default returns the configuration used when neither file nor environment
// set a value.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s", RequestTimeout: "60s"},
		Relay: RelayConfig{
			Delay:        "10s",
			PollInterval: "5s",
			Warmup:       "10s",
			BatchSize:    10,
			Mode:         "copy",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "/data/messages.db",
		},
		Retention: RetentionConfig{PeriodDays: 7, At: "00:00"},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Observability: ObservabilityConfig{Addr: "127.0.0.1:9090"},
		Tracing:       TracingConfig{Exporter: "stdout", SampleRate: 1},
	}
}
