package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override the config file.
const (
	EnvBotToken        = "BOT_TOKEN"
	EnvSourceChannel   = "SOURCE_CHANNEL"
	EnvTargetChannel   = "TARGET_CHANNEL"
	EnvDBLocation      = "DB_LOCATION"
	EnvDelay           = "DELAY"
	EnvPolling         = "POLLING"
	EnvCopyMessage     = "COPY_MESSAGE"
	EnvRetentionPeriod = "RETENTION_PERIOD"
	EnvBatchSize       = "BATCH_SIZE"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding ones already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with any variables present in lookup.
// DELAY and POLLING accept whole seconds or Go durations; RETENTION_PERIOD is in days.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	var errs []error
	if v, ok := get(EnvBotToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvSourceChannel); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvSourceChannel, err))
		}
		cfg.Relay.SourceChannel = id
	}
	if v, ok := get(EnvTargetChannel); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvTargetChannel, err))
		}
		cfg.Relay.TargetChannel = id
	}
	if v, ok := get(EnvDBLocation); ok {
		cfg.Storage.Path = v
		if strings.TrimSpace(cfg.Storage.Driver) == "" || strings.EqualFold(cfg.Storage.Driver, "memory") {
			cfg.Storage.Driver = "sqlite"
		}
	}
	if v, ok := get(EnvDelay); ok {
		d, err := secondsOrDuration(EnvDelay, v)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Relay.Delay = d
	}
	if v, ok := get(EnvPolling); ok {
		d, err := secondsOrDuration(EnvPolling, v)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.Relay.PollInterval = d
	}
	if v, ok := get(EnvCopyMessage); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvCopyMessage, err))
		} else if b {
			cfg.Relay.Mode = "copy"
		} else {
			cfg.Relay.Mode = "forward"
		}
	}
	if v, ok := get(EnvRetentionPeriod); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvRetentionPeriod, err))
		}
		cfg.Retention.PeriodDays = n
	}
	if v, ok := get(EnvBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvBatchSize, err))
		}
		cfg.Relay.BatchSize = n
	}
	return errors.Join(errs...)
}
