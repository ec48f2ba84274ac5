package relay

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"chanrelay/internal/transport"
)

// Settings is the immutable relay configuration shared by every component.
// It is built once at startup; changing it requires a restart.
type Settings struct {
	Source int64
	Target int64

	Delay        time.Duration
	PollInterval time.Duration
	Warmup       time.Duration
	BatchSize    int

	Mode          transport.RelayMode
	KeepForwarded bool
	// RatePerSec throttles transport calls. 0 disables throttling.
	RatePerSec float64

	RetentionPeriod time.Duration
	// RetentionAt is the daily sweep time, "HH:MM".
	RetentionAt string
	// Timezone is an IANA name for RetentionAt; empty means UTC.
	Timezone string
}

func DefaultSettings() Settings {
	return Settings{
		Delay:           10 * time.Second,
		PollInterval:    5 * time.Second,
		Warmup:          10 * time.Second,
		BatchSize:       10,
		Mode:            transport.ModeCopy,
		RetentionPeriod: 7 * 24 * time.Hour,
		RetentionAt:     "00:00",
	}
}

func (s Settings) Validate() error {
	var errs []error
	if s.Source == 0 {
		errs = append(errs, errors.New("source channel is required"))
	}
	if s.Target == 0 {
		errs = append(errs, errors.New("target channel is required"))
	}
	if s.Source != 0 && s.Source == s.Target {
		errs = append(errs, errors.New("source and target channel must differ"))
	}
	if s.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must be >= 0 (got %s)", s.Delay))
	}
	if s.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be > 0 (got %s)", s.PollInterval))
	}
	if s.Warmup < 0 {
		errs = append(errs, fmt.Errorf("warmup must be >= 0 (got %s)", s.Warmup))
	}
	if s.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size must be > 0 (got %d)", s.BatchSize))
	}
	switch s.Mode {
	case transport.ModeCopy, transport.ModeForward:
	default:
		errs = append(errs, fmt.Errorf("unknown relay mode %q", s.Mode))
	}
	if s.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("rate_per_sec must be >= 0 (got %v)", s.RatePerSec))
	}
	if s.RetentionPeriod <= 0 {
		errs = append(errs, fmt.Errorf("retention period must be > 0 (got %s)", s.RetentionPeriod))
	}
	if _, _, err := parseHHMM(s.RetentionAt); err != nil {
		errs = append(errs, fmt.Errorf("retention time: %w", err))
	}
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("retention timezone: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s Settings) location() *time.Location {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func parseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
