package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative Go duration; "" is zero.
// path names the config key in the error.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for "" and zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// secondsOrDuration normalizes "10" (seconds) or "1m30s" to a Go duration string.
func secondsOrDuration(name, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil {
		if _, err := ParseDurationField(name, raw); err != nil {
			return "", err
		}
		return raw, nil
	}
	if n < 0 {
		return "", fmt.Errorf("%s: negative seconds %d", name, n)
	}
	return (time.Duration(n) * time.Second).String(), nil
}
