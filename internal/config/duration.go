package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// durationField is one duration-valued config entry. Max of zero means unbounded.
type durationField struct {
	path string
	raw  string
	max  time.Duration
}

func durationFields(cfg *Config) []durationField {
	return []durationField{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout, 2 * time.Minute},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout, time.Minute},
		{"broadcast.base_delay", cfg.Broadcast.BaseDelay, 5 * time.Minute},
		{"broadcast.pacing", cfg.Broadcast.Pacing, time.Minute},
		{"broadcast.breaker.reset_timeout", cfg.Broadcast.Breaker.ResetTimeout, time.Hour},
		{"commands.timeout", cfg.Commands.Timeout, 0},
	}
}

func validateDurations(cfg *Config) error {
	var errs []error
	for _, f := range durationFields(cfg) {
		d, err := ParseDurationField(f.path, f.raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if f.max > 0 && d > f.max {
			errs = append(errs, fmt.Errorf("%s: %s exceeds %s", f.path, d, f.max))
		}
	}
	return errors.Join(errs...)
}

// ParseDurationField parses a Go duration string. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
