package config

import (
	"errors"
	"fmt"
	"strings"
)

// MaxBroadcastAttempts caps broadcast.max_attempts.
const MaxBroadcastAttempts = 10

var ErrMissingToken = errors.New("telegram.token is empty (set it in the config or " + TokenEnv + ")")

// Validate checks fields that can be verified without touching the network or disk.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return ErrMissingToken
	}

	var errs []error
	if err := validateDurations(cfg); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver))
	}
	if cfg.Broadcast.MaxAttempts < 0 || cfg.Broadcast.MaxAttempts > MaxBroadcastAttempts {
		errs = append(errs, fmt.Errorf("broadcast.max_attempts must be between 0 and %d", MaxBroadcastAttempts))
	}
	if cfg.Broadcast.Breaker.FailureThreshold < 0 {
		errs = append(errs, errors.New("broadcast.breaker.failure_threshold must be >= 0"))
	}
	if cfg.Commands.Workers < 0 || cfg.Commands.Burst < 0 || cfg.Commands.RatePerSec < 0 {
		errs = append(errs, errors.New("commands: workers, burst and rate_per_sec must be >= 0"))
	}
	if cfg.Referral.Level1Bonus < 0 || cfg.Referral.Level2Bonus < 0 {
		errs = append(errs, errors.New("referral bonuses must be >= 0"))
	}
	return errors.Join(errs...)
}
