package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"referbot/internal/bot"
	"referbot/internal/broadcast"
	"referbot/internal/config"
	"referbot/internal/referral"
	"referbot/internal/scheduler"
	"referbot/internal/storage"
	"referbot/internal/transport/telegram/router"
	logx "referbot/pkg/logx"
)

const defaultStorePath = "./users.db"

// validate is the config manager hook: a reload that fails here is rejected
// and the previous config stays live.
func validate(_ context.Context, cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	var errs []error
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}
	if at := strings.TrimSpace(cfg.Broadcast.DailyAt); at != "" {
		if err := scheduler.ValidateDaily(at); err != nil {
			errs = append(errs, fmt.Errorf("broadcast.daily_at: %w", err))
		}
	}
	if spec := strings.TrimSpace(cfg.Broadcast.Schedule); spec != "" {
		if _, err := scheduler.ParseSchedule(spec); err != nil {
			errs = append(errs, fmt.Errorf("broadcast.schedule: %w", err))
		}
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			errs = append(errs, fmt.Errorf("telegram.group_log: invalid chat id %q", g))
		}
	}
	return errors.Join(errs...)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled:    l.File.Enabled,
			Path:       l.File.Path,
			MaxSizeMB:  l.File.MaxSizeMB,
			MaxBackups: l.File.MaxBackups,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// groupLogTarget returns the Telegram log chat, 0 when unset.
func groupLogTarget(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if driver == "none" {
		return storage.Config{}, errors.New("storage.driver: the bot needs a user store (use sqlite)")
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = defaultStorePath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	b := cfg.Broadcast
	def := broadcast.DefaultPolicy()
	base, err := config.ParseDurationOrDefault("broadcast.base_delay", b.BaseDelay, def.BaseDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	pacing, err := config.ParseDurationOrDefault("broadcast.pacing", b.Pacing, def.Pacing)
	if err != nil {
		return broadcast.Config{}, err
	}
	reset, err := config.ParseDurationOrDefault("broadcast.breaker.reset_timeout", b.Breaker.ResetTimeout, 30*time.Second)
	if err != nil {
		return broadcast.Config{}, err
	}
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = def.MaxAttempts
	}
	threshold := b.Breaker.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	return broadcast.Config{
		Enabled:  b.Enabled,
		DailyAt:  strings.TrimSpace(b.DailyAt),
		Schedule: strings.TrimSpace(b.Schedule),
		Policy:   broadcast.Policy{MaxAttempts: attempts, BaseDelay: base, Pacing: pacing},
		Breaker: broadcast.BreakerConfig{
			Enabled:          b.Breaker.Enabled,
			Name:             "telegram.send",
			FailureThreshold: threshold,
			ResetTimeout:     reset,
		},
	}, nil
}

func mapRouterConfig(cfg *config.Config) (router.Config, error) {
	c := cfg.Commands
	timeout, err := config.ParseDurationOrDefault("commands.timeout", c.Timeout, 15*time.Second)
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{Workers: c.Workers, Timeout: timeout, RatePerSec: c.RatePerSec, Burst: c.Burst}, nil
}

func mapReferralConfig(cfg *config.Config) referral.Config {
	return referral.Config{Level1Bonus: cfg.Referral.Level1Bonus, Level2Bonus: cfg.Referral.Level2Bonus}
}

func mapContent(cfg *config.Config) bot.Content {
	c := cfg.Content
	return bot.Content{BotTitle: c.BotTitle, ChannelURL: c.ChannelURL, Contact: c.Contact, Tips: c.Tips}
}
