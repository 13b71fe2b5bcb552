package config

import (
	"reflect"
	"sort"
	"strings"

	logx "referbot/pkg/logx"
)

// SummarizeConfigChange returns a sorted list of changed sections and safe
// structured attrs for logging. Secrets (the bot token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		ot.Token != nt.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
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

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		b := newCfg.Broadcast
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Bool("broadcast.enabled", b.Enabled),
			logx.String("broadcast.daily_at", b.DailyAt),
			logx.String("broadcast.schedule", b.Schedule),
			logx.Int("broadcast.max_attempts", b.MaxAttempts),
			logx.String("broadcast.base_delay", b.BaseDelay),
			logx.String("broadcast.pacing", b.Pacing),
			logx.Bool("broadcast.breaker_enabled", b.Breaker.Enabled),
		)
	}

	if oldCfg.Referral != newCfg.Referral {
		changed = append(changed, "referral")
		attrs = append(attrs,
			logx.Float64("referral.level1_bonus", newCfg.Referral.Level1Bonus),
			logx.Float64("referral.level2_bonus", newCfg.Referral.Level2Bonus),
		)
	}

	if !reflect.DeepEqual(oldCfg.Content, newCfg.Content) {
		changed = append(changed, "content")
		attrs = append(attrs, logx.Int("content.tips", len(newCfg.Content.Tips)))
	}

	if oldCfg.Commands != newCfg.Commands {
		c := newCfg.Commands
		changed = append(changed, "commands")
		attrs = append(attrs,
			logx.Int("commands.workers", c.Workers),
			logx.String("commands.timeout", c.Timeout),
			logx.Float64("commands.rate_per_sec", c.RatePerSec),
			logx.Int("commands.burst", c.Burst),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
