package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "100ms", "1s", "2m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Referral  ReferralConfig  `json:"referral"`
	Content   ContentConfig   `json:"content"`
	Commands  CommandsConfig  `json:"commands"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through the BOT_TOKEN environment variable.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	GroupLog     string  `json:"group_log"`
	PollTimeout  string  `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the user store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./users.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`
	// Trigger timezone (IANA, e.g. "Africa/Lagos"). Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// BroadcastConfig controls the daily broadcast and its delivery policy.
//
// Defaults (when fields are omitted/zero):
//   - daily_at: "09:00"
//   - max_attempts: 3
//   - base_delay: "1s"
//   - pacing: "100ms"
type BroadcastConfig struct {
	Enabled bool   `json:"enabled"`
	DailyAt string `json:"daily_at,omitempty"`
	// Schedule overrides DailyAt with a cron expression or interval (see scheduler.ParseSchedule).
	Schedule    string        `json:"schedule,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	BaseDelay   string        `json:"base_delay,omitempty"`
	Pacing      string        `json:"pacing,omitempty"`
	Breaker     BreakerConfig `json:"breaker"`
}

// BreakerConfig guards the Telegram send path with a circuit breaker.
type BreakerConfig struct {
	Enabled          bool   `json:"enabled"`
	FailureThreshold int    `json:"failure_threshold,omitempty"`
	ResetTimeout     string `json:"reset_timeout,omitempty"`
}

type ReferralConfig struct {
	Level1Bonus float64 `json:"level1_bonus,omitempty"`
	Level2Bonus float64 `json:"level2_bonus,omitempty"`
}

type ContentConfig struct {
	BotTitle   string   `json:"bot_title,omitempty"`
	ChannelURL string   `json:"channel_url,omitempty"`
	Contact    string   `json:"contact,omitempty"`
	Tips       []string `json:"tips,omitempty"`
}

// CommandsConfig controls the update dispatcher.
type CommandsConfig struct {
	Workers    int     `json:"workers,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}
