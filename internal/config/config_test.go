package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
telegram:
  token: "123:abc"
  owner_user_ids: [42]
storage:
  driver: sqlite
  path: ./users.db
broadcast:
  enabled: true
  daily_at: "09:00"
  base_delay: 1s
  pacing: 100ms
  breaker:
    enabled: true
    failure_threshold: 5
referral:
  level1_bonus: 10
  level2_bonus: 2
content:
  tips: ["one", "two"]
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	m := NewConfigManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	assert.Equal(t, "09:00", cfg.Broadcast.DailyAt)
	assert.Equal(t, 5, cfg.Broadcast.Breaker.FailureThreshold)
	assert.Equal(t, 10.0, cfg.Referral.Level1Bonus)
	assert.Equal(t, []string{"one", "two"}, cfg.Content.Tips)
	assert.Same(t, cfg, m.Get())
	require.NoError(t, Validate(cfg))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	_, err := Decode("config.json", []byte(`{"telegram":{"token":"x"},"pprof":{}}`))
	require.Error(t, err)

	_, err = Decode("config.json", []byte(`{"telegram":{"token":"x"}} {}`))
	require.Error(t, err)
}

func TestDecodeYAMLRejectsUnknownFields(t *testing.T) {
	_, err := Decode("config.yml", []byte("broadcast:\n  retries: 3\n"))
	require.Error(t, err)
}

func TestTokenFromEnv(t *testing.T) {
	t.Setenv(TokenEnv, " 999:env ")

	cfg, err := Decode("config.yaml", []byte("telegram:\n  owner_user_ids: [1]\n"))
	require.NoError(t, err)
	assert.Equal(t, "999:env", cfg.Telegram.Token)

	cfg, err = Decode("config.yaml", []byte("telegram:\n  token: file\n"))
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Telegram.Token, "file value wins over env")
}

func TestValidate(t *testing.T) {
	t.Setenv(TokenEnv, "")

	cfg, err := Decode("c.yaml", []byte("broadcast:\n  pacing: fast\n"))
	require.NoError(t, err)
	require.ErrorIs(t, Validate(cfg), ErrMissingToken)

	cfg.Telegram.Token = "t"
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast.pacing")

	cfg.Broadcast.Pacing = "100ms"
	cfg.Storage.Driver = "postgres"
	require.Error(t, Validate(cfg))

	cfg.Storage.Driver = "sqlite"
	require.NoError(t, Validate(cfg))
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "-1s", time.Second)
	require.Error(t, err)
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{}
	oldCfg.Telegram.Token = "secret-1"
	oldCfg.Broadcast.DailyAt = "09:00"

	newCfg := *oldCfg
	newCfg.Telegram.Token = "secret-2"
	newCfg.Broadcast.DailyAt = "10:00"
	newCfg.Content.Tips = []string{"tip"}

	changed, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	assert.Equal(t, []string{"broadcast", "content", "telegram"}, changed)
	assert.NotEmpty(t, attrs)

	changed, _ = SummarizeConfigChange(oldCfg, oldCfg)
	assert.Empty(t, changed)
}

func TestSubscribeKeepsLatest(t *testing.T) {
	m := NewConfigManager("unused.yaml")
	ch := m.Subscribe(1)

	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)

	select {
	case got := <-ch:
		assert.Same(t, b, got)
	default:
		t.Fatal("expected a pending config")
	}

	m.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestWatchPublishesChanges(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"scheduler:\n  timezone: UTC\n"), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestValidateDurationBounds(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "t"
	cfg.Broadcast.Pacing = "2m"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast.pacing")

	cfg.Broadcast.Pacing = "1m"
	require.NoError(t, Validate(cfg))
}

func TestReloadValidatesBeforePublishing(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleYAML)
	m := NewConfigManager(path)
	first, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "same content")

	m.SetValidator(func(context.Context, *Config) error { return errors.New("nope") })
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"scheduler:\n  timezone: UTC\n"), 0o600))
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	assert.Same(t, first, m.Get())

	m.SetValidator(nil)
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "UTC", (<-ch).Scheduler.Timezone)
}

func TestValidateCapsMaxAttempts(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "t"
	cfg.Broadcast.MaxAttempts = MaxBroadcastAttempts + 1

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast.max_attempts")

	cfg.Broadcast.MaxAttempts = MaxBroadcastAttempts
	require.NoError(t, Validate(cfg))
}

func TestLoadDotEnvFillsToken(t *testing.T) {
	t.Setenv(TokenEnv, "")
	require.NoError(t, os.Unsetenv(TokenEnv))
	path := writeFile(t, ".env", "# local secrets\nBOT_TOKEN=\"777:dotenv\"\n")

	require.NoError(t, LoadDotEnv(path))
	cfg, err := Decode("config.yaml", []byte("telegram:\n  owner_user_ids: [1]\n"))
	require.NoError(t, err)
	assert.Equal(t, "777:dotenv", cfg.Telegram.Token)

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
	require.NoError(t, LoadDotEnv(""))
}

func TestLoadDotEnvKeepsExistingEnv(t *testing.T) {
	t.Setenv(TokenEnv, "111:process")
	path := writeFile(t, ".env", "BOT_TOKEN=222:file\n")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "111:process", os.Getenv(TokenEnv))
}
