package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "referbot/internal/transport"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, zerolog.WarnLevel, parseLevel(" WARNING ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.DebugLevel, parseLevel("debug", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("nonsense", zerolog.InfoLevel))
}

func TestLoggerWritesFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("n", 3), Err(errors.New("boom")), Err(nil))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "hello", m["message"])
	assert.Equal(t, "test", m["comp"])
	assert.Equal(t, "boom", m["err"])
	assert.EqualValues(t, 3, m["n"])
	assert.True(t, strings.HasPrefix(m[zerolog.CallerFieldName].(string), "logging_test.go:"))
}

func TestWithDoesNotShareFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	base := NewWriter(&buf, "debug").With(String("a", "1"))
	_ = base.With(String("b", "2"))
	base.With(String("c", "3")).Info("x")

	assert.NotContains(t, buf.String(), `"b"`)
	assert.Contains(t, buf.String(), `"c":"3"`)
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var l Logger
	assert.True(t, l.IsZero())
	l.Error("dropped")
	assert.False(t, Nop().IsZero())
}

func TestFormatTelegramEvent(t *testing.T) {
	t.Parallel()
	out, ok := formatTelegramEvent([]byte(`{"level":"warn","comp":"broadcast","message":"run <done>","failed":2,"caller":"x.go:1"}`))
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(out, "<b>WARN</b> [broadcast] run &lt;done&gt;"))
	assert.Contains(t, out, "failed=<code>2</code>")
	assert.NotContains(t, out, "caller")

	out, ok = formatTelegramEvent([]byte("plain line\n"))
	require.True(t, ok)
	assert.Equal(t, "plain line", out)

	_, ok = formatTelegramEvent([]byte(`{"level":"error","comp":"telegram","message":"send failed"}`))
	assert.False(t, ok)
}

type captureAdapter struct {
	kit.Adapter
	sent chan string
}

func (c *captureAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	c.sent <- text
	return kit.MessageRef{}, nil
}

func TestTelegramSinkFiltersByLevel(t *testing.T) {
	ad := &captureAdapter{sent: make(chan string, 4)}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, MinLevel: "error", RatePerSec: 10}}, ad)
	defer svc.Close()
	svc.SetTelegramTarget(-100)

	log.Warn("not forwarded")
	log.Error("forwarded", String("comp", "broadcast"))

	select {
	case text := <-ad.sent:
		assert.Contains(t, text, "forwarded")
		assert.NotContains(t, text, "not forwarded")
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent to the log chat")
	}
}

func TestRotatingFileDefaults(t *testing.T) {
	t.Parallel()
	f := rotatingFile(FileConfig{Enabled: true})
	assert.Equal(t, "./bot.log", f.Filename)
	assert.Equal(t, 5, f.MaxSize)
	assert.Equal(t, 2, f.MaxBackups)
}
