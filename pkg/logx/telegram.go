package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "referbot/internal/transport"
)

const (
	telegramQueueSize = 64
	telegramMaxLen    = 3500
	telegramMaxValue  = 300
)

// Events from the transport itself never go to the log chat: a failing send
// path would otherwise log about every failed log line.
var telegramMutedComps = []string{"telegram", "logx"}

type telegramSink struct {
	sender kit.Adapter
	queue  chan string

	chatID     atomic.Int64
	suppressed atomic.Uint64

	mu       sync.Mutex
	minLevel zerolog.Level
	limiter  *rate.Limiter
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func newTelegramSink(sender kit.Adapter) *telegramSink {
	return &telegramSink{sender: sender, queue: make(chan string, telegramQueueSize), minLevel: zerolog.WarnLevel}
}

func (t *telegramSink) setTarget(chatID int64) { t.chatID.Store(chatID) }
func (t *telegramSink) target() int64          { return t.chatID.Load() }

func (t *telegramSink) configure(min zerolog.Level, perSec int) {
	perSec = max(1, perSec)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minLevel = min
	t.limiter = rate.NewLimiter(rate.Limit(perSec), perSec)
	if t.started || t.sender == nil {
		return
	}
	t.started = true
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel, t.done = cancel, make(chan struct{})
	go t.run(ctx)
}

func (t *telegramSink) close() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (t *telegramSink) run(ctx context.Context) {
	defer close(t.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			chatID := t.target()
			if chatID == 0 {
				continue
			}
			// send errors are dropped on purpose: logging them would loop back here
			_, _ = t.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

// WriteLevel never blocks the caller. Lines over the rate limit or a full
// queue are counted and reported with the next line that gets through.
func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	min, lim := t.minLevel, t.limiter
	t.mu.Unlock()

	if t.target() == 0 || t.sender == nil || lim == nil || level < min {
		return len(p), nil
	}
	text, ok := formatTelegramEvent(p)
	if !ok {
		return len(p), nil
	}
	if !lim.Allow() {
		t.suppressed.Add(1)
		return len(p), nil
	}
	if n := t.suppressed.Swap(0); n > 0 {
		text += fmt.Sprintf("\n<i>(+%d suppressed)</i>", n)
	}
	select {
	case t.queue <- text:
	default:
		t.suppressed.Add(1)
	}
	return len(p), nil
}

// formatTelegramEvent renders one JSON event as HTML:
//
//	<b>WARN</b> [broadcast] run finished
//	failed=2
//
// ok is false for events from muted components.
func formatTelegramEvent(p []byte) (string, bool) {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return html.EscapeString(clip(raw, telegramMaxLen)), true
	}
	comp, _ := m["comp"].(string)
	for _, muted := range telegramMutedComps {
		if comp == muted || strings.HasPrefix(comp, muted+".") {
			return "", false
		}
	}

	var b strings.Builder
	if lvl, _ := m[zerolog.LevelFieldName].(string); lvl != "" {
		b.WriteString("<b>" + strings.ToUpper(lvl) + "</b> ")
	}
	if comp != "" {
		b.WriteString("[" + html.EscapeString(comp) + "] ")
	}
	msg, _ := m[zerolog.MessageFieldName].(string)
	b.WriteString(html.EscapeString(clip(msg, telegramMaxValue*3)))

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName, "comp":
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for i, k := range keys {
		if b.Len() > telegramMaxLen {
			fmt.Fprintf(&b, "\n<i>(+%d fields)</i>", len(keys)-i)
			break
		}
		fmt.Fprintf(&b, "\n%s=<code>%s</code>", html.EscapeString(k), html.EscapeString(clip(fmt.Sprint(m[k]), telegramMaxValue)))
	}
	return b.String(), true
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
