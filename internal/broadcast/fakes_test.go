package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	kit "referbot/internal/transport"
)

var (
	errTimeout = kit.Transient(errors.New("i/o timeout"), "network timeout")
	errBlocked = kit.Permanent(errors.New("telegram: bot was blocked by the user (403)"), "blocked by user")
)

// scriptTransport returns scripted errors per recipient; once a script runs
// out the send succeeds.
type scriptTransport struct {
	mu      sync.Mutex
	scripts map[int64][]error
	always  map[int64]error
	calls   []int64
	onSend  func(chatID int64)
}

func newScript() *scriptTransport {
	return &scriptTransport{scripts: map[int64][]error{}, always: map[int64]error{}}
}

func (t *scriptTransport) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	t.mu.Lock()
	t.calls = append(t.calls, to.ChatID)
	hook := t.onSend
	var err error
	if e, ok := t.always[to.ChatID]; ok {
		err = e
	} else if q := t.scripts[to.ChatID]; len(q) > 0 {
		err = q[0]
		t.scripts[to.ChatID] = q[1:]
	}
	t.mu.Unlock()

	if hook != nil {
		hook(to.ChatID)
	}
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (t *scriptTransport) Calls() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.calls...)
}

func (t *scriptTransport) CallsFor(id int64) int {
	n := 0
	for _, c := range t.Calls() {
		if c == id {
			n++
		}
	}
	return n
}

// recordingClock never blocks; it records every requested sleep and
// advances its own time by that amount.
type recordingClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newClock() *recordingClock {
	return &recordingClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *recordingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *recordingClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func staticSource(ids ...int64) RecipientSource {
	return SourceFunc(func(context.Context) ([]Recipient, error) {
		out := make([]Recipient, len(ids))
		for i, id := range ids {
			out[i] = Recipient(id)
		}
		return out, nil
	})
}

var testPolicy = Policy{MaxAttempts: 3, BaseDelay: time.Second, Pacing: 100 * time.Millisecond}
