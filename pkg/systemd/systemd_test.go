package systemd

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"

	logx "referbot/pkg/logx"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestStateNotifications(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := &Notifier{log: logx.Nop(), notify: rec.notify}
	n.Ready()
	n.Reloading()
	n.Stopping()
	assert.Equal(t, []string{daemon.SdNotifyReady, daemon.SdNotifyReloading, daemon.SdNotifyStopping}, rec.states)
}

func TestWatchdogPings(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := &Notifier{log: logx.Nop(), notify: rec.notify, watchdog: func() (time.Duration, error) { return 20 * time.Millisecond, nil }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Watchdog(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return rec.count(daemon.SdNotifyWatchdog) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestWatchdogDisabled(t *testing.T) {
	t.Parallel()
	n := &Notifier{log: logx.Nop(), watchdog: func() (time.Duration, error) { return 0, nil }}
	done := make(chan struct{})
	go func() {
		n.Watchdog(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog should return when disabled")
	}
}
