package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "referbot/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
		cron     string
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@daily", kind: SpecCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 9 * * *", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every:00:30", kind: SpecInterval, source: "hhmm", duration: 30 * time.Minute},
		{name: "long hhmm interval", raw: "EVERY:36:00", kind: SpecInterval, source: "hhmm", duration: 36 * time.Hour},
		{name: "daily time", raw: "09:05", kind: SpecCron, source: "daily", cron: "5 9 * * *"},
		{name: "short daily time", raw: "00:50", kind: SpecCron, source: "daily", cron: "50 0 * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.source, got.Source)
			if tt.kind == SpecInterval {
				assert.Equal(t, tt.duration, got.Every)
			}
			if tt.cron != "" {
				assert.Equal(t, tt.cron, got.Cron)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "every:00:00", "-5m", "24:00", "every:01:75", "cron:"} {
		_, err := ParseSchedule(raw)
		assert.ErrorIs(t, err, ErrInvalidSchedule, raw)
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := parseHHMM("23:15")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 15, m)

	for _, bad := range []string{"24:00", "9", "12:60", "ab:cd"} {
		_, _, err := parseHHMM(bad)
		assert.Error(t, err, bad)
	}
	assert.NoError(t, ValidateDaily("09:00"))
}

func TestAddDailyNextInTimezone(t *testing.T) {
	s := New(Config{Enabled: true, Timezone: "UTC"}, logx.Nop())
	require.NoError(t, s.AddDaily("tips", "09:30", func(context.Context) {}))

	next, ok := s.Next("tips")
	require.True(t, ok)
	assert.Equal(t, time.UTC, next.Location())
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.True(t, next.After(time.Now()))

	require.Error(t, s.AddDaily("bad", "25:00", func(context.Context) {}))
	_, ok = s.Next("bad")
	assert.False(t, ok)
}

func TestAddIsUpsertAndRemove(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())
	job := func(context.Context) {}

	require.NoError(t, s.AddDaily("b", "09:00", job))
	require.NoError(t, s.AddSchedule("b", "@every 1h", job))
	snap := s.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "@every 1h", snap[0].Spec)

	require.NoError(t, s.AddSchedule("c", "90m", job))
	snap = s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "@every 1h30m0s", snap[1].Spec)
	assert.True(t, s.Remove("c"))

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Empty(t, s.Snapshot())

	require.Error(t, s.AddSchedule("", "1h", job))
	require.Error(t, s.AddSchedule("x", "61 * * * *", job))
}

func TestScheduledJobRunsAndStopCancels(t *testing.T) {
	s := New(Config{Enabled: true}, logx.Nop())

	var runs atomic.Int32
	cancelled := make(chan struct{})
	require.NoError(t, s.AddSchedule("tick", "@every 1s", func(ctx context.Context) {
		if runs.Add(1) == 1 {
			<-ctx.Done()
			close(cancelled)
		}
	}))
	// Skip the startup spread so the test does not wait up to 30s.
	s.mu.Lock()
	s.defs[0].every = 0
	s.mu.Unlock()

	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 20*time.Millisecond)

	// The first run blocks; later ticks are skipped instead of overlapping.
	time.Sleep(1500 * time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	select {
	case <-cancelled:
	default:
		t.Fatal("job context was not cancelled on Stop")
	}
}

func TestDisabledSchedulerDoesNotArm(t *testing.T) {
	s := New(Config{Enabled: false}, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	require.NoError(t, s.AddDaily("b", "09:00", func(context.Context) {}))
	s.mu.Lock()
	armed := s.c != nil
	s.mu.Unlock()
	assert.False(t, armed)

	s.Apply(Config{Enabled: true})
	s.mu.Lock()
	armed = s.c != nil && s.defs[0].entryID != 0
	s.mu.Unlock()
	assert.True(t, armed)
}

func TestSpreadIntervalDelaysFirstRunOnly(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := spreadInterval(time.Minute, now)

	first := sched.Next(now)
	assert.False(t, first.Before(now.Add(time.Minute)))
	assert.True(t, first.Before(now.Add(time.Minute+maxStartupSpread)))

	after := first.Add(time.Second)
	assert.Equal(t, after.Add(time.Minute).Truncate(time.Second), sched.Next(after))
}
