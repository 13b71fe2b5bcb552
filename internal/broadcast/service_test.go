package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "referbot/internal/transport"
	logx "referbot/pkg/logx"
)

type fakeScheduler struct {
	mu      sync.Mutex
	daily   map[string]string
	specs   map[string]string
	jobs    map[string]func(ctx context.Context)
	removed []string
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{daily: map[string]string{}, specs: map[string]string{}, jobs: map[string]func(context.Context){}}
}

func (f *fakeScheduler) AddDaily(name, at string, job func(ctx context.Context)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.specs, name)
	f.daily[name], f.jobs[name] = at, job
	return nil
}

func (f *fakeScheduler) AddSchedule(name, spec string, job func(ctx context.Context)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.daily, name)
	f.specs[name], f.jobs[name] = spec, job
	return nil
}

func (f *fakeScheduler) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	delete(f.daily, name)
	delete(f.specs, name)
	f.removed = append(f.removed, name)
	return ok
}

func (f *fakeScheduler) job(name string) func(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[name]
}

// gateTransport blocks every send until release is closed.
type gateTransport struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate() *gateTransport {
	return &gateTransport{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateTransport) SendText(_ context.Context, to kit.ChatTarget, _ string, _ *kit.SendOptions) (kit.MessageRef, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func newTestService(t *testing.T, cfg Config, tr Transport, src RecipientSource, sinks ...ReportSink) (*Service, *fakeScheduler) {
	t.Helper()
	sch := newFakeScheduler()
	s := New(cfg, Deps{
		Transport: tr,
		Source:    src,
		Compose:   func() Message { return Message{Text: "daily tip"} },
		Scheduler: sch,
		Sinks:     sinks,
		Clock:     newClock(),
		Log:       logx.Nop(),
	})
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, sch
}

func TestServiceSchedulesDailyAndReschedules(t *testing.T) {
	s, sch := newTestService(t, Config{Enabled: true, Policy: testPolicy}, newScript(), staticSource())

	assert.Equal(t, "09:00", sch.daily[JobName])

	s.Apply(Config{Enabled: true, Schedule: "@every 1h", Policy: testPolicy})
	assert.Equal(t, "@every 1h", sch.specs[JobName])
	assert.Empty(t, sch.daily)

	s.Apply(Config{Enabled: false, Policy: testPolicy})
	assert.Nil(t, sch.job(JobName))
}

func TestServiceRunNowEmitsReport(t *testing.T) {
	var got []Report
	sink := SinkFunc(func(_ context.Context, r Report) { got = append(got, r) })
	tr := newScript()
	tr.always[2] = errBlocked

	s, _ := newTestService(t, Config{Enabled: true, Policy: testPolicy}, tr, staticSource(1, 2, 3), sink)

	rep, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 2, rep.TotalDelivered)
	require.Len(t, got, 1)
	assert.Equal(t, rep.RunID, got[0].RunID)

	last, ok := s.LastReport()
	require.True(t, ok)
	assert.Equal(t, rep.RunID, last.RunID)
}

func TestServiceSkipsOverlappingRuns(t *testing.T) {
	gate := newGate()
	s, sch := newTestService(t, Config{Enabled: true, Policy: testPolicy}, gate, staticSource(1))

	done := make(chan Report, 1)
	_, err := s.Trigger(func(r Report) { done <- r })
	require.NoError(t, err)
	<-gate.entered
	assert.True(t, s.Running())

	_, err = s.RunNow(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = s.Trigger(nil)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// The scheduled job returns immediately while a run is in flight.
	sch.job(JobName)(context.Background())

	close(gate.release)
	select {
	case rep := <-done:
		assert.Equal(t, 1, rep.TotalDelivered)
	case <-time.After(2 * time.Second):
		t.Fatal("triggered run did not finish")
	}
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)
}

func TestServiceDisabledAndNotStarted(t *testing.T) {
	s := New(Config{Enabled: false}, Deps{})
	_, err := s.RunNow(context.Background())
	require.ErrorIs(t, err, ErrDisabled)

	s = New(Config{Enabled: true}, Deps{})
	_, err = s.RunNow(context.Background())
	require.ErrorIs(t, err, ErrNotStarted)
	_, err = s.Trigger(nil)
	require.ErrorIs(t, err, ErrNotStarted)
	assert.False(t, s.Running())
}

func TestServiceStopCancelsRemainingRecipients(t *testing.T) {
	gate := newGate()
	s, sch := newTestService(t, Config{Enabled: true, Policy: testPolicy}, gate, staticSource(1, 2, 3))

	done := make(chan Report, 1)
	_, err := s.Trigger(func(r Report) { done <- r })
	require.NoError(t, err)
	<-gate.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(stopped)
	}()
	// Stop cancels the run, then unregisters the trigger, then waits.
	require.Eventually(t, func() bool { return sch.job(JobName) == nil }, time.Second, 5*time.Millisecond)
	close(gate.release)

	rep := <-done
	<-stopped
	assert.Equal(t, 3, rep.TotalTargeted)
	assert.Equal(t, 1, rep.TotalDelivered)
	assert.Equal(t, []Failure{{Recipient: 2, Reason: ReasonCancelled}, {Recipient: 3, Reason: ReasonCancelled}}, rep.Failures)
}

func TestServiceBreakerWrapsTransport(t *testing.T) {
	tr := newScript()
	tr.always[1] = errTimeout
	cfg := Config{
		Enabled: true,
		Policy:  Policy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		Breaker: BreakerConfig{Enabled: true, FailureThreshold: 2, ResetTimeout: time.Hour},
	}
	s, _ := newTestService(t, cfg, tr, staticSource(1, 2))

	rep, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, rep.TotalDelivered)
	assert.Equal(t, 2, tr.CallsFor(1), "third attempt short-circuited by the open breaker")
	assert.Zero(t, tr.CallsFor(2))
	require.Len(t, rep.Failures, 2)
	assert.Equal(t, ReasonRetriesExhausted, rep.Failures[1].Reason)
}

func TestServiceTriggerRecoversPanickingRun(t *testing.T) {
	var calls atomic.Int32
	s := New(Config{Enabled: true, Policy: testPolicy}, Deps{
		Transport: newScript(),
		Source:    staticSource(1),
		Compose: func() Message {
			if calls.Add(1) == 1 {
				panic("bad template")
			}
			return Message{Text: "daily tip"}
		},
		Clock: newClock(),
		Log:   logx.Nop(),
	})
	s.Start(context.Background())
	t.Cleanup(func() { s.Stop(context.Background()) })

	_, err := s.Trigger(func(Report) { t.Error("report from a panicked run") })
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !s.Running() }, time.Second, 5*time.Millisecond)

	done := make(chan Report, 1)
	_, err = s.Trigger(func(r Report) { done <- r })
	require.NoError(t, err)
	select {
	case rep := <-done:
		assert.Equal(t, 1, rep.TotalDelivered)
	case <-time.After(2 * time.Second):
		t.Fatal("second run did not finish")
	}
}
