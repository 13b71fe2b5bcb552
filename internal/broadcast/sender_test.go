package broadcast

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderPermanentFailureIsAttemptedOnce(t *testing.T) {
	tr := newScript()
	tr.always[1] = errBlocked
	clock := newClock()

	out := NewSender(tr, testPolicy, WithClock(clock)).Send(context.Background(), 1, Message{Text: "hi"})

	assert.Equal(t, StatusSkippedPermanentError, out.Status)
	assert.Equal(t, "blocked by user", out.Reason)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, tr.CallsFor(1))
	assert.Empty(t, clock.Sleeps(), "no backoff and no pacing after a permanent failure")
}

func TestSenderRecoversAfterTwoTransientFailures(t *testing.T) {
	tr := newScript()
	tr.scripts[1] = []error{errTimeout, errTimeout}
	clock := newClock()

	out := NewSender(tr, testPolicy, WithClock(clock)).Send(context.Background(), 1, Message{Text: "hi"})

	assert.Equal(t, StatusDelivered, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Empty(t, out.Reason)

	sleeps := clock.Sleeps()
	require.Len(t, sleeps, 3)
	assert.Equal(t, time.Second, sleeps[0])
	assert.Equal(t, 2*sleeps[0], sleeps[1], "backoff doubles")
	assert.Equal(t, testPolicy.Pacing, sleeps[2], "pacing after the successful send")
}

func TestSenderGivesUpAfterMaxAttempts(t *testing.T) {
	tr := newScript()
	tr.always[1] = errTimeout
	clock := newClock()

	out := NewSender(tr, testPolicy, WithClock(clock)).Send(context.Background(), 1, Message{})

	assert.Equal(t, StatusSkippedPermanentError, out.Status)
	assert.Equal(t, ReasonRetriesExhausted, out.Reason)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, tr.CallsFor(1))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps(), "no delay after the last attempt")
}

func TestSenderTreatsUnclassifiedErrorsAsPermanent(t *testing.T) {
	tr := newScript()
	tr.always[1] = errors.New("boom")
	clock := newClock()

	out := NewSender(tr, testPolicy, WithClock(clock)).Send(context.Background(), 1, Message{})

	assert.Equal(t, StatusSkippedPermanentError, out.Status)
	assert.Equal(t, "boom", out.Reason)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, clock.Sleeps())
}

func TestSenderPacesEverySuccess(t *testing.T) {
	tr := newScript()
	clock := newClock()
	s := NewSender(tr, testPolicy, WithClock(clock))

	for i := int64(1); i <= 3; i++ {
		require.Equal(t, StatusDelivered, s.Send(context.Background(), Recipient(i), Message{}).Status)
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond}, clock.Sleeps())
}

func TestSenderObserverSeesEveryAttempt(t *testing.T) {
	tr := newScript()
	tr.scripts[5] = []error{errTimeout}
	var seen []Attempt

	out := NewSender(tr, testPolicy,
		WithClock(newClock()),
		WithAttemptObserver(func(a Attempt) { seen = append(seen, a) }),
	).Send(context.Background(), 5, Message{})

	require.Equal(t, StatusDelivered, out.Status)
	require.Len(t, seen, 2)
	assert.Equal(t, Attempt{Recipient: 5, Number: 1, Result: AttemptTransient, DelayBeforeNext: time.Second, Err: errTimeout}, seen[0])
	assert.Equal(t, Attempt{Recipient: 5, Number: 2, Result: AttemptSuccess}, seen[1])
}

func TestSenderStopsBackoffWhenContextDone(t *testing.T) {
	tr := newScript()
	tr.always[1] = errTimeout
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := NewSender(tr, testPolicy, WithClock(newClock())).Send(ctx, 1, Message{})

	assert.Equal(t, StatusSkippedPermanentError, out.Status)
	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.Equal(t, 1, out.Attempts)
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.normalized()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Zero(t, p.BaseDelay)

	p = Policy{MaxAttempts: 5, BaseDelay: 250 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, p.Backoff(0))
	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 4*time.Second, p.Backoff(4))
}

func TestBackoffSaturates(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 40, BaseDelay: time.Second}
	prev := time.Duration(0)
	for i := range 70 {
		d := p.Backoff(i)
		require.Positive(t, d, "attempt %d", i)
		require.GreaterOrEqual(t, d, prev, "attempt %d", i)
		prev = d
	}
	assert.Equal(t, time.Duration(math.MaxInt64), p.Backoff(34))
	assert.Zero(t, Policy{}.Backoff(5))
}
