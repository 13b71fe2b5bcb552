package broadcast

import (
	"context"
	"math"
	"time"

	kit "referbot/internal/transport"
)

// Transport is the single-recipient send primitive. Failures must carry a
// transport.SendError kind; anything else is treated as permanent.
type Transport interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Policy bounds retries and shapes throughput for one recipient.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Pacing      time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Pacing: 100 * time.Millisecond}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Pacing < 0 {
		p.Pacing = 0
	}
	return p
}

// Backoff returns the delay after the failed attempt with 0-based index i.
// It saturates at the largest Duration instead of overflowing.
func (p Policy) Backoff(i int) time.Duration {
	if i < 0 {
		i = 0
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	if i >= 63 || p.BaseDelay > time.Duration(math.MaxInt64>>uint(i)) {
		return time.Duration(math.MaxInt64)
	}
	return p.BaseDelay << uint(i)
}

// Sender delivers to one recipient at a time.
type Sender struct {
	tr      Transport
	clock   Clock
	policy  Policy
	observe AttemptObserver
}

type SenderOption func(*Sender)

func WithClock(c Clock) SenderOption {
	return func(s *Sender) {
		if c != nil {
			s.clock = c
		}
	}
}

func WithAttemptObserver(fn AttemptObserver) SenderOption {
	return func(s *Sender) { s.observe = fn }
}

func NewSender(tr Transport, p Policy, opts ...SenderOption) *Sender {
	s := &Sender{tr: tr, clock: RealClock(), policy: p.normalized()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Sender) Policy() Policy { return s.policy }

// Send attempts delivery to r up to Policy.MaxAttempts times.
//
// Success returns immediately after the pacing delay. A permanent failure
// returns at once without pacing. Transient failures back off by
// BaseDelay*2^i between attempts; there is no delay after the last one.
func (s *Sender) Send(ctx context.Context, r Recipient, msg Message) Outcome {
	p := s.policy
	out := Outcome{Recipient: r, Status: StatusSkippedPermanentError}
	to := kit.ChatTarget{ChatID: int64(r)}

	for i := 0; i < p.MaxAttempts; i++ {
		out.Attempts = i + 1
		a := Attempt{Recipient: r, Number: i + 1}

		_, err := s.tr.SendText(ctx, to, msg.Text, msg.Options)
		if err == nil {
			a.Result = AttemptSuccess
			s.emit(a)
			out.Status = StatusDelivered
			// Pacing is best effort; the message is already out.
			_ = s.clock.Sleep(ctx, p.Pacing)
			return out
		}

		a.Err = err
		if kit.KindOf(err) != kit.KindTransient {
			a.Result = AttemptPermanent
			s.emit(a)
			out.Reason = kit.ReasonOf(err)
			return out
		}

		a.Result = AttemptTransient
		last := i == p.MaxAttempts-1
		if !last {
			a.DelayBeforeNext = p.Backoff(i)
		}
		s.emit(a)
		if last {
			break
		}
		if err := s.clock.Sleep(ctx, a.DelayBeforeNext); err != nil {
			out.Reason = ReasonCancelled
			return out
		}
	}

	out.Reason = ReasonRetriesExhausted
	return out
}

func (s *Sender) emit(a Attempt) {
	if s.observe != nil {
		s.observe(a)
	}
}
