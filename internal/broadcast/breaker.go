package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	kit "referbot/internal/transport"
	logx "referbot/pkg/logx"
)

const ReasonBreakerOpen = "circuit breaker open"

type BreakerConfig struct {
	Enabled          bool
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
}

// BreakerTransport trips after consecutive transient failures (API outage)
// and fails fast while open. Permanent failures are per-recipient and count
// as healthy responses.
type BreakerTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerTransport(next Transport, cfg BreakerConfig, log logx.Logger) *BreakerTransport {
	if cfg.Name == "" {
		cfg.Name = "telegram.send"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	threshold := uint32(cfg.FailureThreshold)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || kit.KindOf(err) == kit.KindPermanent
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logx.String("breaker", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()))
		},
	})
	return &BreakerTransport{next: next, cb: cb}
}

func (b *BreakerTransport) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.SendText(ctx, to, text, opt)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return kit.MessageRef{}, kit.Transient(err, ReasonBreakerOpen)
	}
	ref, _ := v.(kit.MessageRef)
	return ref, err
}

func (b *BreakerTransport) State() gobreaker.State { return b.cb.State() }
