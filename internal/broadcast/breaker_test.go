package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "referbot/internal/transport"
	logx "referbot/pkg/logx"
)

func TestBreakerTripsOnTransientFailures(t *testing.T) {
	tr := newScript()
	tr.always[1] = errTimeout
	b := NewBreakerTransport(tr, BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour}, logx.Nop())

	for i := 0; i < 2; i++ {
		_, err := b.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, "x", nil)
		require.ErrorIs(t, err, errTimeout)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.SendText(context.Background(), kit.ChatTarget{ChatID: 2}, "x", nil)
	require.Error(t, err)
	assert.Equal(t, kit.KindTransient, kit.KindOf(err))
	assert.Equal(t, ReasonBreakerOpen, kit.ReasonOf(err))
	assert.Equal(t, 2, len(tr.Calls()), "open breaker does not reach the transport")
}

func TestBreakerIgnoresPermanentFailures(t *testing.T) {
	tr := newScript()
	tr.always[1] = errBlocked
	b := NewBreakerTransport(tr, BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}, logx.Nop())

	for i := 0; i < 3; i++ {
		_, err := b.SendText(context.Background(), kit.ChatTarget{ChatID: 1}, "x", nil)
		assert.Equal(t, kit.KindPermanent, kit.KindOf(err))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())

	ref, err := b.SendText(context.Background(), kit.ChatTarget{ChatID: 9}, "x", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 9, ref.ChatID)
}
