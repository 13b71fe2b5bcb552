package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"referbot/internal/eventbus"
	logx "referbot/pkg/logx"
)

func TestReportBuilderBuildIsImmutable(t *testing.T) {
	start := time.Unix(100, 0)
	b := NewReportBuilder(start, 2)
	b.Add(Outcome{Recipient: 1, Status: StatusDelivered})
	b.Add(Outcome{Recipient: 2, Status: StatusSkippedPermanentError, Reason: "chat not found"})

	rep := b.Build(start.Add(time.Second))
	b.Add(Outcome{Recipient: 3, Status: StatusSkippedPermanentError, Reason: "x"})

	assert.Equal(t, 2, rep.TotalTargeted)
	assert.Equal(t, 1, rep.TotalDelivered)
	assert.Equal(t, 1, rep.Failed())
	assert.Equal(t, time.Second, rep.Duration())
	assert.Len(t, rep.Failures, 1)
}

func TestStatusStrings(t *testing.T) {
	assert.Equal(t, "delivered", StatusDelivered.String())
	assert.Equal(t, "skipped_permanent_error", StatusSkippedPermanentError.String())
	assert.Equal(t, "transient_failure", AttemptTransient.String())
}

func TestEventSinkPublishes(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	rep := Report{RunID: "r1", TotalTargeted: 1, TotalDelivered: 1}
	Sinks{LogSink{Log: logx.Nop()}, EventSink{Bus: bus}}.Emit(context.Background(), rep)

	select {
	case ev := <-ch:
		assert.Equal(t, EventFinished, ev.Type)
		got, ok := ev.Data.(Report)
		require.True(t, ok)
		assert.Equal(t, "r1", got.RunID)
	default:
		t.Fatal("no event published")
	}
}
